// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/user/soulsync/internal/types"
)

const maxEventLine = 1 << 20

// EventStore journals session events as JSON lines, one file per session
// under sessions/<id>/events.jsonl. Sequence numbers start at 1 and are
// gap-free within a session.
type EventStore struct {
	root string
	logs sync.Map // types.SessionID -> *eventLog
}

type eventLog struct {
	mu   sync.Mutex
	path string
	seq  int64 // last written sequence, -1 until read from disk
}

func NewEventStore(root string) *EventStore {
	return &EventStore{root: root}
}

func (e *EventStore) log(id types.SessionID) *eventLog {
	if l, ok := e.logs.Load(id); ok {
		return l.(*eventLog)
	}
	l, _ := e.logs.LoadOrStore(id, &eventLog{
		path: filepath.Join(e.root, "sessions", string(id), "events.jsonl"),
		seq:  -1,
	})
	return l.(*eventLog)
}

// scan calls fn for every line of the journal. A missing file has no lines.
func (l *eventLog) scan(fn func(line []byte) error) error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}

// lastSeq must be called with l.mu held.
func (l *eventLog) lastSeq() (int64, error) {
	if l.seq >= 0 {
		return l.seq, nil
	}
	var n int64
	if err := l.scan(func([]byte) error { n++; return nil }); err != nil {
		return 0, err
	}
	l.seq = n
	return n, nil
}

// Append assigns the next sequence number (plus an ID and timestamp when
// unset) and writes the event.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	if event.SessionID == "" {
		return errors.New("append event: empty session id")
	}
	l := e.log(event.SessionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.lastSeq()
	if err != nil {
		return err
	}
	event.Seq = seq + 1
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	_, werr := f.Write(append(line, '\n'))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		// The file may hold a partial line now; recount next time.
		l.seq = -1
		return fmt.Errorf("write event: %w", werr)
	}
	l.seq = event.Seq
	return nil
}

// Tail returns the newest limit events in sequence order, or every event
// when limit <= 0. An unknown session yields nil.
func (e *EventStore) Tail(_ context.Context, id types.SessionID, limit int) ([]*types.Event, error) {
	l := e.log(id)
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*types.Event
	err := l.scan(func(line []byte) error {
		ev := new(types.Event)
		if err := json.Unmarshal(line, ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if limit > 0 && len(out) == limit {
			out = append(out[1:], ev)
			return nil
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many events the session has journaled.
func (e *EventStore) Count(_ context.Context, id types.SessionID) (int64, error) {
	l := e.log(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq()
}
