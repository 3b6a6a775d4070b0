package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/user/soulsync/internal/types"
)

const laneDepth = 64

var (
	ErrQueueStopped = errors.New("queue is not running")
	ErrLaneFull     = errors.New("too many pending runs")
)

// Processor executes one Run.
type Processor func(*Run) (Result, error)

// Queue runs work in per-key lanes. Runs sharing a session key execute one
// at a time in arrival order; a weighted semaphore bounds how many lanes
// execute at once. A lane's goroutine exits as soon as its buffer drains.
type Queue struct {
	process Processor
	slots   *semaphore.Weighted

	mu    sync.Mutex
	lanes map[types.SessionKey]chan *Run
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

func NewQueue(maxConcurrent int64, process Processor) *Queue {
	return &Queue{
		process: process,
		slots:   semaphore.NewWeighted(maxConcurrent),
		lanes:   make(map[types.SessionKey]chan *Run),
	}
}

// Start must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.stop = context.WithCancel(ctx)
}

// Stop rejects new runs, fails every queued run with ErrQueueStopped and
// waits for executing runs to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stop != nil {
		q.stop()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends run to its key's lane, starting the lane if idle.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return ErrQueueStopped
	}
	lane, ok := q.lanes[run.SessionKey]
	if !ok {
		lane = make(chan *Run, laneDepth)
		q.lanes[run.SessionKey] = lane
		q.wg.Add(1)
		go q.drain(run.SessionKey, lane)
	}
	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("%w for %s", ErrLaneFull, run.SessionKey)
	}
}

func (q *Queue) drain(key types.SessionKey, lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run := <-lane:
			q.execute(run)
			continue
		default:
		}

		// Enqueue sends while holding q.mu, so an empty lane observed under
		// the lock stays empty once it is unmapped.
		q.mu.Lock()
		if len(lane) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}
}

func (q *Queue) execute(run *Run) {
	if q.ctx.Err() != nil || q.slots.Acquire(q.ctx, 1) != nil {
		run.complete(Result{Err: ErrQueueStopped})
		return
	}
	defer q.slots.Release(1)

	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning
	run.Attempts++
	if run.Ctx == nil {
		run.Ctx = q.ctx
	}

	res, err := q.process(run)
	if err != nil {
		log.Error().Err(err).
			Str("run_id", string(run.ID)).
			Str("kind", string(run.Kind)).
			Str("session_key", string(run.SessionKey)).
			Dur("took", time.Since(now)).
			Msg("run failed")
		res.Err = err
	}
	run.complete(res)
}
