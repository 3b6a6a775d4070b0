// internal/scheduler/scheduler_test.go
package scheduler

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/soulsync/internal/state"
)

func newStore(t *testing.T, checkIns ...*state.CheckIn) *state.CheckInStore {
	t.Helper()
	store := state.NewCheckInStore(filepath.Join(t.TempDir(), "checkins.json"))
	for _, c := range checkIns {
		if err := store.Add(c); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func waitFor(t *testing.T, counter *atomic.Int32, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("callback did not fire within %s", within)
		case <-ticker.C:
			if counter.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerFiresCheckIn(t *testing.T) {
	store := newStore(t, &state.CheckIn{
		Name:       "every-second",
		Message:    "How are you feeling right now?",
		Schedule:   "* * * * * *",
		SessionKey: "telegram:123:123",
		Enabled:    true,
	})

	var fires atomic.Int32
	var got atomic.Value
	sched := New(store, func(c *state.CheckIn) {
		got.Store(c.Message)
		fires.Add(1)
	})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	waitFor(t, &fires, 2500*time.Millisecond)
	if msg, _ := got.Load().(string); msg != "How are you feeling right now?" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestSchedulerSkipsDisabledAndUnscheduled(t *testing.T) {
	store := newStore(t,
		&state.CheckIn{Name: "disabled", Message: "no", Schedule: "* * * * * *", SessionKey: "telegram:1", Enabled: false},
		&state.CheckIn{Name: "on-demand", Message: "manual only", SessionKey: "telegram:1", Enabled: true},
		&state.CheckIn{Name: "broken", Message: "bad", Schedule: "not a schedule", SessionKey: "telegram:1", Enabled: true},
	)

	var fires atomic.Int32
	sched := New(store, func(*state.CheckIn) { fires.Add(1) })
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(2 * time.Second)

	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires, got %d", n)
	}
}

func TestSchedulerReaper(t *testing.T) {
	var reaps atomic.Int32
	sched := New(newStore(t), func(*state.CheckIn) {}, WithReaper("@every 1s", func() { reaps.Add(1) }))
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	waitFor(t, &reaps, 2500*time.Millisecond)
}

func TestSchedulerInvalidReaper(t *testing.T) {
	sched := New(newStore(t), func(*state.CheckIn) {}, WithReaper("sometimes", func() {}))
	if err := sched.Start(); err == nil {
		t.Fatal("expected error for invalid reaper schedule")
	}
}

func TestSchedulerFire(t *testing.T) {
	store := newStore(t,
		&state.CheckIn{Name: "evening", Message: "Time to reflect", Schedule: "0 20 * * *", SessionKey: "cli", Enabled: true},
		&state.CheckIn{Name: "off", Message: "x", SessionKey: "cli"},
	)

	var fired *state.CheckIn
	sched := New(store, func(c *state.CheckIn) { fired = c })

	if err := sched.Fire("evening"); err != nil {
		t.Fatal(err)
	}
	if fired == nil || fired.Message != "Time to reflect" {
		t.Errorf("unexpected fired check-in %+v", fired)
	}
	if err := sched.Fire("off"); err == nil {
		t.Error("expected error for disabled check-in")
	}
	if err := sched.Fire("missing"); err == nil {
		t.Error("expected error for unknown check-in")
	}
}

func TestValidate(t *testing.T) {
	for _, spec := range []string{"@every 5m", "0 9 * * *", "*/10 * * * * *"} {
		if err := Validate(spec); err != nil {
			t.Errorf("%q: %v", spec, err)
		}
	}
	if err := Validate("whenever"); err == nil {
		t.Error("expected error for invalid spec")
	}
}
