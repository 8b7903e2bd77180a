package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"quotebot/internal/eventbus"
	logx "quotebot/pkg/logx"
)

func newTestService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(logx.Nop(), bus, Options{Workers: 2, QueueSize: 16, ActionTimeout: 5 * time.Second})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFrequencyInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count   int
		want    time.Duration
		wantErr bool
	}{
		{1, 24 * time.Hour, false},
		{2, 12 * time.Hour, false},
		{3, 8 * time.Hour, false},
		{24, time.Hour, false},
		{0, 0, true},
		{-1, 0, true},
		{25, 0, true},
	}
	for _, tc := range tests {
		tr, err := FrequencyInterval(tc.count)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("FrequencyInterval(%d): err = %v, want ErrInvalidArgument", tc.count, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("FrequencyInterval(%d): %v", tc.count, err)
		}
		if tr.Interval != tc.want {
			t.Fatalf("FrequencyInterval(%d) = %s, want %s", tc.count, tr.Interval, tc.want)
		}
		if tr.FirstDelay != FrequencyFirstDelay {
			t.Fatalf("first delay = %s", tr.FirstDelay)
		}
	}
}

func TestTriggerValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tr   Trigger
		ok   bool
	}{
		{"daily ok", DailyAt(9, 0, "Asia/Kolkata"), true},
		{"daily hour high", DailyAt(24, 0, "UTC"), false},
		{"daily minute high", DailyAt(9, 60, "UTC"), false},
		{"daily no zone", DailyAt(9, 0, ""), false},
		{"daily bad zone", DailyAt(9, 0, "Nowhere/Town"), false},
		{"repeating ok", RepeatingEvery(time.Hour, 10*time.Second), true},
		{"repeating zero", RepeatingEvery(0, 0), false},
		{"repeating negative delay", RepeatingEvery(time.Hour, -time.Second), false},
		{"once ok", Once(0), true},
		{"once negative", Once(-time.Second), false},
		{"unknown kind", Trigger{Kind: "hourly"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.tr.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidTrigger) {
				t.Fatalf("err = %v, want ErrInvalidTrigger", err)
			}
		})
	}
}

func TestRegistryReplaceAndRemoveIf(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	a := newJob("chan", "a", Once(0), func(ctx context.Context) error { return nil })
	b := newJob("chan", "b", Once(0), func(ctx context.Context) error { return nil })

	if got := r.replace(a); got != nil {
		t.Fatalf("first replace displaced %v", got)
	}
	if got := r.replace(b); got != a {
		t.Fatal("second replace did not displace the first job")
	}
	// A stale job cannot evict its replacement.
	if r.removeIf("chan", a) {
		t.Fatal("removeIf removed a displaced job")
	}
	if r.get("chan") != b {
		t.Fatal("current job lost")
	}
	if !r.removeIf("chan", b) {
		t.Fatal("removeIf refused the current job")
	}
	if r.len() != 0 {
		t.Fatalf("len = %d", r.len())
	}
}

func TestDailyGuardOncePerLocalDay(t *testing.T) {
	t.Parallel()

	job := newJob("chan", "daily", DailyAt(9, 0, "Asia/Kolkata"), func(ctx context.Context) error { return nil })

	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	first := time.Date(2026, 3, 10, 9, 0, 0, 0, kolkata)
	if !job.beginFire(first) {
		t.Fatal("first fire refused")
	}
	job.endFire(nil)

	// Same local day, later wall clock (e.g. catch-up after restart).
	if job.beginFire(first.Add(3 * time.Hour)) {
		t.Fatal("second fire on the same local day allowed")
	}

	// Next local day.
	if !job.beginFire(first.Add(24 * time.Hour)) {
		t.Fatal("next-day fire refused")
	}
}

func TestDailyGuardUsesTriggerZone(t *testing.T) {
	t.Parallel()

	// 2026-03-10 20:00 UTC and 2026-03-11 01:00 UTC are different UTC days
	// only after midnight UTC, but in Asia/Kolkata (+05:30) they are
	// 2026-03-11 01:30 and 2026-03-11 06:30: the SAME local day.
	job := newJob("chan", "daily", DailyAt(9, 0, "Asia/Kolkata"), func(ctx context.Context) error { return nil })

	first := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if !job.beginFire(first) {
		t.Fatal("first fire refused")
	}
	job.endFire(nil)
	if job.beginFire(time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)) {
		t.Fatal("fire allowed twice within one Kolkata day")
	}
}

func TestCancelledJobRefusesFire(t *testing.T) {
	t.Parallel()

	job := newJob("chan", "j", RepeatingEvery(time.Hour, 0), func(ctx context.Context) error { return nil })
	job.cancel()
	if job.beginFire(time.Now()) {
		t.Fatal("cancelled job accepted a fire")
	}
}

func TestOnceFiresExactlyOnceAndIsRemoved(t *testing.T) {
	t.Parallel()

	s := newTestService(t, nil)
	var fires atomic.Int32
	err := s.Arm("chan", "oneshot", Once(10*time.Millisecond), func(ctx context.Context) error {
		fires.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return fires.Load() == 1 && s.Len() == 0 })
	time.Sleep(50 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Fatalf("fires = %d, want 1", got)
	}
}

func TestArmReplacesExistingJob(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestService(t, bus)

	var oldFires, newFires atomic.Int32
	if err := s.Arm("chan", "old", RepeatingEvery(20*time.Millisecond, 0), func(ctx context.Context) error {
		oldFires.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Arm old: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return oldFires.Load() >= 1 })

	if err := s.Arm("chan", "new", RepeatingEvery(20*time.Millisecond, 0), func(ctx context.Context) error {
		newFires.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Arm new: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	waitFor(t, 2*time.Second, func() bool { return newFires.Load() >= 2 })
	frozen := oldFires.Load()
	time.Sleep(100 * time.Millisecond)
	if got := oldFires.Load(); got != frozen {
		t.Fatalf("displaced job kept firing: %d -> %d", frozen, got)
	}

	sawReplaced := false
	for done := false; !done; {
		select {
		case e := <-events:
			if e.Type == eventbus.EventJobReplaced {
				sawReplaced = true
				done = true
			}
		default:
			done = true
		}
	}
	if !sawReplaced {
		t.Fatal("no job.replaced event")
	}
}

func TestArmCancelsDisplacedBeforeNewTriggerLive(t *testing.T) {
	t.Parallel()

	s := newTestService(t, nil)

	if err := s.Arm("chan", "old", RepeatingEvery(time.Hour, time.Hour), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Arm old: %v", err)
	}
	old := s.reg.get("chan")
	if old == nil {
		t.Fatal("old job not registered")
	}

	// A zero-delay once trigger fires as soon as it is registered; at that
	// instant the displaced job must already be cancelled and out of the
	// registry, or both jobs are briefly armed for the same destination.
	oldDeadAtFire := make(chan bool, 1)
	if err := s.Arm("chan", "new", Once(0), func(ctx context.Context) error {
		oldDeadAtFire <- old.isCancelled() && s.reg.get("chan") != old
		return nil
	}); err != nil {
		t.Fatalf("Arm new: %v", err)
	}

	select {
	case ok := <-oldDeadAtFire:
		if !ok {
			t.Fatal("displaced job still live when the replacement fired")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacement never fired")
	}
}

func TestActionErrorKeepsSchedule(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := newTestService(t, bus)
	var fires atomic.Int32
	if err := s.Arm("chan", "flaky", RepeatingEvery(20*time.Millisecond, 0), func(ctx context.Context) error {
		fires.Add(1)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return fires.Load() >= 2 })

	info, err := s.Get("chan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.LastErr == "" {
		t.Fatal("LastErr not recorded")
	}

	sawFailed := false
	for done := false; !done; {
		select {
		case e := <-events:
			if e.Type == eventbus.EventJobFailed {
				sawFailed = true
				done = true
			}
		default:
			done = true
		}
	}
	if !sawFailed {
		t.Fatal("no job.failed event")
	}
}

func TestDisarm(t *testing.T) {
	t.Parallel()

	s := newTestService(t, nil)
	if s.Disarm("chan") {
		t.Fatal("Disarm on empty registry returned true")
	}
	if err := s.Arm("chan", "j", RepeatingEvery(time.Hour, time.Hour), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if !s.Disarm("chan") {
		t.Fatal("Disarm returned false")
	}
	if _, err := s.Get("chan"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after disarm: %v", err)
	}
}

func TestArmRejectsInvalidTrigger(t *testing.T) {
	t.Parallel()

	s := newTestService(t, nil)
	err := s.Arm("chan", "bad", DailyAt(99, 0, "UTC"), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("err = %v, want ErrInvalidTrigger", err)
	}
	if s.Len() != 0 {
		t.Fatal("invalid trigger was registered")
	}
}

func TestSnapshotSorted(t *testing.T) {
	t.Parallel()

	s := newTestService(t, nil)
	for _, dest := range []string{"b-chan", "a-chan"} {
		if err := s.Arm(dest, "j", RepeatingEvery(time.Hour, time.Hour), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("Arm %s: %v", dest, err)
		}
	}
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Dest != "a-chan" || snap[1].Dest != "b-chan" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[0].NextAt.IsZero() {
		t.Fatal("NextAt not set")
	}
}
