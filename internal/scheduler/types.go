package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidTrigger marks a trigger whose fields cannot describe a schedule.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrInvalidArgument marks an out-of-range operator argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a missing destination.
	ErrNotFound = errors.New("not found")
	// ErrStopped marks operations on a stopped service.
	ErrStopped = errors.New("scheduler stopped")
)

type TriggerKind string

const (
	// TriggerDaily fires at a fixed wall-clock time every day in its zone,
	// at most once per local calendar day.
	TriggerDaily TriggerKind = "daily"
	// TriggerRepeating fires every Interval, first after FirstDelay.
	TriggerRepeating TriggerKind = "repeating"
	// TriggerOnce fires a single time after After, then the job is removed.
	TriggerOnce TriggerKind = "once"
)

type Trigger struct {
	Kind TriggerKind

	// Daily fields.
	Hour, Minute int
	TZ           string

	// Repeating fields.
	Interval   time.Duration
	FirstDelay time.Duration

	// Once field.
	After time.Duration
}

func DailyAt(hour, minute int, tz string) Trigger {
	return Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute, TZ: tz}
}

func RepeatingEvery(interval, firstDelay time.Duration) Trigger {
	return Trigger{Kind: TriggerRepeating, Interval: interval, FirstDelay: firstDelay}
}

func Once(after time.Duration) Trigger {
	return Trigger{Kind: TriggerOnce, After: after}
}

func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerDaily:
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return fmt.Errorf("%w: daily time %02d:%02d out of range", ErrInvalidTrigger, t.Hour, t.Minute)
		}
		if t.TZ == "" {
			return fmt.Errorf("%w: daily trigger needs a timezone", ErrInvalidTrigger)
		}
		if _, err := time.LoadLocation(t.TZ); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidTrigger, t.TZ)
		}
	case TriggerRepeating:
		if t.Interval <= 0 {
			return fmt.Errorf("%w: repeating interval must be > 0", ErrInvalidTrigger)
		}
		if t.FirstDelay < 0 {
			return fmt.Errorf("%w: first delay must be >= 0", ErrInvalidTrigger)
		}
	case TriggerOnce:
		if t.After < 0 {
			return fmt.Errorf("%w: once delay must be >= 0", ErrInvalidTrigger)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, t.Kind)
	}
	return nil
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerDaily:
		return fmt.Sprintf("daily %02d:%02d %s", t.Hour, t.Minute, t.TZ)
	case TriggerRepeating:
		return fmt.Sprintf("every %s", t.Interval)
	case TriggerOnce:
		return fmt.Sprintf("once in %s", t.After)
	}
	return string(t.Kind)
}

// FrequencyFirstDelay is the offset before the first fire of a
// frequency-derived repeating trigger, so arming N jobs in a row doesn't
// post immediately.
const FrequencyFirstDelay = 10 * time.Second

// FrequencyInterval converts a posts-per-day count into a repeating trigger.
// count must be within [1, 24].
func FrequencyInterval(count int) (Trigger, error) {
	if count < 1 || count > 24 {
		return Trigger{}, fmt.Errorf("%w: posts per day must be 1..24, got %d", ErrInvalidArgument, count)
	}
	interval := time.Duration(86400/count) * time.Second
	return RepeatingEvery(interval, FrequencyFirstDelay), nil
}

// Action is the work a job performs on each fire. Errors are logged and
// reported on the bus but never stop the schedule.
type Action func(ctx context.Context) error

type JobStatus string

const (
	StatusArmed   JobStatus = "armed"
	StatusFiring  JobStatus = "firing"
	StatusStopped JobStatus = "stopped"
)

// Job is one armed schedule bound to a destination.
type Job struct {
	Name    string
	Dest    string
	Trigger Trigger

	action Action

	mu        sync.Mutex
	status    JobStatus
	cancelled bool
	lastFired time.Time
	nextAt    time.Time
	fireCount int
	lastErr   error
	timer     *time.Timer
	entryID   int // cron entry id for daily triggers (0 when unused)
}

func newJob(dest, name string, tr Trigger, action Action) *Job {
	return &Job{Name: name, Dest: dest, Trigger: tr, action: action, status: StatusArmed}
}

// cancel marks the job stopped and halts its timer. A fire already in
// flight runs to completion but will not re-arm.
func (j *Job) cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = true
	j.status = StatusStopped
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// beginFire decides whether a due fire should run. Daily triggers are held
// to at most one fire per local calendar day in the trigger's zone.
func (j *Job) beginFire(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return false
	}
	if j.Trigger.Kind == TriggerDaily && !j.lastFired.IsZero() {
		loc, err := time.LoadLocation(j.Trigger.TZ)
		if err == nil {
			ly, lm, ld := j.lastFired.In(loc).Date()
			ny, nm, nd := now.In(loc).Date()
			if ly == ny && lm == nm && ld == nd {
				return false
			}
		}
	}
	j.lastFired = now
	j.fireCount++
	j.status = StatusFiring
	return true
}

func (j *Job) endFire(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastErr = err
	if !j.cancelled {
		j.status = StatusArmed
	}
}

// JobInfo is a read-only snapshot of a job for /status.
type JobInfo struct {
	Name      string
	Dest      string
	Trigger   string
	Status    JobStatus
	LastFired time.Time
	NextAt    time.Time
	FireCount int
	LastErr   string
}

func (j *Job) info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	inf := JobInfo{
		Name:      j.Name,
		Dest:      j.Dest,
		Trigger:   j.Trigger.String(),
		Status:    j.status,
		LastFired: j.lastFired,
		NextAt:    j.nextAt,
		FireCount: j.fireCount,
	}
	if j.lastErr != nil {
		inf.LastErr = j.lastErr.Error()
	}
	return inf
}
