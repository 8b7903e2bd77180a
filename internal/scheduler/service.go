package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quotebot/internal/eventbus"
	logx "quotebot/pkg/logx"
)

// Options tunes fire execution. Zero values fall back to defaults.
type Options struct {
	Workers       int           // default 2
	QueueSize     int           // default 64
	ActionTimeout time.Duration // default 2m, 0 keeps the default
}

// Service owns armed jobs and runs their actions on a small worker pool.
//
// Daily triggers ride on a cron runner with per-entry CRON_TZ specs so each
// job is evaluated in its own zone. Repeating and once triggers use chained
// timers; the next timer is armed when the current one fires, so action
// duration never stretches the cadence.
//
// Actions never run under the registry lock, and a due fire whose worker
// queue is full is dropped (and reported) rather than blocking the runner.
type Service struct {
	log logx.Logger
	bus eventbus.Bus
	opt Options

	reg   *registry
	cron  *cron.Cron
	queue chan fire

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type fire struct {
	job *Job
	due time.Time
}

// FireEvent is the bus payload for job.fired / job.failed / job.skipped.
type FireEvent struct {
	Dest string
	Name string
	Err  string `json:",omitempty"`
}

func New(log logx.Logger, bus eventbus.Bus, opt Options) *Service {
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.ActionTimeout <= 0 {
		opt.ActionTimeout = 2 * time.Minute
	}
	return &Service{
		log:   log,
		bus:   bus,
		opt:   opt,
		reg:   newRegistry(),
		cron:  cron.New(),
		queue: make(chan fire, opt.QueueSize),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron.Start()
	for i := 0; i < s.opt.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(s.ctx)
		}()
	}
	s.log.Info("scheduler started", logx.Int("workers", s.opt.Workers))
	return nil
}

// Stop disarms everything and waits for in-flight fires until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	for _, job := range s.reg.all() {
		s.disarmJob(job)
		s.reg.removeIf(job.Dest, job)
	}

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Arm installs a job for dest, atomically displacing any prior job there.
func (s *Service) Arm(dest, name string, tr Trigger, action Action) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	if action == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidArgument)
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.mu.Unlock()

	job := newJob(dest, name, tr, action)

	// The displaced job must be cancelled before the new trigger can fire,
	// so the two never overlap on a trigger instant.
	if displaced := s.reg.replace(job); displaced != nil {
		s.disarmJob(displaced)
		s.log.Info("job replaced",
			logx.String("dest", dest),
			logx.String("old", displaced.Name),
			logx.String("new", name))
		s.publish(eventbus.EventJobReplaced, FireEvent{Dest: dest, Name: displaced.Name})
	}

	switch tr.Kind {
	case TriggerDaily:
		spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", tr.TZ, tr.Minute, tr.Hour)
		id, err := s.cron.AddFunc(spec, func() {
			s.enqueue(job, time.Now())
			s.refreshCronNext(job)
		})
		if err != nil {
			// Validate pre-screened the spec, so this is unreachable in
			// practice; leave the destination unscheduled rather than armed
			// with a dead job.
			s.reg.removeIf(dest, job)
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		job.mu.Lock()
		job.entryID = int(id)
		job.nextAt = s.cron.Entry(id).Next
		job.mu.Unlock()
	case TriggerRepeating:
		s.armTimer(job, tr.FirstDelay)
	case TriggerOnce:
		s.armTimer(job, tr.After)
	}

	s.log.Info("job armed",
		logx.String("dest", dest),
		logx.String("name", name),
		logx.String("trigger", tr.String()))
	return nil
}

// Disarm removes the job for dest. Returns false when nothing was armed.
func (s *Service) Disarm(dest string) bool {
	job := s.reg.remove(dest)
	if job == nil {
		return false
	}
	s.disarmJob(job)
	s.log.Info("job disarmed", logx.String("dest", dest), logx.String("name", job.Name))
	return true
}

// Get returns the snapshot of the job armed for dest.
func (s *Service) Get(dest string) (JobInfo, error) {
	job := s.reg.get(dest)
	if job == nil {
		return JobInfo{}, ErrNotFound
	}
	s.refreshCronNext(job)
	return job.info(), nil
}

// Snapshot returns all armed jobs, sorted by destination.
func (s *Service) Snapshot() []JobInfo {
	jobs := s.reg.all()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		s.refreshCronNext(j)
		out = append(out, j.info())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Dest < out[k].Dest })
	return out
}

func (s *Service) Len() int { return s.reg.len() }

func (s *Service) disarmJob(job *Job) {
	job.mu.Lock()
	id := job.entryID
	job.entryID = 0
	job.mu.Unlock()
	job.cancel()
	if id != 0 {
		s.cron.Remove(cron.EntryID(id))
	}
}

// armTimer schedules the next timer fire. The cancelled check runs under the
// job lock so a concurrent Disarm cannot lose the race and leave a live timer.
func (s *Service) armTimer(job *Job, delay time.Duration) {
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.cancelled {
		return
	}
	job.nextAt = time.Now().Add(delay)
	job.timer = time.AfterFunc(delay, func() { s.timerFired(job) })
}

func (s *Service) timerFired(job *Job) {
	now := time.Now()
	// Re-arm first so a slow action doesn't shift the cadence.
	if job.Trigger.Kind == TriggerRepeating {
		s.armTimer(job, job.Trigger.Interval)
	}
	s.enqueue(job, now)
}

func (s *Service) refreshCronNext(job *Job) {
	job.mu.Lock()
	id := job.entryID
	job.mu.Unlock()
	if id == 0 {
		return
	}
	next := s.cron.Entry(cron.EntryID(id)).Next
	job.mu.Lock()
	job.nextAt = next
	job.mu.Unlock()
}

func (s *Service) enqueue(job *Job, due time.Time) {
	select {
	case s.queue <- fire{job: job, due: due}:
	default:
		s.log.Warn("fire dropped (queue full)",
			logx.String("dest", job.Dest),
			logx.String("name", job.Name))
		s.publish(eventbus.EventJobSkipped, FireEvent{Dest: job.Dest, Name: job.Name, Err: "queue full"})
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.queue:
			s.run(ctx, f)
		}
	}
}

func (s *Service) run(ctx context.Context, f fire) {
	job := f.job
	if !job.beginFire(f.due) {
		s.log.Debug("fire skipped",
			logx.String("dest", job.Dest),
			logx.String("name", job.Name))
		s.publish(eventbus.EventJobSkipped, FireEvent{Dest: job.Dest, Name: job.Name, Err: "guard"})
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.opt.ActionTimeout)
	start := time.Now()
	err := runAction(cctx, job.action)
	cancel()
	job.endFire(err)

	if err != nil {
		s.log.Error("job failed",
			logx.String("dest", job.Dest),
			logx.String("name", job.Name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		s.publish(eventbus.EventJobFailed, FireEvent{Dest: job.Dest, Name: job.Name, Err: err.Error()})
	} else {
		s.log.Info("job fired",
			logx.String("dest", job.Dest),
			logx.String("name", job.Name),
			logx.Duration("took", time.Since(start)))
		s.publish(eventbus.EventJobFired, FireEvent{Dest: job.Dest, Name: job.Name})
	}

	if job.Trigger.Kind == TriggerOnce {
		job.cancel()
		s.reg.removeIf(job.Dest, job)
	}
}

func runAction(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action(ctx)
}

func (s *Service) publish(typ string, data FireEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
