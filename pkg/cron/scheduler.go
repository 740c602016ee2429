package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"konnectsphere_backend/pkg/cache"
	"konnectsphere_backend/pkg/metrics"
)

// Job runs one sweep and reports how many records it changed.
type Job func(ctx context.Context) (int, error)

var ErrUnknownJob = errors.New("unknown job")

type task struct {
	name  string
	spec  string
	job   Job
	entry cron.EntryID
	// scheduled is false after Stop(name) until Resume(name).
	scheduled bool
}

// Scheduler owns the process's periodic jobs. Each job is registered under
// a name and can be stopped, resumed or triggered on its own.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	tasks   map[string]*task
	redis   *redis.Client
	lockTTL time.Duration
	timeout time.Duration
}

type Option func(*Scheduler)

// WithLock makes every run take a redis lock so only one instance sweeps.
func WithLock(client *redis.Client, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.redis = client
		s.lockTTL = ttl
	}
}

// WithTimeout bounds a single run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		tasks:   map[string]*task{},
		lockTTL: 10 * time.Minute,
		timeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register schedules job under name using a standard five-field cron spec
// or a descriptor such as "@hourly".
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	t := &task{name: name, spec: spec, job: job}
	if err := s.schedule(t); err != nil {
		return err
	}
	s.tasks[name] = t
	return nil
}

func (s *Scheduler) schedule(t *task) error {
	id, err := s.cron.AddFunc(t.spec, func() {
		s.run(context.Background(), t)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", t.name, t.spec, err)
	}
	t.entry = id
	t.scheduled = true
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Infof("Scheduler started with jobs %v", s.Names())
}

// Stop unschedules one job. Runs already in flight finish.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if t.scheduled {
		s.cron.Remove(t.entry)
		t.scheduled = false
		log.Infof("Job %s stopped", name)
	}
	return nil
}

// Resume reschedules a job removed with Stop.
func (s *Scheduler) Resume(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if t.scheduled {
		return nil
	}
	return s.schedule(t)
}

// StopAll halts the scheduler and waits for running jobs or ctx.
func (s *Scheduler) StopAll(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warnf("Scheduler stop timed out: %v", ctx.Err())
	}
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scheduled reports whether name is registered and not stopped.
func (s *Scheduler) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return ok && t.scheduled
}

func (s *Scheduler) run(ctx context.Context, t *task) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.redis != nil {
		release, err := cache.Lock(ctx, s.redis, "cron:"+t.name, s.lockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			log.Infof("Job %s is running on another instance, skipping", t.name)
			metrics.SweepRuns.WithLabelValues(t.name, "skipped").Inc()
			return 0, nil
		}
		if err != nil {
			// An unreachable redis does not block the sweep.
			log.Warnf("Could not lock job %s: %v", t.name, err)
		} else {
			defer release()
		}
	}

	start := time.Now()
	affected, err := t.job(ctx)
	metrics.SweepRuns.WithLabelValues(t.name, metrics.Result(err)).Inc()
	metrics.SweepAffected.WithLabelValues(t.name).Add(float64(affected))

	if err != nil {
		log.Errorf("Job %s failed after %s (%d records changed): %v", t.name, time.Since(start), affected, err)
		return affected, err
	}
	log.Infof("Job %s finished in %s, %d records changed", t.name, time.Since(start), affected)
	return affected, nil
}
