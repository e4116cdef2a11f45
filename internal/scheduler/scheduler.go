// Package scheduler runs named routines periodically. Each routine runs at most once at a time; different routines
// run independently of each other.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	sync_ "github.com/alanbriolat/channel-archiver/internal/sync"
)

type Routine func(ctx context.Context) error

type routine struct {
	name     string
	interval time.Duration
	run      Routine
	running  sync_.Event
}

type Scheduler struct {
	interval time.Duration
	mu       sync.Mutex
	routines map[string]*routine
	order    []*routine
	log      *zap.SugaredLogger
}

// New creates a Scheduler. interval is used for routines added without one.
func New(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		routines: make(map[string]*routine),
		log:      zap.S().Named("scheduler"),
	}
}

// Add registers a routine. It must be called before Run.
func (s *Scheduler) Add(name string, interval time.Duration, run Routine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routines[name]; ok {
		return fmt.Errorf("duplicate routine: %v", name)
	}
	if interval <= 0 {
		interval = s.interval
	}
	if interval <= 0 {
		return fmt.Errorf("routine %v: interval must be positive", name)
	}
	r := &routine{name: name, interval: interval, run: run}
	s.routines[name] = r
	s.order = append(s.order, r)
	return nil
}

// Running reports whether the named routine is currently executing.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	r, ok := s.routines[name]
	s.mu.Unlock()
	return ok && r.running.IsSet()
}

// Run starts every routine immediately, then again on each of its ticks, until ctx is cancelled. It returns once all
// in-flight routines have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	routines := append([]*routine(nil), s.order...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range routines {
		wg.Add(1)
		go func(r *routine) {
			defer wg.Done()
			s.loop(ctx, r)
		}(r)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, r *routine) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		s.invoke(ctx, r)
		// Drop a tick that arrived while the routine was running
		select {
		case <-ticker.C:
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, r *routine) {
	if ctx.Err() != nil {
		return
	}
	log := s.log.With("routine", r.name)
	r.running.Set()
	defer r.running.Clear()
	started := time.Now()
	log.Debugw("routine started")
	if err := r.run(ctx); err != nil {
		log.Errorw("routine failed", "error", err, "elapsed", time.Since(started))
		return
	}
	log.Debugw("routine finished", "elapsed", time.Since(started))
}
