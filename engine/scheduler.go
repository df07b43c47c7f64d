package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/storyline/bus"
	"github.com/petal-labs/storyline/protocol"
	"github.com/petal-labs/storyline/store"
)

// Schedule runs one stored specification on a cron expression.
type Schedule struct {
	SpecID string `json:"spec" yaml:"spec"`
	Cron   string `json:"cron" yaml:"cron"`
}

// ScheduleEntry describes a registered schedule.
type ScheduleEntry struct {
	Schedule
	Next time.Time
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Bus    bus.Bus
	Store  store.SpecStore
	Logger *slog.Logger

	// Dispatch runs the publish of each request and must return after it
	// has run. Scheduled ticks fire on the cron goroutine; pass
	// (*Serial).Dispatch to move publishes onto an owner goroutine. Nil
	// publishes on the calling goroutine.
	Dispatch func(func())
}

// Scheduler publishes run-spec requests for stored specifications on cron
// schedules. A specification whose previous request is still being handled
// is skipped for that tick.
type Scheduler struct {
	bus      bus.Bus
	store    store.SpecStore
	logger   *slog.Logger
	dispatch func(func())
	cron     *cron.Cron

	mu        sync.Mutex
	entries   map[cron.EntryID]Schedule
	active    map[string]struct{}
	ctx       context.Context
	running   bool
	fireCount int
}

// NewScheduler creates a scheduler. Schedules are UTC 5-field cron
// expressions.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Bus == nil {
		return nil, errors.New("spec scheduler bus is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("spec scheduler store is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(fn func()) { fn() }
	}
	return &Scheduler{
		bus:      cfg.Bus,
		store:    cfg.Store,
		logger:   cfg.Logger,
		dispatch: cfg.Dispatch,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		entries: make(map[cron.EntryID]Schedule),
		active:  make(map[string]struct{}),
		ctx:     context.Background(),
	}, nil
}

// Add registers a schedule.
func (s *Scheduler) Add(sched Schedule) (cron.EntryID, error) {
	if sched.SpecID == "" {
		return 0, errors.New("schedule spec id is required")
	}
	schedule, err := ParseSchedule(sched.Cron)
	if err != nil {
		return 0, err
	}
	specID := sched.SpecID
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if err := s.Fire(ctx, specID); err != nil {
			s.logger.Error("scheduled run", "spec", specID, "error", err)
		}
	}))

	s.mu.Lock()
	s.entries[id] = sched
	s.mu.Unlock()
	s.logger.Info("schedule added", "spec", specID, "cron", sched.Cron)
	return id, nil
}

// Remove unregisters a schedule.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Entries returns the registered schedules ordered by next activation.
func (s *Scheduler) Entries() []ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleEntry, 0, len(s.entries))
	for id, sched := range s.entries {
		out = append(out, ScheduleEntry{Schedule: sched, Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].SpecID < out[j].SpecID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Fire publishes a run-spec request for specID now.
func (s *Scheduler) Fire(ctx context.Context, specID string) error {
	if !s.markActive(specID) {
		s.logger.Warn("skipping scheduled run; previous run still active", "spec", specID)
		return nil
	}
	defer s.unmarkActive(specID)

	d, err := s.store.Get(ctx, specID)
	if err != nil {
		return err
	}
	s.dispatch(func() {
		s.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicRunSpec, protocol.SpecBody{
			ID:       specID,
			Spec:     d,
			Revision: d.Revision,
		})
		s.mu.Lock()
		s.fireCount++
		s.mu.Unlock()
	})
	return nil
}

// Fired returns how many run requests have been published.
func (s *Scheduler) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fireCount
}

// Start starts the cron loop. ctx bounds the store reads of scheduled runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx = ctx
	s.running = true
	s.cron.Start()
}

// Stop stops the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) markActive(specID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[specID]; ok {
		return false
	}
	s.active[specID] = struct{}{}
	return true
}

func (s *Scheduler) unmarkActive(specID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, specID)
}
