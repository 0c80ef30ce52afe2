// Package scheduler implements the Scheduler:
// interval-based recurring schedules with skip-if-running, max-runs, and
// JSON-array persistence, firing work into a Task Manager.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sschepis/oboto/internal/events"
)

// minIntervalMs is the spec-mandated floor for a schedule's firing
// interval.
const minIntervalMs = 1000

// Status is a Schedule Record's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Record is a Schedule Record.
type Record struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Query         string    `json:"query"`
	IntervalMs    int64     `json:"interval_ms"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	NextRunAt     time.Time `json:"next_run_at"`
	RunCount      int       `json:"run_count"`
	MaxRuns       int       `json:"max_runs,omitempty"` // 0 means infinite
	LastTaskID    string    `json:"last_task_id,omitempty"`
	SkipIfRunning bool      `json:"skip_if_running"`
	Tags          []string  `json:"tags,omitempty"`
}

func (r Record) clone() Record {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	return out
}

// hasMaxRuns reports whether MaxRuns bounds the schedule (0 = infinite).
func (r Record) hasMaxRuns() bool { return r.MaxRuns > 0 }

// Fire is invoked each time a schedule's interval elapses; it should run
// the schedule's query through the Task Manager (or equivalent) and
// return the id of the spawned task.
type Fire func(ctx context.Context, rec Record) (taskID string, err error)

// Scheduler manages recurring Schedule Records, ticking once per second
// to check due schedules, ticking on a configurable interval rather
// than running one goroutine per schedule.
type Scheduler struct {
	mu          sync.Mutex
	records     map[string]*Record
	order       []string
	persistPath string
	bus         *events.Bus
	logger      *slog.Logger
	fire        Fire
	tickEvery   time.Duration
	now         func() time.Time
	taskRunning func(taskID string) bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithTickInterval overrides the default one-second polling tick.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

// WithClock overrides the scheduler's clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTaskRunningCheck gives the Scheduler a way to ask whether a
// previously fired task (by id) is still queued or running, so
// skip-if-running can be enforced against the Task Manager's real
// status instead of a local flag whose lifetime only spans the fire
// call itself. Without this option, SkipIfRunning never skips anything.
func WithTaskRunningCheck(fn func(taskID string) bool) Option {
	return func(s *Scheduler) {
		s.taskRunning = fn
	}
}

// New creates a Scheduler. persistPath, if non-empty, is the JSON file
// schedules are loaded from and saved to (conventionally
// `.<app>/schedules.json`).
func New(persistPath string, bus *events.Bus, logger *slog.Logger, fire Fire, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		records:     make(map[string]*Record),
		persistPath: persistPath,
		bus:         bus,
		logger:      logger.With("component", "scheduler"),
		fire:        fire,
		tickEvery:   time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted schedules from persistPath, if set and present. A
// missing file is not an error.
func (s *Scheduler) Load() error {
	if s.persistPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.persistPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler: read %s: %w", s.persistPath, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("scheduler: parse %s: %w", s.persistPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = &rec
		s.order = append(s.order, rec.ID)
	}
	return nil
}

// save persists the current schedule set atomically: write to a temp
// file in the same directory, then rename over the target, so a crash
// mid-write never leaves a truncated schedules.json.
func (s *Scheduler) save() error {
	if s.persistPath == "" {
		return nil
	}
	s.mu.Lock()
	records := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			records = append(records, rec.clone())
		}
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.persistPath), 0o700); err != nil {
		return err
	}
	tmp := s.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.persistPath)
}

// Create validates cfg and registers a new active schedule.
func (s *Scheduler) Create(cfg Record) (*Record, error) {
	if cfg.IntervalMs < minIntervalMs {
		return nil, fmt.Errorf("scheduler: intervalMs must be >= %d, got %d", minIntervalMs, cfg.IntervalMs)
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("sched-%d", s.now().UnixNano())
	}
	cfg.Status = StatusActive
	cfg.CreatedAt = s.now()
	cfg.NextRunAt = s.now().Add(time.Duration(cfg.IntervalMs) * time.Millisecond)

	s.mu.Lock()
	rec := cfg
	s.records[rec.ID] = &rec
	s.order = append(s.order, rec.ID)
	s.mu.Unlock()

	s.publish(events.TopicScheduleCreated, rec.clone())
	s.save()
	return &rec, nil
}

// Pause transitions an active schedule to paused.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: schedule not found: %s", id)
	}
	rec.Status = StatusPaused
	snapshot := rec.clone()
	s.mu.Unlock()

	s.publish(events.TopicSchedulePaused, snapshot)
	return s.save()
}

// Resume transitions a paused schedule back to active and recomputes
// nextRunAt relative to now.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: schedule not found: %s", id)
	}
	rec.Status = StatusActive
	rec.NextRunAt = s.now().Add(time.Duration(rec.IntervalMs) * time.Millisecond)
	snapshot := rec.clone()
	s.mu.Unlock()

	s.publish(events.TopicScheduleResumed, snapshot)
	return s.save()
}

// Delete removes a schedule permanently.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: schedule not found: %s", id)
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(events.TopicScheduleDeleted, Record{ID: id})
	return s.save()
}

// Get returns a copy of the schedule record for id.
func (s *Scheduler) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// TriggerNow fires id immediately regardless of nextRunAt, subject to the
// same skip-if-running rule as a normal tick.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	var snapshot Record
	if ok {
		snapshot = rec.clone()
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: schedule not found: %s", id)
	}
	return s.runOne(ctx, snapshot)
}

// SwitchWorkspace repoints persistence at a new path and reloads
// schedules from it, discarding the in-memory set for the prior
// workspace (mirrors a per-channel pairing store boundary:
// each workspace gets its own schedules.json).
func (s *Scheduler) SwitchWorkspace(newPersistPath string) error {
	s.mu.Lock()
	s.persistPath = newPersistPath
	s.records = make(map[string]*Record)
	s.order = nil
	s.mu.Unlock()
	return s.Load()
}

// Start begins the polling loop on a background goroutine. Stop must be
// called to release it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
}

// Stop halts the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due, active schedule once.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*Record
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok || rec.Status != StatusActive {
			continue
		}
		if !rec.NextRunAt.After(now) {
			due = append(due, rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range due {
		if err := s.runOne(ctx, rec.clone()); err != nil {
			s.logger.Warn("schedule fire failed", "schedule_id", rec.ID, "error", err)
		}
	}
}

// runOne fires a single schedule if its prior task isn't still
// queued/running (skip-if-running) and updates its bookkeeping. Because
// fire (Runtime.ScheduleFire) spawns a background task and returns
// immediately, "running" can't be tracked locally around the fire call —
// it is only known by asking the Task Manager about lastTaskId.
func (s *Scheduler) runOne(ctx context.Context, rec Record) error {
	s.mu.Lock()
	stored, ok := s.records[rec.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: schedule not found: %s", rec.ID)
	}
	lastTaskID := stored.LastTaskID
	skip := stored.SkipIfRunning && lastTaskID != "" && s.taskRunning != nil && s.taskRunning(lastTaskID)
	s.mu.Unlock()
	if skip {
		s.logger.Info("schedule fire skipped: prior task still running", "schedule_id", rec.ID, "task_id", lastTaskID)
		return nil
	}

	var taskID string
	var fireErr error
	if s.fire != nil {
		taskID, fireErr = s.fire(ctx, rec)
	}

	s.mu.Lock()
	stored, ok = s.records[rec.ID]
	if !ok {
		s.mu.Unlock()
		return fireErr
	}
	stored.LastRunAt = s.now()
	stored.RunCount++
	if taskID != "" {
		stored.LastTaskID = taskID
	}
	if stored.hasMaxRuns() && stored.RunCount >= stored.MaxRuns {
		stored.Status = StatusPaused
	} else {
		stored.NextRunAt = s.now().Add(time.Duration(stored.IntervalMs) * time.Millisecond)
	}
	snapshot := stored.clone()
	s.mu.Unlock()

	s.publish(events.TopicScheduleFired, snapshot)
	s.save()
	return fireErr
}

func (s *Scheduler) publish(topic string, rec Record) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, rec)
}
