// Package tasks implements the Task Manager: background
// task lifecycle management with spawn, run, cancel, a bounded rolling
// output log, progress tracking, and completion bookkeeping.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sschepis/oboto/internal/events"
)

// Status is a Task Record's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// isTerminal reports whether s is a sticky terminal state.
func (s Status) isTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// maxOutputLines bounds the rolling output log per task; the oldest lines
// are dropped once the cap is reached.
const maxOutputLines = 1000

// outputTimestampLayout is the wall-clock stamp prefixed to every rolling
// output line, so a task's log reads like a timestamped transcript rather
// than an unordered bag of lines.
const outputTimestampLayout = "15:04:05.000"

// defaultSoftConcurrencyCap is advisory only: exceeding it is logged, not
// enforced as a rejection — the cap never blocks a spawn.
const defaultSoftConcurrencyCap = 3

// Record is a Task Record: the in-memory shape of a background task.
type Record struct {
	ID          string
	Description string
	Query       string
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      string
	Err         string
	Read        bool
	Output      []string
	Progress    int
	ScheduleID  string
	RunNumber   int
}

// clone returns a value copy safe to hand to callers without sharing the
// manager's internal Output slice.
func (r Record) clone() Record {
	out := r
	out.Output = append([]string(nil), r.Output...)
	return out
}

// Runner is the work a spawned task performs. It must check ctx and
// report progress via report; its return values populate Result/Err.
type Runner func(ctx context.Context, report func(progress int, line string)) (result string, err error)

// Manager is the Task Manager.
type Manager struct {
	mu             sync.Mutex
	records        map[string]*Record
	order          []string
	cancelFuncs    map[string]context.CancelFunc
	bus            *events.Bus
	logger         *slog.Logger
	softConcurrency int
	nextID         func() string
}

// NewManager creates a Task Manager publishing lifecycle events on bus.
// softConcurrency <= 0 uses defaultSoftConcurrencyCap. nextID defaults to
// a monotonic counter-based id if nil.
func NewManager(bus *events.Bus, softConcurrency int, logger *slog.Logger, nextID func() string) *Manager {
	if softConcurrency <= 0 {
		softConcurrency = defaultSoftConcurrencyCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		records:         make(map[string]*Record),
		cancelFuncs:     make(map[string]context.CancelFunc),
		bus:             bus,
		logger:          logger.With("component", "tasks"),
		softConcurrency: softConcurrency,
		nextID:          nextID,
	}
	if m.nextID == nil {
		var counter int64
		var mu sync.Mutex
		m.nextID = func() string {
			mu.Lock()
			defer mu.Unlock()
			counter++
			return fmt.Sprintf("task-%d", counter)
		}
	}
	return m
}

// runningCountLocked must be called with mu held.
func (m *Manager) runningCountLocked() int {
	n := 0
	for _, r := range m.records {
		if r.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Spawn registers a new queued task and starts it in a background
// goroutine. The soft concurrency cap never blocks a spawn; exceeding it
// is only logged.
func (m *Manager) Spawn(parent context.Context, description, query string, scheduleID string, runNumber int, run Runner) *Record {
	id := m.nextID()
	rec := &Record{
		ID:          id,
		Description: description,
		Query:       query,
		Status:      StatusQueued,
		CreatedAt:   time.Now(),
		ScheduleID:  scheduleID,
		RunNumber:   runNumber,
	}

	m.mu.Lock()
	if running := m.runningCountLocked(); running >= m.softConcurrency {
		m.logger.Warn("soft concurrency cap exceeded", "running", running, "cap", m.softConcurrency, "task_id", id)
	}
	m.records[id] = rec
	m.order = append(m.order, id)
	ctx, cancel := context.WithCancel(parent)
	m.cancelFuncs[id] = cancel
	m.mu.Unlock()

	m.publish(events.TopicTaskSpawned, rec.clone())

	go m.run(ctx, id, run)

	m.mu.Lock()
	out := rec.clone()
	m.mu.Unlock()
	return &out
}

func (m *Manager) run(ctx context.Context, id string, run Runner) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.Status.isTerminal() {
		m.mu.Unlock()
		return
	}
	rec.Status = StatusRunning
	rec.StartedAt = time.Now()
	snapshot := rec.clone()
	m.mu.Unlock()
	m.publish(events.TopicTaskStarted, snapshot)

	report := func(progress int, line string) {
		m.appendOutput(id, progress, line)
	}

	result, err := run(ctx, report)

	m.mu.Lock()
	rec, ok = m.records[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if rec.Status == StatusCancelled {
		m.mu.Unlock()
		return
	}
	rec.CompletedAt = time.Now()
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = err.Error()
	} else {
		rec.Status = StatusCompleted
		rec.Result = result
		rec.Progress = 100
	}
	snapshot = rec.clone()
	delete(m.cancelFuncs, id)
	m.mu.Unlock()

	if err != nil {
		m.publish(events.TopicTaskFailed, snapshot)
	} else {
		m.publish(events.TopicTaskCompleted, snapshot)
	}
}

// appendOutput records a progress update and a rolling output line,
// stamping the line with a wall-clock time and dropping the oldest line
// once maxOutputLines is exceeded.
func (m *Manager) appendOutput(id string, progress int, line string) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	rec.Progress = progress
	if line != "" {
		rec.Output = append(rec.Output, fmt.Sprintf("[%s] %s", time.Now().Format(outputTimestampLayout), line))
		if len(rec.Output) > maxOutputLines {
			rec.Output = rec.Output[len(rec.Output)-maxOutputLines:]
		}
	}
	snapshot := rec.clone()
	m.mu.Unlock()

	m.publish(events.TopicTaskOutput, snapshot)
	m.publish(events.TopicTaskProgress, snapshot)
}

// Cancel transitions a queued or running task to cancelled and fires its
// cancellation handle. Terminal states are sticky; cancelling an already
// terminal task is a no-op.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.Status.isTerminal() {
		m.mu.Unlock()
		return false
	}
	rec.Status = StatusCancelled
	rec.CompletedAt = time.Now()
	if cancel, ok := m.cancelFuncs[id]; ok {
		cancel()
		delete(m.cancelFuncs, id)
	}
	snapshot := rec.clone()
	m.mu.Unlock()

	m.publish(events.TopicTaskCancelled, snapshot)
	return true
}

// Get returns a copy of the task record for id.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// WaitFor blocks until the task reaches a terminal state or ctx is done,
// polling at the given interval.
func (m *Manager) WaitFor(ctx context.Context, id string, pollInterval time.Duration) (Record, error) {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if rec, ok := m.Get(id); ok && rec.Status.isTerminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetCompletedUnread returns terminal-state tasks whose Read flag is
// still false, in spawn order.
func (m *Manager) GetCompletedUnread() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, id := range m.order {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		if rec.Status.isTerminal() && !rec.Read {
			out = append(out, rec.clone())
		}
	}
	return out
}

// MarkRead sets the Read flag for id.
func (m *Manager) MarkRead(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.Read = true
	}
}

// CleanupOld removes terminal-state tasks completed before the cutoff.
// Returns the number of records removed.
func (m *Manager) CleanupOld(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	newOrder := m.order[:0:0]
	for _, id := range m.order {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		if rec.Status.isTerminal() && rec.CompletedAt.Before(cutoff) {
			delete(m.records, id)
			removed++
			continue
		}
		newOrder = append(newOrder, id)
	}
	m.order = newOrder
	return removed
}

func (m *Manager) publish(topic string, rec Record) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, rec)
}
