// Package checkpoint implements the Checkpoint Store:
// atomic, best-effort per-request snapshots keyed by request id, taken at
// agent state-machine phase boundaries and removed on completion.
package checkpoint

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sschepis/oboto/pkg/models"
)

// Snapshot is a serializable capture of a Request Context plus a
// reference to the conversation history at checkpoint time.
type Snapshot struct {
	RequestID      string            `json:"request_id"`
	TurnNumber     int               `json:"turn_number"`
	ToolCallCount  int               `json:"tool_call_count"`
	OriginalInput  string            `json:"original_input"`
	ModelID        string            `json:"model_id"`
	RetryCount     int               `json:"retry_count"`
	MaxTurns       int               `json:"max_turns"`
	Status         string            `json:"status"`
	CurrentAction  string            `json:"current_action,omitempty"`
	History        []models.Message  `json:"history"`
	CheckpointedAt time.Time         `json:"checkpointed_at"`
}

// clone deep-copies s via JSON round-trip so a later mutation of the
// source context/history can never retroactively alter a stored snapshot.
func (s Snapshot) clone() Snapshot {
	raw, err := json.Marshal(s)
	if err != nil {
		return s
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return s
	}
	return out
}

// Store holds the most recent snapshot per request id. Writes are
// best-effort: a Store constructed with Disabled=true returns immediately
// from CheckpointRequest without storing anything.
type Store struct {
	mu       sync.Mutex
	byID     map[string]Snapshot
	disabled bool
	logger   *slog.Logger
}

// New creates a checkpoint Store. When disabled is true, CheckpointRequest
// is a no-op: disabled mode returns immediately.
func New(disabled bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		byID:     make(map[string]Snapshot),
		disabled: disabled,
		logger:   logger.With("component", "checkpoint"),
	}
}

// CheckpointRequest writes snap keyed by snap.RequestID, overwriting any
// prior snapshot for that request. Failures (there are none in this
// in-memory implementation beyond a missing id) are logged, never
// returned, so a checkpoint write can never abort the request it protects.
func (s *Store) CheckpointRequest(snap Snapshot) {
	if s.disabled {
		return
	}
	if snap.RequestID == "" {
		s.logger.Warn("checkpoint write skipped: empty request id")
		return
	}
	snap.CheckpointedAt = time.Now()
	cloned := snap.clone()

	s.mu.Lock()
	s.byID[cloned.RequestID] = cloned
	s.mu.Unlock()
}

// CompleteRequest removes the snapshot for id, called once a request
// reaches a terminal state.
func (s *Store) CompleteRequest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Get returns the current snapshot for id, if any.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return snap.clone(), true
}

// Len reports how many in-flight requests currently have a checkpoint.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
