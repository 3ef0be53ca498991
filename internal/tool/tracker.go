package tool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"termbot/internal/domain"
)

// Execution is one tracked tool run. Completed executions keep their entry
// for the life of the session so late references by call id still resolve.
type Execution struct {
	ID        string
	CallID    string
	Tool      string
	Arguments map[string]any
	StartedAt time.Time
	EndedAt   time.Time
	Result    *domain.ToolResult
}

// Done reports whether the execution has completed.
func (e *Execution) Done() bool { return !e.EndedAt.IsZero() }

// Tracker maps provider call ids to execution records. A call id issued by
// the model is opaque and provider-scoped; the tracker assigns its own
// execution id so records stay unique even if a provider reuses call ids.
type Tracker struct {
	mu     sync.RWMutex
	byCall map[string]*Execution
	byID   map[string]*Execution
	order  []string
}

func NewTracker() *Tracker {
	return &Tracker{
		byCall: make(map[string]*Execution),
		byID:   make(map[string]*Execution),
	}
}

// Start records a new execution and returns it. A reused call id displaces
// the old mapping but the old record stays reachable by execution id.
func (t *Tracker) Start(callID, toolID string, args map[string]any) *Execution {
	ex := &Execution{
		ID:        uuid.NewString(),
		CallID:    callID,
		Tool:      toolID,
		Arguments: args,
		StartedAt: time.Now(),
	}
	t.mu.Lock()
	t.byCall[callID] = ex
	t.byID[ex.ID] = ex
	t.order = append(t.order, ex.ID)
	t.mu.Unlock()
	return ex
}

// Complete stamps the result onto the execution for the call id. An
// execution completes at most once; later calls for the same id are ignored.
func (t *Tracker) Complete(callID string, res *domain.ToolResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ex, ok := t.byCall[callID]; ok && !ex.Done() {
		ex.EndedAt = time.Now()
		ex.Result = res
	}
}

// ByCall resolves the most recent execution for a provider call id.
func (t *Tracker) ByCall(callID string) (*Execution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ex, ok := t.byCall[callID]
	return ex, ok
}

// ByID resolves an execution by its tracker-assigned id.
func (t *Tracker) ByID(id string) (*Execution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ex, ok := t.byID[id]
	return ex, ok
}

// All returns every execution in start order.
func (t *Tracker) All() []*Execution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Execution, len(t.order))
	for i, id := range t.order {
		out[i] = t.byID[id]
	}
	return out
}

// Pending returns executions that have started but not completed.
func (t *Tracker) Pending() []*Execution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Execution
	for _, id := range t.order {
		if ex := t.byID[id]; !ex.Done() {
			out = append(out, ex)
		}
	}
	return out
}
