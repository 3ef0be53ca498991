package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"termbot/internal/domain"
)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrToolNotFound  = errors.New("tool not found")
)

// ToolMetrics is a snapshot of one tool's execution counters.
type ToolMetrics struct {
	Attempts     int64
	Successes    int64
	Failures     int64
	TotalElapsed time.Duration
	LastError    string
	LastUsed     time.Time
}

// AvgElapsed is the mean wall time per attempt, zero when never run.
func (m ToolMetrics) AvgElapsed() time.Duration {
	if m.Attempts == 0 {
		return 0
	}
	return m.TotalElapsed / time.Duration(m.Attempts)
}

type entry struct {
	def     *Definition
	metrics ToolMetrics

	// initMu guards initialized separately from the registry lock so a slow
	// Initialize hook never blocks unrelated tools.
	initMu      sync.Mutex
	initialized bool
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Category     string
	Tag          string
	Capabilities []domain.Capability
	Composable   bool
}

// Registry holds tool definitions and runs them. All methods are safe for
// concurrent use. Execute never returns an error: every failure mode is
// folded into a ToolResult so callers have a single path to report back to
// the model.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds a definition. Duplicate ids are rejected so a later
// registration can never silently shadow an earlier one.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return errors.New("nil or unnamed tool definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.ID)
	}
	r.entries[def.ID] = &entry{def: def}
	r.order = append(r.order, def.ID)
	return nil
}

// Unregister removes a tool and runs its cleanup hook if it was initialized.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	e.initMu.Lock()
	wasInitialized := e.initialized
	e.initMu.Unlock()
	if wasInitialized && e.def.Cleanup != nil {
		if err := e.def.Cleanup(ctx); err != nil {
			r.logger.Warn("tool cleanup failed", "tool", id, "error", err)
			return err
		}
	}
	return nil
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// List returns definitions matching the filter, in registration order.
func (r *Registry) List(f Filter) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		def := r.entries[id].def
		if f.Category != "" && def.Category != f.Category {
			continue
		}
		if f.Tag != "" && !hasTag(def.Tags, f.Tag) {
			continue
		}
		if len(f.Capabilities) > 0 && !def.HasAllCapabilities(f.Capabilities) {
			continue
		}
		if f.Composable && !def.Composable {
			continue
		}
		out = append(out, def)
	}
	return out
}

// Search matches query case-insensitively against id, name, description and
// tags, ranked by where the match landed.
func (r *Registry) Search(query string) []*Definition {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return r.List(Filter{})
	}
	type ranked struct {
		def  *Definition
		rank int
	}
	r.mu.RLock()
	var hits []ranked
	for _, id := range r.order {
		def := r.entries[id].def
		switch {
		case strings.Contains(strings.ToLower(def.ID), q), strings.Contains(strings.ToLower(def.Name), q):
			hits = append(hits, ranked{def, 0})
		case hasTag(def.Tags, q):
			hits = append(hits, ranked{def, 1})
		case strings.Contains(strings.ToLower(def.Description), q):
			hits = append(hits, ranked{def, 2})
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })
	out := make([]*Definition, len(hits))
	for i, h := range hits {
		out[i] = h.def
	}
	return out
}

// ValidateArguments validates without executing. A missing tool is reported
// as an issue rather than an error so pre-flight checks have one shape.
func (r *Registry) ValidateArguments(id string, args map[string]any) *ValidationResult {
	def, ok := r.Get(id)
	if !ok {
		return &ValidationResult{Issues: []ValidationIssue{{Argument: id, Message: "tool not found"}}}
	}
	return ValidateArguments(def, CoerceArguments(def, ApplyDefaults(def, args)))
}

// Definitions renders every registered tool for the provider boundary.
func (r *Registry) Definitions() []domain.ToolDefinition {
	defs := r.List(Filter{})
	out := make([]domain.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = domain.ToolDefinition{
			Name:        d.ID,
			Description: describeForModel(d),
			Parameters:  d.Parameters(),
		}
	}
	return out
}

// Metrics returns a snapshot of per-tool counters keyed by id.
func (r *Registry) Metrics() map[string]ToolMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ToolMetrics, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.metrics
	}
	return out
}

// Execute runs one tool call end to end: lookup, lazy one-time initialize,
// default fill, coercion, validation, then the tool body. Every failure is a
// ToolResult with the matching kind; panics in tool bodies are recovered.
func (r *Registry) Execute(ctx context.Context, id string, args map[string]any) *domain.ToolResult {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Fail(domain.KindNotFound, fmt.Sprintf("tool %q is not registered", id))
	}
	def := e.def

	// Lazy initialization. A failed hook leaves the tool uninitialized so
	// the next call (or a retry wrapper) runs the hook again.
	e.initMu.Lock()
	if !e.initialized {
		if def.Initialize != nil {
			if err := def.Initialize(ctx); err != nil {
				e.initMu.Unlock()
				return r.record(id, domain.Fail(domain.KindInitialization,
					fmt.Sprintf("tool %q failed to initialize: %v", id, err)), 0)
			}
		}
		e.initialized = true
	}
	e.initMu.Unlock()

	if args == nil {
		args = map[string]any{}
	}
	args = CoerceArguments(def, ApplyDefaults(def, args))
	if vr := ValidateArguments(def, args); !vr.Valid() {
		return r.record(id, domain.Fail(domain.KindValidation, vr.Error()), 0)
	}

	start := time.Now()
	result := r.run(ctx, def, args)
	elapsed := time.Since(start)
	r.logger.Debug("tool executed", "tool", id, "ok", result.Success, "elapsed", elapsed)
	return r.record(id, result, elapsed)
}

// run invokes the tool body with panic recovery.
func (r *Registry) run(ctx context.Context, def *Definition, args map[string]any) (result *domain.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", def.ID, "panic", rec, "stack", string(debug.Stack()))
			result = domain.Fail(domain.KindExecution, fmt.Sprintf("tool %q panicked: %v", def.ID, rec))
		}
	}()
	res, err := def.Execute(ctx, args)
	if err != nil {
		return domain.Fail(domain.KindExecution, err.Error())
	}
	if res == nil {
		return domain.Ok("")
	}
	return res
}

func (r *Registry) record(id string, res *domain.ToolResult, elapsed time.Duration) *domain.ToolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return res
	}
	e.metrics.Attempts++
	e.metrics.TotalElapsed += elapsed
	e.metrics.LastUsed = time.Now()
	if res.Success {
		e.metrics.Successes++
	} else {
		e.metrics.Failures++
		e.metrics.LastError = res.Error
	}
	return res
}

// CleanupAll runs every initialized tool's cleanup hook, best effort.
func (r *Registry) CleanupAll(ctx context.Context) {
	r.mu.RLock()
	var hooks []struct {
		id string
		fn HookFunc
	}
	for id, e := range r.entries {
		e.initMu.Lock()
		initialized := e.initialized
		e.initMu.Unlock()
		if initialized && e.def.Cleanup != nil {
			hooks = append(hooks, struct {
				id string
				fn HookFunc
			}{id, e.def.Cleanup})
		}
	}
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			r.logger.Warn("tool cleanup failed", "tool", h.id, "error", err)
		}
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// describeForModel folds usage examples into the description the model sees.
func describeForModel(d *Definition) string {
	if len(d.Examples) == 0 {
		return d.Description
	}
	var b strings.Builder
	b.WriteString(d.Description)
	for _, ex := range d.Examples {
		b.WriteString("\nExample: ")
		b.WriteString(ex.Description)
	}
	return b.String()
}
