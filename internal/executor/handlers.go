package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// Handler is a registered built-in dispatched by name from a Handler step
// (spec.md §4.4). It returns the same StepResult as Shell/Assistant steps.
type Handler func(ctx context.Context, params workflow.HandlerParams, vars variables.Context, opts Options) (StepResult, error)

// HandlerRegistry maps handler names to implementations. goal-seek and other
// named built-ins are registrable here; only foreach ships as a concrete
// example per the spec's explicit deferral of handler semantics.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry returns a registry pre-seeded with the foreach handler.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]Handler)}
	r.Register("foreach", foreachHandler)
	return r
}

// Register adds or replaces the implementation for name.
func (r *HandlerRegistry) Register(name string, h Handler) {
	r.handlers[name] = h
}

func (r *HandlerRegistry) lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func executeHandler(ctx context.Context, step workflow.Step, vars variables.Context, opts Options) (StepResult, error) {
	if step.Handler == nil {
		return StepResult{}, fmt.Errorf("step %d: handler step missing spec", step.Index)
	}
	registry := opts.Handlers
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	h, ok := registry.lookup(step.Handler.Name)
	if !ok {
		return StepResult{}, fmt.Errorf("step %d: no registered handler %q", step.Index, step.Handler.Name)
	}
	return h(ctx, step.Handler.Params, vars, opts)
}

// foreachHandler iterates a JSON array parameter and re-invokes the Command
// Executor for each element against a nested "step" parameter, matching
// §4.4's contract that handlers return the same StepResult shape.
func foreachHandler(ctx context.Context, params workflow.HandlerParams, vars variables.Context, opts Options) (StepResult, error) {
	rawItems, ok := params["items"]
	if !ok {
		return StepResult{}, fmt.Errorf("foreach: missing required param %q", "items")
	}
	items, err := toSlice(rawItems)
	if err != nil {
		return StepResult{}, fmt.Errorf("foreach: %w", err)
	}

	rawStep, ok := params["step"]
	if !ok {
		return StepResult{}, fmt.Errorf("foreach: missing required param %q", "step")
	}
	nested, err := toStep(rawStep)
	if err != nil {
		return StepResult{}, fmt.Errorf("foreach: %w", err)
	}

	aggregate := StepResult{Success: true, Captured: make(map[string]any)}
	for i, item := range items {
		itemVars := vars.WithItem(item, false).WithLoopCounters(i, len(items))
		result, err := Execute(ctx, nested, itemVars, opts)
		if err != nil {
			return aggregate, fmt.Errorf("foreach item %d: %w", i, err)
		}
		if !result.Success {
			aggregate.Success = false
		}
		aggregate.CommitsCreated = append(aggregate.CommitsCreated, result.CommitsCreated...)
		for k, v := range result.Captured {
			aggregate.Captured[fmt.Sprintf("%s[%d]", k, i)] = v
		}
	}
	return aggregate, nil
}

func toSlice(v any) ([]any, error) {
	switch items := v.(type) {
	case []any:
		return items, nil
	default:
		return nil, fmt.Errorf("items must be a JSON array, got %T", v)
	}
}

func toStep(v any) (workflow.Step, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return workflow.Step{}, fmt.Errorf("marshal nested step: %w", err)
	}
	var step workflow.Step
	if err := json.Unmarshal(data, &step); err != nil {
		return workflow.Step{}, fmt.Errorf("decode nested step: %w", err)
	}
	return step, nil
}
