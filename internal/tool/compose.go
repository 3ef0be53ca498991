package tool

import (
	"context"
	"fmt"
	"strings"

	"termbot/internal/domain"
)

// PipelineStep names one stage of a composite tool. ArgMap renames incoming
// arguments for the stage; the previous stage's output is injected under
// InputKey (default "input").
type PipelineStep struct {
	Tool     string
	ArgMap   map[string]string
	InputKey string
	Static   map[string]any
}

// Pipeline builds a composite tool that runs steps in order, feeding each
// step's output into the next. A failed step short-circuits with that step's
// result so the caller sees exactly which stage broke.
func Pipeline(reg *Registry, id, description string, steps []PipelineStep) (*Definition, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("pipeline %q has no steps", id)
	}
	for _, s := range steps {
		if _, ok := reg.Get(s.Tool); !ok {
			return nil, fmt.Errorf("pipeline %q references unknown tool %q", id, s.Tool)
		}
		if def, _ := reg.Get(s.Tool); !def.Composable {
			return nil, fmt.Errorf("pipeline %q: tool %q is not composable", id, s.Tool)
		}
	}
	return NewBuilder(id).
		Description(description).
		Category("composite").
		Composable().
		Argument(ArgumentSpec{Name: "input", Type: TypeAny, Description: "initial pipeline input"}).
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			carry := args["input"]
			var last *domain.ToolResult
			for i, step := range steps {
				stepArgs := make(map[string]any, len(step.Static)+len(args))
				for k, v := range step.Static {
					stepArgs[k] = v
				}
				for from, to := range step.ArgMap {
					if v, ok := args[from]; ok {
						stepArgs[to] = v
					}
				}
				key := step.InputKey
				if key == "" {
					key = "input"
				}
				if carry != nil {
					stepArgs[key] = carry
				}
				last = reg.Execute(ctx, step.Tool, stepArgs)
				if !last.Success {
					return domain.Fail(last.Kind,
						fmt.Sprintf("pipeline %q step %d (%s): %s", id, i+1, step.Tool, last.Error)), nil
				}
				if last.Data != nil {
					carry = last.Data
				} else {
					carry = last.Output
				}
			}
			return last, nil
		}).
		Build()
}

// Fallback builds a composite tool that tries candidates in order and
// returns the first success. All arguments pass through unchanged.
func Fallback(reg *Registry, id, description string, candidates []string) (*Definition, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("fallback %q has no candidates", id)
	}
	for _, c := range candidates {
		def, ok := reg.Get(c)
		if !ok {
			return nil, fmt.Errorf("fallback %q references unknown tool %q", id, c)
		}
		if !def.Composable {
			return nil, fmt.Errorf("fallback %q: tool %q is not composable", id, c)
		}
	}
	return NewBuilder(id).
		Description(description).
		Category("composite").
		Composable().
		Argument(ArgumentSpec{Name: "input", Type: TypeAny, Description: "arguments forwarded to each candidate"}).
		Execute(func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			var failures []string
			for _, c := range candidates {
				res := reg.Execute(ctx, c, args)
				if res.Success {
					return res, nil
				}
				failures = append(failures, fmt.Sprintf("%s: %s", c, res.Error))
				if ctx.Err() != nil {
					break
				}
			}
			return domain.Fail(domain.KindExecution,
				fmt.Sprintf("all candidates failed: %s", strings.Join(failures, "; "))), nil
		}).
		Build()
}
