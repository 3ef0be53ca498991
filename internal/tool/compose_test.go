package tool

import (
	"context"
	"strings"
	"testing"

	"termbot/internal/domain"
)

func composableDef(id string, fn ExecuteFunc) *Definition {
	return NewBuilder(id).
		Description("d").
		Composable().
		Argument(ArgumentSpec{Name: "input", Type: TypeAny}).
		Execute(fn).
		MustBuild()
}

func TestPipeline_CarriesOutputBetweenSteps(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(composableDef("upper", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Ok(strings.ToUpper(args["input"].(string))), nil
	}))
	reg.Register(composableDef("exclaim", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Ok(args["input"].(string) + "!"), nil
	}))

	def, err := Pipeline(reg, "shout", "Uppercases then exclaims", []PipelineStep{
		{Tool: "upper"},
		{Tool: "exclaim"},
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	reg.Register(def)

	res := reg.Execute(context.Background(), "shout", map[string]any{"input": "hey"})
	if !res.Success || res.Output != "HEY!" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPipeline_DataPreferredOverOutput(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(composableDef("produce", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.OkData("summary text", "structured"), nil
	}))
	reg.Register(composableDef("consume", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Ok(args["input"].(string)), nil
	}))

	def, err := Pipeline(reg, "chain", "d", []PipelineStep{{Tool: "produce"}, {Tool: "consume"}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	reg.Register(def)

	res := reg.Execute(context.Background(), "chain", map[string]any{"input": "x"})
	if res.Output != "structured" {
		t.Fatalf("expected Data to carry, got %q", res.Output)
	}
}

func TestPipeline_FailedStepNamesStage(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(composableDef("ok_step", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Ok("fine"), nil
	}))
	reg.Register(composableDef("bad_step", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Fail(domain.KindExecution, "stage broke"), nil
	}))

	def, err := Pipeline(reg, "fragile", "d", []PipelineStep{{Tool: "ok_step"}, {Tool: "bad_step"}})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	reg.Register(def)

	res := reg.Execute(context.Background(), "fragile", map[string]any{"input": "x"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "step 2") || !strings.Contains(res.Error, "bad_step") {
		t.Fatalf("error must name the failed stage: %q", res.Error)
	}
}

func TestPipeline_RejectsNonComposable(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(NewBuilder("plain").Description("d").Execute(okExecute).MustBuild())
	if _, err := Pipeline(reg, "p", "d", []PipelineStep{{Tool: "plain"}}); err == nil {
		t.Fatal("expected error for non-composable step")
	}
	if _, err := Pipeline(reg, "p", "d", []PipelineStep{{Tool: "ghost"}}); err == nil {
		t.Fatal("expected error for unknown step")
	}
	if _, err := Pipeline(reg, "p", "d", nil); err == nil {
		t.Fatal("expected error for empty pipeline")
	}
}

func TestFallback_FirstSuccessWins(t *testing.T) {
	reg := NewRegistry(testLogger())
	secondCalled := false
	reg.Register(composableDef("primary", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Ok("primary result"), nil
	}))
	reg.Register(composableDef("backup", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		secondCalled = true
		return domain.Ok("backup result"), nil
	}))

	def, err := Fallback(reg, "resilient", "d", []string{"primary", "backup"})
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	reg.Register(def)

	res := reg.Execute(context.Background(), "resilient", map[string]any{"input": "x"})
	if res.Output != "primary result" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if secondCalled {
		t.Fatal("backup must not run when primary succeeds")
	}
}

func TestFallback_AggregatesFailures(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(composableDef("a", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Fail(domain.KindExecution, "a down"), nil
	}))
	reg.Register(composableDef("b", func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
		return domain.Fail(domain.KindExecution, "b down"), nil
	}))

	def, err := Fallback(reg, "doomed", "d", []string{"a", "b"})
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	reg.Register(def)

	res := reg.Execute(context.Background(), "doomed", map[string]any{"input": "x"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "a down") || !strings.Contains(res.Error, "b down") {
		t.Fatalf("expected aggregated failures, got %q", res.Error)
	}
}
