package tool

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"termbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okExecute(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	return domain.Ok("ok"), nil
}

func TestBuilder_Minimal(t *testing.T) {
	def, err := NewBuilder("echo").
		Description("Echoes input").
		Execute(okExecute).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if def.ID != "echo" {
		t.Fatalf("expected id 'echo', got %q", def.ID)
	}
	if def.Name != "echo" {
		t.Fatalf("expected name to default to id, got %q", def.Name)
	}
}

func TestBuilder_ArgumentTypeDefaultsToString(t *testing.T) {
	def, err := NewBuilder("echo").
		Description("Echoes input").
		Argument(ArgumentSpec{Name: "text"}).
		Execute(okExecute).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if def.Arguments[0].Type != TypeString {
		t.Fatalf("expected string type, got %q", def.Arguments[0].Type)
	}
}

func TestBuilder_AccumulatesErrors(t *testing.T) {
	_, err := NewBuilder("Bad-ID").Build()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"id", "description", "execute"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to mention %q, got: %s", want, msg)
		}
	}
}

func TestBuilder_DuplicateArgumentName(t *testing.T) {
	_, err := NewBuilder("echo").
		Description("d").
		RequiredString("text", "the text").
		RequiredString("text", "again").
		Execute(okExecute).
		Build()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate argument error, got %v", err)
	}
}

func TestBuilder_RequiredWithDefaultConflict(t *testing.T) {
	_, err := NewBuilder("echo").
		Description("d").
		Argument(ArgumentSpec{Name: "text", Required: true, Default: "hi"}).
		Execute(okExecute).
		Build()
	if err == nil {
		t.Fatal("expected error for required argument with a default")
	}
}

func TestBuilder_DefaultMustBeInEnum(t *testing.T) {
	_, err := NewBuilder("fmt").
		Description("d").
		Argument(ArgumentSpec{Name: "mode", Default: "xml", Enum: []any{"json", "text"}}).
		Execute(okExecute).
		Build()
	if err == nil {
		t.Fatal("expected error for default outside enum")
	}
}

func TestBuilder_BuildReturnsCopy(t *testing.T) {
	b := NewBuilder("echo").Description("d").Execute(okExecute)
	d1, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d2, _ := b.Build()
	d1.Description = "mutated"
	if d2.Description != "d" {
		t.Fatal("Build must return independent copies")
	}
}

func TestMustBuild_PanicsOnInvalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewBuilder("").MustBuild()
}

func TestDefinition_Destructive(t *testing.T) {
	write := NewBuilder("w").Description("d").Capability(domain.CapFileWrite).Execute(okExecute).MustBuild()
	read := NewBuilder("r").Description("d").Capability(domain.CapFileRead).Execute(okExecute).MustBuild()
	if !write.Destructive() {
		t.Fatal("file_write should be destructive")
	}
	if read.Destructive() {
		t.Fatal("file_read should not be destructive")
	}
}

func TestDefinition_Parameters(t *testing.T) {
	def := NewBuilder("greet").
		Description("Greets someone").
		Argument(ArgumentSpec{Name: "name", Type: TypeString, Description: "Who to greet", Required: true}).
		Argument(ArgumentSpec{Name: "times", Type: TypeNumber}).
		Execute(okExecute).
		MustBuild()

	params := def.Parameters()
	if params["type"] != "object" {
		t.Fatalf("expected object schema, got %v", params["type"])
	}
	props := params["properties"].(map[string]any)
	if _, ok := props["name"]; !ok {
		t.Fatal("missing 'name' property")
	}
	required := params["required"].([]string)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("expected required=[name], got %v", required)
	}
}
