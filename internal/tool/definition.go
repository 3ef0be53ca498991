// Package tool implements the tool runtime: capability definitions with a
// validated argument contract, a registry with per-tool metrics, a bounded
// retry executor, an execution tracker, composite tools, and discovery of
// subprocess-backed tools from an on-disk manifest.
package tool

import (
	"context"

	"termbot/internal/domain"
)

// ArgumentType is the declared runtime type of one argument.
type ArgumentType string

const (
	TypeString  ArgumentType = "string"
	TypeNumber  ArgumentType = "number"
	TypeBoolean ArgumentType = "boolean"
	TypeArray   ArgumentType = "array"
	TypeObject  ArgumentType = "object"
	TypeAny     ArgumentType = "any"
)

// ValidatorFunc is a custom per-argument check. It returns true to pass,
// false for a generic failure, or a non-empty string as the failure message.
type ValidatorFunc func(value any) any

// ArgumentSpec declares one argument of a tool.
type ArgumentSpec struct {
	Name        string
	Type        ArgumentType
	Description string
	Required    bool
	Default     any
	Enum        []any
	Validate    ValidatorFunc
}

// ExecuteFunc is a tool body. A nil result with a nil error is treated as an
// empty success. Returned errors and panics are converted to failure results
// by the registry; they never cross the registry boundary.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*domain.ToolResult, error)

// HookFunc is an initialize or cleanup lifecycle hook.
type HookFunc func(ctx context.Context) error

// Example is a prompt-only usage sample. Examples are shown to the model in
// tool descriptions and are never executed.
type Example struct {
	Description string
	Arguments   map[string]any
}

// Definition is an immutable capability definition. Build one with Builder;
// once registered it must not be mutated.
type Definition struct {
	ID           string
	Name         string
	Description  string
	Category     string
	Tags         []string
	Capabilities []domain.Capability
	Arguments    []ArgumentSpec
	Examples     []Example
	Composable   bool

	Execute    ExecuteFunc
	Initialize HookFunc
	Cleanup    HookFunc
}

// HasCapability reports whether the definition declares the capability.
func (d *Definition) HasCapability(c domain.Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether the definition declares every requested
// capability (subset match, used by registry filters).
func (d *Definition) HasAllCapabilities(want []domain.Capability) bool {
	for _, c := range want {
		if !d.HasCapability(c) {
			return false
		}
	}
	return true
}

// Destructive reports whether any declared capability requires the
// confirmation gate before execution.
func (d *Definition) Destructive() bool {
	return d.HasCapability(domain.CapFileWrite) ||
		d.HasCapability(domain.CapSystemExecute) ||
		d.HasCapability(domain.CapNetworkAccess) ||
		d.HasCapability(domain.CapUserConfirmation)
}

// Parameters renders the argument specs as an OpenAI-style JSON Schema
// "parameters" object for the provider boundary.
func (d *Definition) Parameters() map[string]any {
	props := make(map[string]any, len(d.Arguments))
	var required []string
	for _, a := range d.Arguments {
		prop := map[string]any{"type": schemaType(a.Type)}
		if a.Description != "" {
			prop["description"] = a.Description
		}
		if len(a.Enum) > 0 {
			prop["enum"] = append([]any(nil), a.Enum...)
		}
		if a.Default != nil {
			prop["default"] = a.Default
		}
		props[a.Name] = prop
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// schemaType maps an ArgumentType to its JSON Schema type keyword. TypeAny
// has no JSON Schema equivalent; "string" keeps providers happy and the
// runtime validator accepts every value for it anyway.
func schemaType(t ArgumentType) string {
	switch t {
	case TypeString, TypeAny:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	}
	return "string"
}
