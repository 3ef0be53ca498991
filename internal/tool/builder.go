package tool

import (
	"fmt"
	"regexp"

	"termbot/internal/domain"
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Builder assembles a Definition step by step. The zero value is not usable;
// start with NewBuilder. Build validates the accumulated state and returns
// all problems at once.
type Builder struct {
	def  Definition
	errs []string
}

// NewBuilder starts a definition with the given id.
func NewBuilder(id string) *Builder {
	return &Builder{def: Definition{ID: id, Name: id}}
}

func (b *Builder) Name(name string) *Builder {
	b.def.Name = name
	return b
}

func (b *Builder) Description(desc string) *Builder {
	b.def.Description = desc
	return b
}

func (b *Builder) Category(cat string) *Builder {
	b.def.Category = cat
	return b
}

func (b *Builder) Tags(tags ...string) *Builder {
	b.def.Tags = append(b.def.Tags, tags...)
	return b
}

func (b *Builder) Capability(caps ...domain.Capability) *Builder {
	b.def.Capabilities = append(b.def.Capabilities, caps...)
	return b
}

// Argument appends a full argument spec.
func (b *Builder) Argument(spec ArgumentSpec) *Builder {
	b.def.Arguments = append(b.def.Arguments, spec)
	return b
}

// RequiredString is shorthand for the most common argument shape.
func (b *Builder) RequiredString(name, desc string) *Builder {
	return b.Argument(ArgumentSpec{Name: name, Type: TypeString, Description: desc, Required: true})
}

// OptionalString appends an optional string argument with a default.
func (b *Builder) OptionalString(name, desc string, def any) *Builder {
	return b.Argument(ArgumentSpec{Name: name, Type: TypeString, Description: desc, Default: def})
}

func (b *Builder) Example(desc string, args map[string]any) *Builder {
	b.def.Examples = append(b.def.Examples, Example{Description: desc, Arguments: args})
	return b
}

func (b *Builder) Composable() *Builder {
	b.def.Composable = true
	return b
}

func (b *Builder) Execute(fn ExecuteFunc) *Builder {
	b.def.Execute = fn
	return b
}

func (b *Builder) OnInitialize(fn HookFunc) *Builder {
	b.def.Initialize = fn
	return b
}

func (b *Builder) OnCleanup(fn HookFunc) *Builder {
	b.def.Cleanup = fn
	return b
}

// Build validates the definition and returns it. All accumulated problems
// are reported in a single error so authors fix them in one pass.
func (b *Builder) Build() (*Definition, error) {
	b.errs = b.errs[:0]
	if b.def.ID == "" {
		b.errs = append(b.errs, "id is required")
	} else if !idPattern.MatchString(b.def.ID) {
		b.errs = append(b.errs, fmt.Sprintf("id %q must match %s", b.def.ID, idPattern))
	}
	if b.def.Description == "" {
		b.errs = append(b.errs, "description is required")
	}
	if b.def.Execute == nil {
		b.errs = append(b.errs, "execute function is required")
	}
	seen := make(map[string]bool, len(b.def.Arguments))
	for _, a := range b.def.Arguments {
		if a.Name == "" {
			b.errs = append(b.errs, "argument with empty name")
			continue
		}
		if seen[a.Name] {
			b.errs = append(b.errs, fmt.Sprintf("duplicate argument %q", a.Name))
		}
		seen[a.Name] = true
		switch a.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject, TypeAny, "":
		default:
			b.errs = append(b.errs, fmt.Sprintf("argument %q has unknown type %q", a.Name, a.Type))
		}
		if a.Required && a.Default != nil {
			b.errs = append(b.errs, fmt.Sprintf("argument %q is required and cannot have a default", a.Name))
		}
		if len(a.Enum) > 0 && a.Default != nil && !enumContains(a.Enum, a.Default) {
			b.errs = append(b.errs, fmt.Sprintf("argument %q default is not in its enum", a.Name))
		}
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("invalid tool definition %q: %s", b.def.ID, joinErrs(b.errs))
	}
	def := b.def
	def.Arguments = append([]ArgumentSpec(nil), b.def.Arguments...)
	for i, a := range def.Arguments {
		if a.Type == "" {
			def.Arguments[i].Type = TypeString
		}
	}
	return &def, nil
}

// MustBuild is Build for static registration, where a bad definition is a
// programming error.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

func joinErrs(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
