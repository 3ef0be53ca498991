package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValidationIssue is one failed check against an argument spec.
type ValidationIssue struct {
	Argument string
	Message  string
}

func (v ValidationIssue) String() string {
	return v.Argument + ": " + v.Message
}

// ValidationResult accumulates every issue found in a single pass. Validation
// is total: it never stops at the first problem.
type ValidationResult struct {
	Issues []ValidationIssue
}

func (r *ValidationResult) Valid() bool { return len(r.Issues) == 0 }

func (r *ValidationResult) add(arg, format string, a ...any) {
	r.Issues = append(r.Issues, ValidationIssue{Argument: arg, Message: fmt.Sprintf(format, a...)})
}

// Error renders all issues as one message, or "" when valid.
func (r *ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	parts := make([]string, len(r.Issues))
	for i, iss := range r.Issues {
		parts[i] = iss.String()
	}
	return strings.Join(parts, "; ")
}

// ValidateArguments checks args against the definition's specs: required
// presence, unknown keys, declared type (after coercion), enum membership,
// and the custom validator. It mutates nothing.
func ValidateArguments(def *Definition, args map[string]any) *ValidationResult {
	res := &ValidationResult{}
	specs := make(map[string]*ArgumentSpec, len(def.Arguments))
	for i := range def.Arguments {
		specs[def.Arguments[i].Name] = &def.Arguments[i]
	}
	for name := range args {
		if _, ok := specs[name]; !ok {
			res.add(name, "unknown argument")
		}
	}
	for _, spec := range def.Arguments {
		val, present := args[spec.Name]
		if !present || val == nil {
			if spec.Required {
				res.add(spec.Name, "required argument missing")
			}
			continue
		}
		coerced, ok := coerceValue(spec.Type, val)
		if !ok {
			res.add(spec.Name, "expected %s, got %T", spec.Type, val)
			continue
		}
		if len(spec.Enum) > 0 && !enumContains(spec.Enum, coerced) {
			res.add(spec.Name, "value %v not in allowed set %v", coerced, spec.Enum)
		}
		if spec.Validate != nil {
			switch out := spec.Validate(coerced).(type) {
			case bool:
				if !out {
					res.add(spec.Name, "failed validation")
				}
			case string:
				if out != "" {
					res.add(spec.Name, "%s", out)
				}
			}
		}
	}
	return res
}

// ApplyDefaults returns a copy of args with defaults filled for absent
// optional arguments. The input map is not modified.
func ApplyDefaults(def *Definition, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+2)
	for k, v := range args {
		out[k] = v
	}
	for _, spec := range def.Arguments {
		if _, present := out[spec.Name]; !present && spec.Default != nil {
			out[spec.Name] = spec.Default
		}
	}
	return out
}

// CoerceArguments returns a copy of args with each value converted to its
// declared type where a lossless conversion exists. Values that cannot be
// coerced pass through unchanged; ValidateArguments reports them.
func CoerceArguments(def *Definition, args map[string]any) map[string]any {
	specs := make(map[string]ArgumentType, len(def.Arguments))
	for _, a := range def.Arguments {
		specs[a.Name] = a.Type
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if t, ok := specs[k]; ok {
			if cv, ok := coerceValue(t, v); ok {
				out[k] = cv
				continue
			}
		}
		out[k] = v
	}
	return out
}

// coerceValue converts v to the declared type. The second return is false
// when no sensible conversion exists.
func coerceValue(t ArgumentType, v any) (any, bool) {
	switch t {
	case TypeAny, "":
		return v, true
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, true
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), true
		case int:
			return strconv.Itoa(s), true
		case bool:
			return strconv.FormatBool(s), true
		}
		return v, false
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			return f, err == nil
		}
		return v, false
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "1", "yes":
				return true, true
			case "false", "0", "no":
				return false, true
			}
		}
		return v, false
	case TypeArray:
		switch a := v.(type) {
		case []any:
			return a, true
		case []string:
			out := make([]any, len(a))
			for i, s := range a {
				out[i] = s
			}
			return out, true
		case string:
			// A bare string becomes a comma separated list.
			parts := strings.Split(a, ",")
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out, true
		}
		return v, false
	case TypeObject:
		switch o := v.(type) {
		case map[string]any:
			return o, true
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(o), &m); err == nil {
				return m, true
			}
		}
		return v, false
	}
	return v, false
}

// enumContains compares by rendered value so 2 and 2.0 and "2" count as the
// same enum member after coercion.
func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if e == v || fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
