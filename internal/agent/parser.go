package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"termbot/internal/domain"
)

// extractToolCallsFromContent attempts to parse tool calls from LLM content
// text. Some models (especially smaller ones) return tool calls as JSON in
// the content instead of using the structured tool_calls field. Handles
// several patterns:
//   - Pure JSON: `{"name":"shell","arguments":{...}}`
//   - Code-fenced: ```json\n{...}\n```
//   - Prefixed text: `assistant\n{"name":"shell",...}`
//   - Suffixed text: `{"name":"shell",...}\n\nI'll execute that.`
func extractToolCallsFromContent(content string) []domain.ToolCall {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if calls := tryParseToolJSON(content); len(calls) > 0 {
		return calls
	}

	// Find JSON object/array boundaries within surrounding text.
	if start, end := findJSONBounds(content); start >= 0 && end > start {
		if calls := tryParseToolJSON(content[start:end]); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// findJSONBounds locates the first top-level JSON object ({}) or array ([])
// in s. Returns the start index and end+1 index, or (-1, -1) if not found.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}

	openChar := s[start]
	var closeChar byte
	if openChar == '{' {
		closeChar = '}'
	} else {
		closeChar = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

type embeddedCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
	Arguments  json.RawMessage `json:"arguments"`
}

func (c embeddedCall) args() string {
	raw := c.Arguments
	if len(raw) == 0 {
		raw = c.Parameters
	}
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// tryParseToolJSON attempts to parse raw as a single tool call object or an
// array of them.
func tryParseToolJSON(raw string) []domain.ToolCall {
	var single embeddedCall
	text := raw
	if err := json.Unmarshal([]byte(text), &single); err != nil {
		text = sanitizeJSONEscapes(text)
		_ = json.Unmarshal([]byte(text), &single)
	}
	if single.Name != "" {
		return []domain.ToolCall{{
			ID:        fmt.Sprintf("extracted_%d", time.Now().UnixNano()),
			Name:      normalizeToolName(single.Name),
			Arguments: single.args(),
		}}
	}

	var multi []embeddedCall
	if err := json.Unmarshal([]byte(text), &multi); err != nil {
		_ = json.Unmarshal([]byte(sanitizeJSONEscapes(raw)), &multi)
	}
	var calls []domain.ToolCall
	for i, tc := range multi {
		if tc.Name == "" {
			continue
		}
		calls = append(calls, domain.ToolCall{
			ID:        fmt.Sprintf("extracted_%d_%d", time.Now().UnixNano(), i),
			Name:      normalizeToolName(tc.Name),
			Arguments: tc.args(),
		})
	}
	return calls
}

// normalizeToolName maps common model-generated tool name variations to the
// actual registered names. Smaller models often drop underscores or use
// hyphens.
func normalizeToolName(name string) string {
	aliases := map[string]string{
		"webfetch":    "web_fetch",
		"web-fetch":   "web_fetch",
		"websearch":   "web_search",
		"web-search":  "web_search",
		"webpage":     "web_page",
		"web-page":    "web_page",
		"readfile":    "read_file",
		"read-file":   "read_file",
		"writefile":   "write_file",
		"write-file":  "write_file",
		"listdir":     "list_dir",
		"list-dir":    "list_dir",
		"filesearch":  "file_search",
		"file-search": "file_search",
		"systeminfo":  "system_info",
		"system-info": "system_info",
	}
	if mapped, ok := aliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

// sanitizeJSONEscapes fixes invalid JSON escape sequences produced by some
// LLMs. Valid JSON escapes: \", \\, \/, \b, \f, \n, \r, \t, \uXXXX. Invalid
// ones (e.g. \% or \Y) are corrected by dropping the backslash.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if inString && ch == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch next {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
			default:
				continue
			}
		} else {
			buf.WriteByte(ch)
		}
	}
	return buf.String()
}
