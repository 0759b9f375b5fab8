package llm

import (
	"encoding/json"
	"strings"
)

// ParseStructuredResponse turns a model completion into a JSON object,
// tolerating the usual damage: markdown fences, prose around the object,
// unterminated strings and missing closing brackets. It returns nil when
// nothing object-shaped is recoverable; it never fails hard, because
// malformed model output is an expected condition, not an error.
func ParseStructuredResponse(text string) map[string]interface{} {
	cleaned := stripFences(strings.TrimSpace(text))

	if obj := unmarshalObject(cleaned); obj != nil {
		return obj
	}

	sub, ok := extractObject(cleaned)
	if !ok {
		return nil
	}
	if obj := unmarshalObject(sub); obj != nil {
		return obj
	}
	if obj := unmarshalObject(repairJSON(sub)); obj != nil {
		return obj
	}
	return nil
}

func unmarshalObject(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// stripFences removes a wrapping markdown code block, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// extractObject slices out the substring between the first '{' and the last
// '}' so prose before or after the object does not break parsing. When no
// closing brace exists the tail from the first '{' is returned for repair.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, '}')
	if end > start {
		return s[start : end+1], true
	}
	return s[start:], true
}

// repairJSON balances a truncated JSON fragment: it closes an unterminated
// string if one is open, then appends the missing closers in nesting order.
func repairJSON(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
