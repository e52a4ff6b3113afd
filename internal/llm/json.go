package llm

import "strings"

// ExtractJSONBlock pulls the JSON payload out of a model reply that may
// wrap it in markdown fences or surrounding prose. It returns the
// trimmed candidate text; callers decide what malformed output means.
func ExtractJSONBlock(s string) string {
	s = stripFences(s)
	if s == "" {
		return s
	}
	if s[0] == '{' || s[0] == '[' {
		return s
	}
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	start := objStart
	end := strings.LastIndexByte(s, '}')
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		start = arrStart
		end = strings.LastIndexByte(s, ']')
	}
	if start == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
