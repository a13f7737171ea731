// Package structured implements the Structured-Output Parser: extracting a
// JSON object embedded in free-form model text and decoding it against a
// caller-supplied shape and validator. There is no reflective schema
// library here by design (see the pipeline's design notes on replacing a
// runtime-reflected model with explicit structs and a hand-written
// decoder) — every stage owns its own Go struct and validation function.
package structured

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject finds the first JSON object embedded in text, tolerating
// leading prose, trailing prose, and a surrounding code fence. It prefers
// the content of the first triple-backtick block whose language tag is
// empty or "json"; otherwise it scans for the first balanced "{...}" range,
// respecting string literals. Returns ok=false when no balanced object is
// found.
func ExtractJSONObject(text string) (string, bool) {
	if fenced, ok := firstJSONFence(text); ok {
		if obj, ok := firstBalancedObject(fenced); ok {
			return obj, true
		}
	}
	return firstBalancedObject(text)
}

// firstJSONFence returns the content of the first ```json or ``` fenced
// block (language tag empty or "json"), if any.
func firstJSONFence(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	for start != -1 {
		afterFence := start + len(fence)
		lineEnd := strings.IndexByte(text[afterFence:], '\n')
		if lineEnd == -1 {
			return "", false
		}
		lang := strings.TrimSpace(text[afterFence : afterFence+lineEnd])
		bodyStart := afterFence + lineEnd + 1
		end := strings.Index(text[bodyStart:], fence)
		if end == -1 {
			return "", false
		}
		body := text[bodyStart : bodyStart+end]
		if lang == "" || strings.EqualFold(lang, "json") {
			return body, true
		}
		start = strings.Index(text[bodyStart+end+len(fence):], fence)
		if start != -1 {
			start += bodyStart + end + len(fence)
		}
	}
	return "", false
}

// firstBalancedObject scans text for the first '{' and returns the
// substring up to its matching '}', respecting (double-quoted, backslash-
// escaped) string literals so braces inside string values don't confuse the
// balance count.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Parse extracts a JSON object from text and decodes it into a fresh T,
// returning nil when extraction, decoding, or validation fails. validate
// may be nil to skip validation.
func Parse[T any](text string, validate func(*T) error) *T {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	if validate != nil {
		if err := validate(&v); err != nil {
			return nil
		}
	}
	return &v
}
