package heatmap

import (
	"encoding/json"
	"regexp"
	"strings"
)

// extractBalanced returns the substring of text starting at start and ending
// at the delimiter that balances text[start], skipping delimiters inside
// quoted strings (including escaped quotes). It returns "" when start does
// not point at the open delimiter or the scan runs off the end of the text
// without balancing. The surrounding document is not valid JSON, so this
// character scan is the only way to carve out the embedded object.
func extractBalanced(text string, start int, open, close byte) string {
	if start < 0 || start >= len(text) {
		return ""
	}
	if text[start] != open {
		return ""
	}

	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}

		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// assignedObjectPattern matches `var name = {` and `name = {` assignments.
func assignedObjectPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?:var\s+)?` + regexp.QuoteMeta(name) + `\s*=\s*`)
}

// windowAssignPattern matches `window["name"] = {` assignments, which newer
// page revisions use instead of a bare variable.
func windowAssignPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`window\[\s*"` + regexp.QuoteMeta(name) + `"\s*\]\s*=\s*`)
}

// ExtractAssignedObject locates a `name = { ... }` assignment in text and
// parses the balanced object literal as JSON. A missing variable, an
// unbalanced object or a parse failure all return nil: the page format
// evolves and absence is an expected outcome, not an error.
func ExtractAssignedObject(text, name string) map[string]any {
	m := assignedObjectPattern(name).FindStringIndex(text)
	if m == nil {
		m = windowAssignPattern(name).FindStringIndex(text)
		if m == nil {
			return nil
		}
	}
	start := strings.IndexByte(text[m[1]:], '{')
	if start < 0 {
		return nil
	}
	raw := extractBalanced(text, m[1]+start, '{', '}')
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

var playerConfigPattern = regexp.MustCompile(`ytcfg\.set\(\s*\{`)

// ExtractPlayerConfig pulls the page configuration blob out of the
// `ytcfg.set({...})` call. The blob carries the API key and client context
// needed for the secondary player endpoint; those values are versioned and
// must be re-derived from the page rather than hardcoded.
func ExtractPlayerConfig(text string) map[string]any {
	m := playerConfigPattern.FindStringIndex(text)
	if m == nil {
		return nil
	}
	start := strings.LastIndexByte(text[:m[1]], '{')
	if start < 0 {
		return nil
	}
	raw := extractBalanced(text, start, '{', '}')
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// ExtractKeyArray locates the first `"key": [ ... ]` occurrence in text and
// parses the balanced array value. Returns nil when the key is absent, the
// array never closes, or the carved substring is not valid JSON.
func ExtractKeyArray(text, key string) []any {
	pos := strings.Index(text, `"`+key+`"`)
	if pos < 0 {
		return nil
	}
	start := strings.IndexByte(text[pos:], '[')
	if start < 0 {
		return nil
	}
	raw := extractBalanced(text, pos+start, '[', ']')
	if raw == "" {
		return nil
	}
	var out []any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
