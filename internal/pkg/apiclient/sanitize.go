package apiclient

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	scriptBlock   = regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`)
	scriptTag     = regexp.MustCompile(`(?i)<\s*/?\s*script[^>]*>`)
	jsScheme      = regexp.MustCompile(`(?i)javascript\s*:`)
	inlineHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// SanitizeString strips control characters and script-like content.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = scriptBlock.ReplaceAllString(s, "")
	s = scriptTag.ReplaceAllString(s, "")
	s = jsScheme.ReplaceAllString(s, "")
	s = inlineHandler.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// SanitizeValue walks a decoded JSON value and sanitizes every string,
// map keys included.
func SanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[SanitizeString(k)] = SanitizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = SanitizeValue(val)
		}
		return out
	default:
		return v
	}
}

// sanitizePayload serializes body with every string field sanitized.
// Numbers keep their exact textual form.
func sanitizePayload(body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(SanitizeValue(generic))
}
