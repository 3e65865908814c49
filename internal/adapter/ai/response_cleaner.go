// Package ai turns raw model replies into bounded analysis results.
package ai

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// fencePattern matches the first fenced block, optionally tagged json.
var fencePattern = regexp.MustCompile("(?s)```(?i:json)?[ \t]*\\r?\\n?(.*?)```")

// ResponseCleaner strips the wrapping models put around JSON replies.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// StripCodeFence returns the inner content of the first fenced block when
// one is present, otherwise the trimmed input.
func (rc *ResponseCleaner) StripCodeFence(response string) string {
	if m := fencePattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// ExtractJSONObject returns the first balanced {...} region of response.
// Braces inside JSON strings are ignored. ok is false when no complete
// object is found.
func (rc *ResponseCleaner) ExtractJSONObject(response string) (string, bool) {
	start := strings.IndexByte(response, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
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
				return response[start : i+1], true
			}
		}
	}
	return "", false
}

// DecodeObject parses response as a JSON object, first as a whole and then
// from its first balanced {...} region.
func (rc *ResponseCleaner) DecodeObject(response string) (map[string]any, error) {
	cleaned := rc.StripCodeFence(response)

	obj, err := decodeObject(cleaned)
	if err == nil {
		return obj, nil
	}
	if region, ok := rc.ExtractJSONObject(cleaned); ok {
		if obj, rerr := decodeObject(region); rerr == nil {
			return obj, nil
		}
	}
	return nil, &JSONValidationError{Original: response, Cleaned: cleaned, Message: "response is not a JSON object: " + err.Error()}
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		// "null" decodes into a nil map without error.
		return nil, errNullObject
	}
	return obj, nil
}

// JSONValidationError represents a JSON validation error.
type JSONValidationError struct {
	Original string
	Cleaned  string
	Message  string
}

func (e *JSONValidationError) Error() string {
	return e.Message
}

var errNullObject = errors.New("null is not an object")
