package tasks

import (
	"fmt"
	"strings"
)

// Classifier decides whether a metadata bag belongs to a task document.
type Classifier struct {
	id      Identification
	tagsKey string
}

// NewClassifier returns a classifier for the given schema.
func NewClassifier(s Settings) Classifier {
	key := s.Fields.Tags
	if key == "" {
		key = "tags"
	}
	return Classifier{id: s.Identification, tagsKey: key}
}

// IsTaskRecord reports whether fm carries the task marker.
func (c Classifier) IsTaskRecord(fm map[string]any) bool {
	if fm == nil {
		return false
	}
	switch c.id.Method {
	case MethodProperty:
		v, ok := fm[c.id.PropertyName]
		if !ok || v == nil {
			return false
		}
		return propertyMatches(v, c.id.MarkerValue())
	default:
		return HasTag(fm[c.tagsKey], c.id.Tag)
	}
}

// HasTag reports whether a tags value (list or scalar) contains tag. A
// leading # on either side is ignored.
func HasTag(v any, tag string) bool {
	want := strings.TrimPrefix(strings.TrimSpace(tag), "#")
	if want == "" {
		return false
	}
	match := func(s string) bool {
		return strings.TrimPrefix(strings.TrimSpace(s), "#") == want
	}
	switch t := v.(type) {
	case string:
		return match(t)
	case []string:
		for _, s := range t {
			if match(s) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}

func propertyMatches(v, want any) bool {
	if b, ok := want.(bool); ok {
		switch got := v.(type) {
		case bool:
			return got == b
		case string:
			return got == fmt.Sprint(b)
		}
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(want)
}
