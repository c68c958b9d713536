package querywatch

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/tasklink/internal/apperr"
)

// Definition is a saved query file.
type Definition struct {
	Name   string `yaml:"name"`
	Notify bool   `yaml:"notify"`
	Views  []View `yaml:"views"`
	Source string `yaml:"source"`
}

// View is one named view of a saved query.
type View struct {
	Name   string `yaml:"name"`
	Notify bool   `yaml:"notify"`
}

// ParseDefinition decodes a saved query. Malformed YAML yields an error
// wrapping apperr.ErrInvalidDefinition.
func ParseDefinition(data []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Definition{}, fmt.Errorf("querywatch: %w: %v", apperr.ErrInvalidDefinition, err)
	}
	return d, nil
}

// NotifyEnabled reports whether the query or any of its views asks for
// notifications.
func (d Definition) NotifyEnabled() bool {
	if d.Notify {
		return true
	}
	for _, v := range d.Views {
		if v.Notify {
			return true
		}
	}
	return false
}

// DisplayName returns the query name, else the first notifying view name,
// else the file basename without suffix.
func (d Definition) DisplayName(queryPath, suffix string) string {
	if n := strings.TrimSpace(d.Name); n != "" {
		return n
	}
	for _, v := range d.Views {
		if n := strings.TrimSpace(v.Name); v.Notify && n != "" {
			return n
		}
	}
	base := path.Base(queryPath)
	if suffix != "" && strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
		return strings.TrimSuffix(base, suffix)
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
