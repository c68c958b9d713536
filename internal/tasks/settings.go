// Package tasks recognises task documents and creates new ones.
package tasks

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Identification methods.
const (
	MethodTag      = "tag"
	MethodProperty = "property"
)

// Settings is the task schema of a vault. It is passed by value into every
// batch run.
type Settings struct {
	Folder         string         `yaml:"folder"`
	Identification Identification `yaml:"identification"`
	Defaults       Defaults       `yaml:"defaults"`
	Fields         FieldMapping   `yaml:"fields"`
}

// Identification selects how a task document is marked.
type Identification struct {
	Method        string `yaml:"method"`
	Tag           string `yaml:"tag"`
	PropertyName  string `yaml:"property_name"`
	PropertyValue string `yaml:"property_value"`
}

// Defaults are the values applied to new or converted tasks.
type Defaults struct {
	Status   string `yaml:"status"`
	Priority string `yaml:"priority"`
}

// FieldMapping names the frontmatter keys of the task schema.
type FieldMapping struct {
	Title        string `yaml:"title"`
	Status       string `yaml:"status"`
	Priority     string `yaml:"priority"`
	Due          string `yaml:"due"`
	Scheduled    string `yaml:"scheduled"`
	Contexts     string `yaml:"contexts"`
	Projects     string `yaml:"projects"`
	Tags         string `yaml:"tags"`
	DateCreated  string `yaml:"date_created"`
	DateModified string `yaml:"date_modified"`
}

// DefaultSettings returns the schema used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Folder: "Tasks",
		Identification: Identification{
			Method: MethodTag,
			Tag:    "task",
		},
		Defaults: Defaults{
			Status:   "open",
			Priority: "normal",
		},
		Fields: FieldMapping{
			Title:        "title",
			Status:       "status",
			Priority:     "priority",
			Due:          "due",
			Scheduled:    "scheduled",
			Contexts:     "contexts",
			Projects:     "projects",
			Tags:         "tags",
			DateCreated:  "dateCreated",
			DateModified: "dateModified",
		},
	}
}

// Validate validates the task settings.
func (s *Settings) Validate() error {
	if err := validation.ValidateStruct(s,
		validation.Field(&s.Folder, validation.Required),
	); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	if err := s.Identification.Validate(); err != nil {
		return fmt.Errorf("tasks: identification: %w", err)
	}
	if err := s.Fields.Validate(); err != nil {
		return fmt.Errorf("tasks: fields: %w", err)
	}
	return nil
}

// Validate validates the identification method and its parameters.
func (i *Identification) Validate() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.Method, validation.Required, validation.In(MethodTag, MethodProperty)),
		validation.Field(&i.Tag, validation.When(i.Method == MethodTag, validation.Required)),
		validation.Field(&i.PropertyName, validation.When(i.Method == MethodProperty, validation.Required)),
		validation.Field(&i.PropertyValue, validation.When(i.Method == MethodProperty, validation.Required)),
	)
}

// Validate checks that every field the engines write has a key.
func (f *FieldMapping) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Title, validation.Required),
		validation.Field(&f.Status, validation.Required),
		validation.Field(&f.Priority, validation.Required),
		validation.Field(&f.Projects, validation.Required),
		validation.Field(&f.Tags, validation.Required),
		validation.Field(&f.DateCreated, validation.Required),
		validation.Field(&f.DateModified, validation.Required),
	)
}

// MarkerValue returns the configured property value, with "true" and
// "false" coerced to booleans.
func (i Identification) MarkerValue() any {
	switch i.PropertyValue {
	case "true":
		return true
	case "false":
		return false
	}
	return i.PropertyValue
}
