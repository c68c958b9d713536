// Package models defines the domain types for tasklink.
package models

import "time"

// Document is a parsed Markdown file in the vault. Frontmatter is the
// document's metadata bag.
type Document struct {
	Path        string         `json:"path"`
	Title       string         `json:"title,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Checksum    string         `json:"checksum"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceItem is one input of a batch action.
type SourceItem struct {
	Path        string         `json:"path"`
	DisplayName string         `json:"display_name,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// SourceItemFromDocument builds a batch input from an indexed document.
func SourceItemFromDocument(d Document) SourceItem {
	return SourceItem{
		Path:        d.Path,
		DisplayName: d.Title,
		Properties:  d.Frontmatter,
	}
}

// TaskRecord is a document recognised as a task. Links holds the raw
// entries of its link-list field; they are resolved at read time.
type TaskRecord struct {
	Path  string   `json:"path"`
	Title string   `json:"title,omitempty"`
	Links []string `json:"links,omitempty"`
}
