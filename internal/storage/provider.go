// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/tasklink/internal/models"

// MarkdownSuffix selects note documents in List.
const MarkdownSuffix = ".md"

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns metadata for every file under dir whose name ends with suffix.
	List(dir, suffix string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	// A missing file yields an error wrapping apperr.ErrNotFound.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Delete removes the file at path (relative to vault root).
	Delete(path string) error
}
