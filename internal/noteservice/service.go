// Package noteservice is the host-side document layer: it reads documents
// from the vault, creates new ones, and applies serialized frontmatter
// mutations that keep the index in step with disk.
package noteservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/checksum"
	"github.com/starford/tasklink/internal/index"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/parser"
	"github.com/starford/tasklink/internal/storage"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

// Document drops the content and returns the domain view.
func (d *NoteDetail) Document() models.Document {
	return models.Document{
		Path:        d.Path,
		Title:       d.Title,
		Frontmatter: d.Frontmatter,
		Tags:        d.Tags,
		Checksum:    d.Checksum,
	}
}

// Service coordinates storage and index operations.
type Service struct {
	store   storage.Provider
	db      index.NoteIndex
	locks   *pathLocks
	reindex singleflight.Group
}

// NewService creates a new note service.
func NewService(store storage.Provider, db index.NoteIndex) *Service {
	return &Service{store: store, db: db, locks: newPathLocks()}
}

// GetNote reads a note from storage and parses it.
func (s *Service) GetNote(_ context.Context, path string) (*NoteDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	return buildNoteDetail(path, data)
}

// GetDocument returns the current on-disk view of a document.
func (s *Service) GetDocument(ctx context.Context, path string) (models.Document, error) {
	d, err := s.GetNote(ctx, path)
	if err != nil {
		return models.Document{}, err
	}
	return d.Document(), nil
}

// ListDocuments returns every indexed document under folder.
func (s *Service) ListDocuments(_ context.Context, folder string) ([]models.Document, error) {
	rows, err := s.db.ListNotes(folder)
	if err != nil {
		return nil, err
	}
	out := make([]models.Document, len(rows))
	for i, r := range rows {
		out[i] = r.Document()
	}
	return out, nil
}

// CreateDocument writes a new document and indexes it. An existing file at
// path yields apperr.ErrAlreadyExists.
func (s *Service) CreateDocument(_ context.Context, path string, content []byte) (*NoteDetail, error) {
	unlock := s.locks.lock(path)
	defer unlock()

	exists, err := s.store.Exists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("noteservice: create %s: %w", path, apperr.ErrAlreadyExists)
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, fmt.Errorf("noteservice: create %s: %w", path, err)
	}
	if err := index.IndexFile(s.db, path, content, time.Now()); err != nil {
		return nil, fmt.Errorf("noteservice: index %s: %w", path, err)
	}
	return buildNoteDetail(path, content)
}

// Mutate applies fn to the frontmatter of the document at path as one
// read-modify-write. Calls for the same path are serialized. Only keys fn
// changes are rewritten; the body is never touched. When fn returns an
// error nothing is written.
func (s *Service) Mutate(ctx context.Context, path string, fn func(fm map[string]any) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock(path)
	defer unlock()

	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("noteservice: mutate %s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("noteservice: mutate %s: %w: %v", path, apperr.ErrMutationRejected, err)
	}

	out, err := parser.EditFrontmatter(data, fn)
	if err != nil {
		return fmt.Errorf("noteservice: mutate %s: %w", path, err)
	}
	if bytes.Equal(out, data) {
		return nil
	}
	if err := s.store.Write(path, out); err != nil {
		return fmt.Errorf("noteservice: mutate %s: %w: %v", path, apperr.ErrMutationRejected, err)
	}
	// A failed reindex is repaired by WaitIndexed or the file watcher.
	_ = index.IndexFile(s.db, path, out, time.Now())
	return nil
}

// WaitIndexed returns once the index holds the on-disk checksum of path,
// reindexing the file if it is stale.
func (s *Service) WaitIndexed(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Concurrent waiters on one path share a single read and reindex.
	_, err, _ := s.reindex.Do(path, func() (any, error) {
		data, err := s.store.Read(path)
		if err != nil {
			return nil, err
		}
		got, err := s.db.GetChecksum(path)
		if err != nil {
			return nil, err
		}
		if checksum.Equal(data, got) {
			return nil, nil
		}
		if err := index.IndexFile(s.db, path, data, time.Now()); err != nil {
			return nil, fmt.Errorf("noteservice: reindex %s: %w", path, err)
		}
		return nil, nil
	})
	return err
}

// buildNoteDetail constructs a NoteDetail from raw data without re-reading the file.
func buildNoteDetail(path string, data []byte) (*NoteDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Path:        path,
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Tags:        nonNilSlice(res.Tags),
		Frontmatter: res.Frontmatter,
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
