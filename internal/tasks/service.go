package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tasklink/internal/apperr"
	"github.com/starford/tasklink/internal/noteservice"
	"github.com/starford/tasklink/internal/parser"
)

const untitled = "Untitled task"

var unsafeFilename = regexp.MustCompile(`[\\/:*?"<>|#^\[\]]+`)

// TaskData is the input of CreateTask. Empty fields are omitted.
type TaskData struct {
	Title     string
	Status    string
	Priority  string
	Due       string
	Scheduled string
	Contexts  []string
	Projects  []string
}

// TaskHandle identifies a created task.
type TaskHandle struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// DocumentCreator writes new vault documents.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, path string, content []byte) (*noteservice.NoteDetail, error)
}

// Service creates task documents according to a Settings schema.
type Service struct {
	docs     DocumentCreator
	settings Settings
	now      func() time.Time
}

// NewService creates a task service.
func NewService(docs DocumentCreator, settings Settings) *Service {
	return &Service{docs: docs, settings: settings, now: time.Now}
}

// CreateTask writes a new task document under the tasks folder. The file is
// named after the title; on collision a short random suffix is appended.
func (s *Service) CreateTask(ctx context.Context, data TaskData) (TaskHandle, error) {
	title := strings.TrimSpace(data.Title)
	if title == "" {
		title = untitled
	}
	content, err := s.render(title, data)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("tasks: render %q: %w", title, err)
	}

	name := sanitizeFilename(title)
	p := path.Join(s.settings.Folder, name+".md")
	_, err = s.docs.CreateDocument(ctx, p, content)
	if errors.Is(err, apperr.ErrAlreadyExists) {
		p = path.Join(s.settings.Folder, name+"-"+uuid.NewString()[:8]+".md")
		_, err = s.docs.CreateDocument(ctx, p, content)
	}
	if err != nil {
		return TaskHandle{}, fmt.Errorf("tasks: create %q: %w", title, err)
	}
	return TaskHandle{Path: p, Title: title}, nil
}

func (s *Service) render(title string, data TaskData) ([]byte, error) {
	f := s.settings.Fields
	now := s.now().Format(time.RFC3339)

	status := data.Status
	if status == "" {
		status = s.settings.Defaults.Status
	}
	priority := data.Priority
	if priority == "" {
		priority = s.settings.Defaults.Priority
	}

	pairs := []parser.Pair{
		{Key: f.Title, Value: title},
		{Key: f.Status, Value: emptyNil(status)},
		{Key: f.Priority, Value: emptyNil(priority)},
	}
	if f.Due != "" {
		pairs = append(pairs, parser.Pair{Key: f.Due, Value: emptyNil(data.Due)})
	}
	if f.Scheduled != "" {
		pairs = append(pairs, parser.Pair{Key: f.Scheduled, Value: emptyNil(data.Scheduled)})
	}
	if f.Contexts != "" && len(data.Contexts) > 0 {
		pairs = append(pairs, parser.Pair{Key: f.Contexts, Value: data.Contexts})
	}
	if len(data.Projects) > 0 {
		pairs = append(pairs, parser.Pair{Key: f.Projects, Value: data.Projects})
	}

	id := s.settings.Identification
	switch id.Method {
	case MethodProperty:
		pairs = append(pairs, parser.Pair{Key: id.PropertyName, Value: id.MarkerValue()})
	default:
		pairs = append(pairs, parser.Pair{Key: f.Tags, Value: []string{strings.TrimPrefix(id.Tag, "#")}})
	}

	pairs = append(pairs,
		parser.Pair{Key: f.DateCreated, Value: now},
		parser.Pair{Key: f.DateModified, Value: now},
	)
	return parser.Compose(pairs, "")
}

func emptyNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sanitizeFilename(title string) string {
	name := unsafeFilename.ReplaceAllString(title, " ")
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, ". ")
	if name == "" {
		return untitled
	}
	if r := []rune(name); len(r) > 120 {
		name = strings.TrimSpace(string(r[:120]))
	}
	return name
}
