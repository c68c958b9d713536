package bulk

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/tasklink/internal/dedup"
	"github.com/starford/tasklink/internal/index"
	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/noteservice"
	"github.com/starford/tasklink/internal/tasks"
	"github.com/starford/tasklink/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	notes    *noteservice.Service
	settings tasks.Settings
	detector *dedup.Detector
}

func newEnv(t *testing.T, files map[string]string) *env {
	t.Helper()
	dir, store := testutil.TestVault(t)
	testutil.WriteFiles(t, dir, files)
	db := testutil.TestDB(t)
	if err := index.Sync(db, store, discardLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	notes := noteservice.NewService(store, db)
	settings := tasks.DefaultSettings()
	return &env{
		notes:    notes,
		settings: settings,
		detector: dedup.NewDetector(tasks.NewRepository(notes, settings)),
	}
}

func (e *env) items(t *testing.T, paths ...string) []models.SourceItem {
	t.Helper()
	out := make([]models.SourceItem, 0, len(paths))
	for _, p := range paths {
		d, err := e.notes.GetDocument(context.Background(), p)
		if err != nil {
			t.Fatalf("GetDocument(%s): %v", p, err)
		}
		out = append(out, models.SourceItemFromDocument(d))
	}
	return out
}

func (e *env) frontmatter(t *testing.T, p string) map[string]any {
	t.Helper()
	d, err := e.notes.GetDocument(context.Background(), p)
	if err != nil {
		t.Fatalf("GetDocument(%s): %v", p, err)
	}
	return d.Frontmatter
}
