// Package bulk runs batch actions over source documents: creating linked
// tasks for them, or converting them into tasks in place.
//
// Items are processed one at a time in input order. A failing item is
// recorded in the result and the batch moves on; results never carry an
// error past the batch boundary.
package bulk

import (
	"context"
	"fmt"

	"github.com/starford/tasklink/internal/dedup"
)

// ProgressFunc is called before each item with its 1-based position.
type ProgressFunc func(current, total int, message string)

// DuplicateChecker reports which sources already have a linked task.
type DuplicateChecker interface {
	CheckForDuplicates(ctx context.Context, sourcePaths []string) (*dedup.Report, error)
}

// Outcome holds the counts shared by every batch result.
type Outcome struct {
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Fail records one failed item.
func (o *Outcome) Fail(path string, err error) {
	o.Failed++
	o.Errors = append(o.Errors, fmt.Sprintf("%s: %v", path, err))
}

// stop records a batch interruption without counting an item.
func (o *Outcome) stop(err error) {
	o.Errors = append(o.Errors, fmt.Sprintf("batch stopped: %v", err))
}

func nopProgress(int, int, string) {}

func progressOrNop(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nopProgress
	}
	return fn
}
