package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tasklink/internal/models"
	"github.com/starford/tasklink/internal/noteservice"
)

// maxBatch caps the number of paths in one batch request.
const maxBatch = 1000

var pathsRules = []validation.Rule{
	validation.Required,
	validation.Length(1, maxBatch),
	validation.Each(validation.Required),
}

// PathsRequest is the body of POST /duplicates and POST /conversions/precheck.
type PathsRequest struct {
	Paths []string `json:"paths" example:"Projects/Alpha.md" validate:"required"`
}

// Validate implements validation.Validatable.
func (r PathsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Paths, pathsRules...),
	)
}

// TaskPrecheckRequest is the body of POST /tasks/precheck.
type TaskPrecheckRequest struct {
	Paths        []string `json:"paths" validate:"required"`
	SkipExisting bool     `json:"skip_existing"`
}

// Validate implements validation.Validatable.
func (r TaskPrecheckRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Paths, pathsRules...),
	)
}

// BulkTasksRequest is the body of POST /tasks/bulk.
type BulkTasksRequest struct {
	Paths        []string `json:"paths" validate:"required"`
	SkipExisting bool     `json:"skip_existing"`
	LinkToSource bool     `json:"link_to_source"`
}

// Validate implements validation.Validatable.
func (r BulkTasksRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Paths, pathsRules...),
	)
}

// ConversionRequest is the body of POST /conversions. CountSkipped
// defaults to true.
type ConversionRequest struct {
	Paths         []string `json:"paths" validate:"required"`
	ApplyDefaults bool     `json:"apply_defaults"`
	LinkToQuery   bool     `json:"link_to_query"`
	QueryPath     string   `json:"query_path" example:"Views/open.query.yaml"`
	CountSkipped  *bool    `json:"count_skipped,omitempty"`
}

// Validate implements validation.Validatable.
func (r ConversionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Paths, pathsRules...),
		validation.Field(&r.QueryPath, validation.When(r.LinkToQuery, validation.Required)),
	)
}

func (r ConversionRequest) countSkipped() bool {
	return r.CountSkipped == nil || *r.CountSkipped
}

// SnoozeRequest is the body of POST /queries/snooze.
type SnoozeRequest struct {
	QueryID string `json:"query_id" example:"Views/open.query.yaml" validate:"required"`
	Minutes int    `json:"minutes" example:"15" validate:"required"`
}

// Validate implements validation.Validatable.
func (r SnoozeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.QueryID, validation.Required),
		validation.Field(&r.Minutes, validation.Required, validation.Min(1), validation.Max(7*24*60)),
	)
}

// SnoozeResponse reports the new snooze deadline.
type SnoozeResponse struct {
	QueryID      string    `json:"query_id"`
	SnoozedUntil time.Time `json:"snoozed_until"`
}

// RefreshRequest is the body of POST /queries/refresh. An empty id queues
// every query that is not snoozed.
type RefreshRequest struct {
	QueryID string `json:"query_id"`
}

// Validate implements validation.Validatable.
func (r RefreshRequest) Validate() error { return nil }

// ViewRequest is the body of PUT /views.
type ViewRequest struct {
	QueryPath string                    `json:"query_path" validate:"required"`
	Items     []models.NotificationItem `json:"items"`
}

// Validate implements validation.Validatable.
func (r ViewRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.QueryPath, validation.Required),
	)
}

// NoteDetail is the full note response type.
type NoteDetail = noteservice.NoteDetail

// NoteListResponse wraps a folder listing.
type NoteListResponse struct {
	Notes []models.Document `json:"notes" validate:"required"`
	Total int               `json:"total" example:"42" validate:"required"`
}
