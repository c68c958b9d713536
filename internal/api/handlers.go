package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tasklink/internal/actions"
	"github.com/starford/tasklink/internal/bulk"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *actions.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *actions.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// notePath extracts the note path from the URL (everything after /api/notes/).
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// progress logs batch progress at debug level.
func (h *Handler) progress(op string) bulk.ProgressFunc {
	return func(current, total int, message string) {
		h.logger.Debug(op+": progress",
			slog.Int("current", current),
			slog.Int("total", total),
			slog.String("message", message))
	}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List indexed notes under a folder
//	@Tags			notes
//	@Produce		json
//	@Param			folder	query		string	false	"Folder prefix"
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListNotes(r.Context(), r.URL.Query().Get("folder"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: docs, Total: len(docs)})
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note by path
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.ReadNote(r.Context(), notePath(r))
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CheckDuplicates handles POST /api/duplicates.
//
//	@Summary		Report which sources already have a linked task
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathsRequest	true	"Source paths"
//	@Success		200		{object}	dedup.Report
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/duplicates [post]
func (h *Handler) CheckDuplicates(w http.ResponseWriter, r *http.Request) {
	var req PathsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rep, err := h.svc.CheckDuplicates(r.Context(), req.Paths)
	if err != nil {
		writeError(w, "check duplicates", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// PrecheckTasks handles POST /api/tasks/precheck.
//
//	@Summary		Dry run of a task generation batch
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TaskPrecheckRequest	true	"Batch"
//	@Success		200		{object}	actions.TaskPreCheck
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/precheck [post]
func (h *Handler) PrecheckTasks(w http.ResponseWriter, r *http.Request) {
	var req TaskPrecheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.PrecheckTasks(r.Context(), req.Paths, req.SkipExisting)
	if err != nil {
		writeError(w, "precheck tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateTasks handles POST /api/tasks/bulk. Per-item failures are part of
// the result; the status is 200 whenever the batch ran.
//
//	@Summary		Create one task per source document
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BulkTasksRequest	true	"Batch"
//	@Success		200		{object}	bulk.GenerateResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/bulk [post]
func (h *Handler) CreateTasks(w http.ResponseWriter, r *http.Request) {
	var req BulkTasksRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res := h.svc.CreateTasks(r.Context(), actions.GenerateRequest{
		Paths:        req.Paths,
		SkipExisting: req.SkipExisting,
		LinkToSource: req.LinkToSource,
	}, h.progress("create tasks"))
	writeJSON(w, http.StatusOK, res)
}

// PrecheckConversion handles POST /api/conversions/precheck.
//
//	@Summary		Classify documents of a conversion batch
//	@Tags			conversions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PathsRequest	true	"Documents"
//	@Success		200		{object}	actions.ConversionPreCheck
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/conversions/precheck [post]
func (h *Handler) PrecheckConversion(w http.ResponseWriter, r *http.Request) {
	var req PathsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.PrecheckConversion(r.Context(), req.Paths)
	if err != nil {
		writeError(w, "precheck conversion", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConvertNotes handles POST /api/conversions.
//
//	@Summary		Convert documents into tasks in place
//	@Tags			conversions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ConversionRequest	true	"Batch"
//	@Success		200		{object}	bulk.ConvertResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/conversions [post]
func (h *Handler) ConvertNotes(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.ConvertNotes(r.Context(), actions.ConvertRequest{
		Paths:         req.Paths,
		ApplyDefaults: req.ApplyDefaults,
		LinkToQuery:   req.LinkToQuery,
		QueryPath:     req.QueryPath,
		CountSkipped:  req.countSkipped(),
	}, h.progress("convert notes"))
	if err != nil {
		writeError(w, "convert notes", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListQueries handles GET /api/queries.
//
//	@Summary		List monitored saved queries
//	@Tags			queries
//	@Produce		json
//	@Success		200	{array}		querywatch.QueryStatus
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queries [get]
func (h *Handler) ListQueries(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.MonitoredQueries(r.Context())
	if err != nil {
		writeError(w, "list queries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": st})
}

// SnoozeQuery handles POST /api/queries/snooze.
//
//	@Summary		Silence a query for a number of minutes
//	@Tags			queries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SnoozeRequest	true	"Snooze"
//	@Success		200		{object}	SnoozeResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queries/snooze [post]
func (h *Handler) SnoozeQuery(w http.ResponseWriter, r *http.Request) {
	var req SnoozeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	until, err := h.svc.SnoozeQuery(r.Context(), req.QueryID, req.Minutes)
	if err != nil {
		writeError(w, "snooze query", err)
		return
	}
	writeJSON(w, http.StatusOK, SnoozeResponse{QueryID: req.QueryID, SnoozedUntil: until})
}

// UnsnoozeQuery handles DELETE /api/queries/snooze?query_id=.
//
//	@Summary		Clear a query's snooze
//	@Tags			queries
//	@Param			query_id	query	string	true	"Query definition path"
//	@Success		204			"Snooze cleared"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queries/snooze [delete]
func (h *Handler) UnsnoozeQuery(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("query_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query_id is required"))
		return
	}
	if err := h.svc.UnsnoozeQuery(r.Context(), id); err != nil {
		writeError(w, "unsnooze query", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshQueries handles POST /api/queries/refresh.
//
//	@Summary		Queue queries for the next evaluation pass
//	@Tags			queries
//	@Accept			json
//	@Param			body	body	RefreshRequest	false	"Query"
//	@Success		202		"Queued"
//	@Security		BearerAuth
//	@Router			/queries/refresh [post]
func (h *Handler) RefreshQueries(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.RefreshQuery(r.Context(), req.QueryID); err != nil {
		writeError(w, "refresh queries", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// MountView handles PUT /api/views.
//
//	@Summary		Publish the results a client computed for an open query
//	@Tags			views
//	@Accept			json
//	@Param			body	body	ViewRequest	true	"View snapshot"
//	@Success		204		"Mounted"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/views [put]
func (h *Handler) MountView(w http.ResponseWriter, r *http.Request) {
	var req ViewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.MountView(req.QueryPath, req.Items); err != nil {
		writeError(w, "mount view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnmountView handles DELETE /api/views?path=.
//
//	@Summary		Drop a mounted view
//	@Tags			views
//	@Param			path	query	string	true	"Query definition path"
//	@Success		204		"Unmounted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/views [delete]
func (h *Handler) UnmountView(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.UnmountView(p); err != nil {
		writeError(w, "unmount view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
