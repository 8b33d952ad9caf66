package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/pagination"
	"github.com/promptdeck/promptdeck/internal/service/executions"
	"github.com/promptdeck/promptdeck/internal/storage"
)

// HandleExecute runs a prompt version synchronously and returns the
// recorded execution. Failed attempts are recorded too, so a 200 here
// means "attempt recorded", not "provider call succeeded"; check the
// execution's status field.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeExecuteRequest(w, r, workspaceID)
	if !ok {
		return
	}

	exec, err := h.execSvc.Execute(r.Context(), req)
	if err != nil {
		h.writeExecuteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exec)
}

// HandleExecuteStream runs a prompt version and relays output text over
// Server-Sent Events as it arrives. The terminal event carries the full
// recorded execution.
func (h *Handlers) HandleExecuteStream(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeExecuteRequest(w, r, workspaceID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{}) // Streams outlive the server write timeout.
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	exec, err := h.execSvc.ExecuteStream(r.Context(), req, func(text string) error {
		frame, merr := json.Marshal(map[string]string{"text": text})
		if merr != nil {
			return merr
		}
		if _, werr := w.Write(formatSSE("chunk", string(frame))); werr != nil {
			return werr
		}
		return rc.Flush()
	})
	if err != nil {
		// Headers are already on the wire; the best we can do is an
		// error event before closing.
		detail, _ := json.Marshal(model.ErrorDetail{
			Code:    executeErrorCode(err),
			Message: err.Error(),
		})
		w.Write(formatSSE("error", string(detail)))
		rc.Flush()
		return
	}

	payload, merr := json.Marshal(exec)
	if merr != nil {
		h.logger.Error("marshal execution for stream", "error", merr)
		return
	}
	w.Write(formatSSE("done", string(payload)))
	rc.Flush()
}

// HandleGetExecution fetches one recorded execution.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	exec, err := h.execSvc.Get(r.Context(), workspaceID, id)
	if err != nil {
		h.writeStorageError(w, r, err, "execution")
		return
	}
	writeJSON(w, r, http.StatusOK, exec)
}

// HandleListExecutions lists recorded executions with keyset pagination.
// Pages are ordered oldest first; after= advances, before= goes back.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	filter := storage.ExecutionFilter{
		WorkspaceID: workspaceID,
		Limit:       h.cfg.DefaultPageSize,
	}

	if raw := q.Get("version_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid version_id")
			return
		}
		filter.VersionID = &id
	}

	if raw := q.Get("status"); raw != "" {
		status := model.ExecutionStatus(raw)
		switch status {
		case model.StatusSuccess, model.StatusFailure:
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status")
			return
		}
		filter.Status = &status
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if filter.Limit > h.cfg.MaxPageSize {
		filter.Limit = h.cfg.MaxPageSize
	}

	after, before := q.Get("after"), q.Get("before")
	if after != "" && before != "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeAmbiguousCursor, "supply either after or before, not both")
		return
	}
	if after != "" {
		cursor, err := pagination.Decode(after)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeMalformedCursor, "malformed after cursor")
			return
		}
		filter.After = &cursor
	}
	if before != "" {
		cursor, err := pagination.Decode(before)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeMalformedCursor, "malformed before cursor")
			return
		}
		filter.Before = &cursor
	}

	execs, more, err := h.db.ListExecutions(r.Context(), filter)
	if err != nil {
		h.logger.Error("list executions", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list executions")
		return
	}

	var nextCursor *string
	if more && len(execs) > 0 {
		last := execs[len(execs)-1]
		encoded := pagination.Encode(pagination.Cursor{
			Field: pagination.SortCreatedAt,
			Value: last.CreatedAt,
			ID:    last.ID,
		})
		nextCursor = &encoded
	}

	writeList(w, r, execs, nextCursor, filter.Limit)
}

// HandleSubscribe streams execution events for the caller's workspace
// over Server-Sent Events. Events are emitted as executions are
// recorded, via Postgres NOTIFY.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	if h.broker == nil {
		// No NOTIFY connection configured, so no events to relay.
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event feed not available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	events := h.broker.Subscribe(workspaceID)
	defer h.broker.Unsubscribe(workspaceID, events)

	// Initial comment so clients see bytes immediately.
	w.Write([]byte(": connected\n\n"))
	rc.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			if _, err := w.Write(event); err != nil {
				return
			}
			rc.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			rc.Flush()
		}
	}
}

// decodeExecuteRequest decodes and validates an execution request body.
func (h *Handlers) decodeExecuteRequest(w http.ResponseWriter, r *http.Request, workspaceID uuid.UUID) (model.ExecuteRequest, bool) {
	var req model.ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return req, false
	}
	req.WorkspaceID = workspaceID
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return req, false
	}
	return req, true
}

// writeExecuteError maps execution pipeline errors to API responses.
// Render and dispatch failures never reach here (they come back as
// failed executions); only lookup and persistence errors do.
func (h *Handlers) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "version, parameter, or credential not found")
	case errors.Is(err, executions.ErrParameterMismatch):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "parameter does not belong to the requested version")
	default:
		h.logger.Error("execute", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to record execution")
	}
}

func executeErrorCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.ErrCodeNotFound
	case errors.Is(err, executions.ErrParameterMismatch):
		return model.ErrCodeInvalidInput
	default:
		return model.ErrCodeInternalError
	}
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
