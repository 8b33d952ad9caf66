package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/storage"
)

// HandleCreatePrompt creates a prompt in the caller's workspace.
func (h *Handlers) HandleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	var req model.CreatePromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	req.WorkspaceID = workspaceID
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	prompt, err := h.db.CreatePrompt(r.Context(), model.Prompt{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.logger.Error("create prompt", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create prompt")
		return
	}

	writeJSON(w, r, http.StatusCreated, prompt)
}

// HandleGetPrompt fetches a single prompt.
func (h *Handlers) HandleGetPrompt(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	prompt, err := h.db.GetPrompt(r.Context(), workspaceID, id)
	if err != nil {
		h.writeStorageError(w, r, err, "prompt")
		return
	}
	writeJSON(w, r, http.StatusOK, prompt)
}

// HandleListPrompts lists the workspace's prompts.
func (h *Handlers) HandleListPrompts(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	prompts, err := h.db.ListPrompts(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error("list prompts", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list prompts")
		return
	}
	writeJSON(w, r, http.StatusOK, prompts)
}

// HandleCreateVersion appends an immutable version to a prompt. The
// version number is assigned serially by the storage layer.
func (h *Handlers) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	promptID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req model.CreateVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	version, err := h.db.CreateVersion(r.Context(), workspaceID, model.PromptVersion{
		ID:       uuid.New(),
		PromptID: promptID,
		Template: req.Template,
	})
	if err != nil {
		h.writeStorageError(w, r, err, "prompt")
		return
	}
	writeJSON(w, r, http.StatusCreated, version)
}

// HandleListVersions lists a prompt's versions, newest first.
func (h *Handlers) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	promptID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.db.ListVersions(r.Context(), workspaceID, promptID)
	if err != nil {
		h.writeStorageError(w, r, err, "prompt")
		return
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// HandleCreateParameter attaches a named parameter set to a version.
func (h *Handlers) HandleCreateParameter(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	versionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req model.CreateParameterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	param, err := h.db.CreateParameter(r.Context(), workspaceID, model.Parameter{
		ID:          uuid.New(),
		VersionID:   versionID,
		Name:        req.Name,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		h.writeStorageError(w, r, err, "version")
		return
	}
	writeJSON(w, r, http.StatusCreated, param)
}

// HandleListParameters lists a version's parameter sets.
func (h *Handlers) HandleListParameters(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	versionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	params, err := h.db.ListParameters(r.Context(), workspaceID, versionID)
	if err != nil {
		h.writeStorageError(w, r, err, "version")
		return
	}
	writeJSON(w, r, http.StatusOK, params)
}

// HandleCreateCredential stores a provider credential. The plaintext
// secret is sealed before it touches the database and is never echoed
// back in any response.
func (h *Handlers) HandleCreateCredential(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	var req model.CreateCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	req.WorkspaceID = workspaceID
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	sealed, err := h.keeper.Seal(req.Secret)
	if err != nil {
		h.logger.Error("seal credential secret", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to store credential")
		return
	}

	cred, err := h.db.CreateCredential(r.Context(), model.Credential{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Provider:    req.Provider,
		BaseURL:     req.BaseURL,
		Secret:      sealed,
	})
	if err != nil {
		h.logger.Error("create credential", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create credential")
		return
	}

	h.refreshCredentialCache(r)
	writeJSON(w, r, http.StatusCreated, cred)
}

// HandleListCredentials lists the workspace's credentials. Secrets stay
// sealed and are excluded from the JSON encoding.
func (h *Handlers) HandleListCredentials(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}

	creds, err := h.db.ListCredentials(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error("list credentials", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list credentials")
		return
	}
	writeJSON(w, r, http.StatusOK, creds)
}

// HandleRevokeCredential revokes a credential. Revocation takes effect
// in the dispatcher after the next cache refresh.
func (h *Handlers) HandleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.requireWorkspace(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.db.RevokeCredential(r.Context(), workspaceID, id); err != nil {
		h.writeStorageError(w, r, err, "credential")
		return
	}

	h.refreshCredentialCache(r)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

// refreshCredentialCache reloads the dispatcher's credential snapshot
// after a credential write, so new keys work and revoked keys stop
// working without waiting for the periodic refresh.
func (h *Handlers) refreshCredentialCache(r *http.Request) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Refresh(r.Context()); err != nil {
		h.logger.Warn("credential cache refresh after write failed", "error", err)
	}
}

// writeStorageError maps storage errors to API responses.
func (h *Handlers) writeStorageError(w http.ResponseWriter, r *http.Request, err error, entity string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, entity+" not found")
		return
	}
	h.logger.Error("storage error", "entity", entity, "error", err)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
}
