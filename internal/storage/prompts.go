package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptdeck/promptdeck/internal/model"
)

// CreatePrompt inserts a prompt and returns it.
func (db *DB) CreatePrompt(ctx context.Context, p model.Prompt) (model.Prompt, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO prompts (id, workspace_id, name, description, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.WorkspaceID, p.Name, p.Description, p.CreatedAt,
	)
	if err != nil {
		return model.Prompt{}, fmt.Errorf("storage: create prompt: %w", err)
	}
	return p, nil
}

// GetPrompt retrieves a prompt by ID within a workspace.
func (db *DB) GetPrompt(ctx context.Context, workspaceID, id uuid.UUID) (model.Prompt, error) {
	var p model.Prompt
	err := db.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name, description, created_at
		 FROM prompts WHERE id = $1 AND workspace_id = $2`, id, workspaceID,
	).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Prompt{}, ErrNotFound
		}
		return model.Prompt{}, fmt.Errorf("storage: get prompt: %w", err)
	}
	return p, nil
}

// ListPrompts returns all prompts in a workspace, newest first.
func (db *DB) ListPrompts(ctx context.Context, workspaceID uuid.UUID) ([]model.Prompt, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, workspace_id, name, description, created_at
		 FROM prompts WHERE workspace_id = $1
		 ORDER BY created_at DESC, id DESC`, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []model.Prompt
	for rows.Next() {
		var p model.Prompt
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// CreateVersion inserts the next version of a prompt inside a transaction
// so concurrent writers cannot claim the same version number.
func (db *DB) CreateVersion(ctx context.Context, workspaceID uuid.UUID, v model.PromptVersion) (model.PromptVersion, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.PromptVersion{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the prompt row so version numbering is serialized per prompt.
	var promptID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM prompts WHERE id = $1 AND workspace_id = $2 FOR UPDATE`,
		v.PromptID, workspaceID,
	).Scan(&promptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PromptVersion{}, ErrNotFound
		}
		return model.PromptVersion{}, fmt.Errorf("storage: lock prompt: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM prompt_versions WHERE prompt_id = $1`,
		v.PromptID,
	).Scan(&v.Number)
	if err != nil {
		return model.PromptVersion{}, fmt.Errorf("storage: next version number: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO prompt_versions (id, prompt_id, number, template, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.PromptID, v.Number, v.Template, v.CreatedAt,
	)
	if err != nil {
		return model.PromptVersion{}, fmt.Errorf("storage: create version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.PromptVersion{}, fmt.Errorf("storage: commit version: %w", err)
	}
	return v, nil
}

// GetVersion retrieves a version by ID, scoped to the workspace through
// its prompt.
func (db *DB) GetVersion(ctx context.Context, workspaceID, id uuid.UUID) (model.PromptVersion, error) {
	var v model.PromptVersion
	err := db.pool.QueryRow(ctx,
		`SELECT v.id, v.prompt_id, v.number, v.template, v.created_at
		 FROM prompt_versions v
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.id = $1 AND p.workspace_id = $2`, id, workspaceID,
	).Scan(&v.ID, &v.PromptID, &v.Number, &v.Template, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PromptVersion{}, ErrNotFound
		}
		return model.PromptVersion{}, fmt.Errorf("storage: get version: %w", err)
	}
	return v, nil
}

// ListVersions returns all versions of a prompt, newest number first.
func (db *DB) ListVersions(ctx context.Context, workspaceID, promptID uuid.UUID) ([]model.PromptVersion, error) {
	// Verify the prompt exists in this workspace before listing.
	if _, err := db.GetPrompt(ctx, workspaceID, promptID); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, prompt_id, number, template, created_at
		 FROM prompt_versions WHERE prompt_id = $1
		 ORDER BY number DESC`, promptID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list versions: %w", err)
	}
	defer rows.Close()

	var versions []model.PromptVersion
	for rows.Next() {
		var v model.PromptVersion
		if err := rows.Scan(&v.ID, &v.PromptID, &v.Number, &v.Template, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
