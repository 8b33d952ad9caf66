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

// CreateParameter inserts a parameter set for a version and returns it.
func (db *DB) CreateParameter(ctx context.Context, workspaceID uuid.UUID, p model.Parameter) (model.Parameter, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	// The version must belong to this workspace.
	if _, err := db.GetVersion(ctx, workspaceID, p.VersionID); err != nil {
		return model.Parameter{}, err
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO parameters (id, version_id, name, provider, model, temperature, max_tokens, top_p, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.VersionID, p.Name, p.Provider, p.Model, p.Temperature, p.MaxTokens, p.TopP, p.CreatedAt,
	)
	if err != nil {
		return model.Parameter{}, fmt.Errorf("storage: create parameter: %w", err)
	}
	return p, nil
}

// GetParameter retrieves a parameter set by ID, scoped to the workspace
// through its version's prompt.
func (db *DB) GetParameter(ctx context.Context, workspaceID, id uuid.UUID) (model.Parameter, error) {
	var p model.Parameter
	err := db.pool.QueryRow(ctx,
		`SELECT pa.id, pa.version_id, pa.name, pa.provider, pa.model, pa.temperature, pa.max_tokens, pa.top_p, pa.created_at
		 FROM parameters pa
		 JOIN prompt_versions v ON v.id = pa.version_id
		 JOIN prompts p ON p.id = v.prompt_id
		 WHERE pa.id = $1 AND p.workspace_id = $2`, id, workspaceID,
	).Scan(&p.ID, &p.VersionID, &p.Name, &p.Provider, &p.Model, &p.Temperature, &p.MaxTokens, &p.TopP, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Parameter{}, ErrNotFound
		}
		return model.Parameter{}, fmt.Errorf("storage: get parameter: %w", err)
	}
	return p, nil
}

// ListParameters returns all parameter sets attached to a version.
func (db *DB) ListParameters(ctx context.Context, workspaceID, versionID uuid.UUID) ([]model.Parameter, error) {
	if _, err := db.GetVersion(ctx, workspaceID, versionID); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, version_id, name, provider, model, temperature, max_tokens, top_p, created_at
		 FROM parameters WHERE version_id = $1
		 ORDER BY created_at DESC, id DESC`, versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list parameters: %w", err)
	}
	defer rows.Close()

	var params []model.Parameter
	for rows.Next() {
		var p model.Parameter
		if err := rows.Scan(&p.ID, &p.VersionID, &p.Name, &p.Provider, &p.Model, &p.Temperature, &p.MaxTokens, &p.TopP, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan parameter: %w", err)
		}
		params = append(params, p)
	}
	return params, rows.Err()
}
