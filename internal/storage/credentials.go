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

// CreateCredential inserts a credential with its sealed secret and returns it.
func (db *DB) CreateCredential(ctx context.Context, c model.Credential) (model.Credential, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO credentials (id, workspace_id, name, provider, base_url, secret, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.WorkspaceID, c.Name, c.Provider, c.BaseURL, c.Secret, c.CreatedAt,
	)
	if err != nil {
		return model.Credential{}, fmt.Errorf("storage: create credential: %w", err)
	}
	return c, nil
}

// GetCredential retrieves a credential by ID within a workspace.
// The sealed secret is included; callers must not expose it.
func (db *DB) GetCredential(ctx context.Context, workspaceID, id uuid.UUID) (model.Credential, error) {
	var c model.Credential
	err := db.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name, provider, base_url, secret, created_at, revoked_at
		 FROM credentials WHERE id = $1 AND workspace_id = $2`, id, workspaceID,
	).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Provider, &c.BaseURL, &c.Secret, &c.CreatedAt, &c.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Credential{}, ErrNotFound
		}
		return model.Credential{}, fmt.Errorf("storage: get credential: %w", err)
	}
	return c, nil
}

// ListCredentials returns all credentials in a workspace, newest first,
// including revoked ones.
func (db *DB) ListCredentials(ctx context.Context, workspaceID uuid.UUID) ([]model.Credential, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, workspace_id, name, provider, base_url, secret, created_at, revoked_at
		 FROM credentials WHERE workspace_id = $1
		 ORDER BY created_at DESC, id DESC`, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list credentials: %w", err)
	}
	defer rows.Close()

	return scanCredentials(rows)
}

// ListActiveCredentials returns every unrevoked credential across all
// workspaces. This feeds the in-memory credential cache.
func (db *DB) ListActiveCredentials(ctx context.Context) ([]model.Credential, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, workspace_id, name, provider, base_url, secret, created_at, revoked_at
		 FROM credentials WHERE revoked_at IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active credentials: %w", err)
	}
	defer rows.Close()

	return scanCredentials(rows)
}

// RevokeCredential marks a credential revoked. Revocation takes effect in
// the execution path at the next credential cache refresh.
func (db *DB) RevokeCredential(ctx context.Context, workspaceID, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE credentials SET revoked_at = $1 WHERE id = $2 AND workspace_id = $3 AND revoked_at IS NULL`,
		time.Now().UTC(), id, workspaceID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCredentials(rows pgx.Rows) ([]model.Credential, error) {
	var creds []model.Credential
	for rows.Next() {
		var c model.Credential
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Provider, &c.BaseURL, &c.Secret, &c.CreatedAt, &c.RevokedAt); err != nil {
			return nil, fmt.Errorf("storage: scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
