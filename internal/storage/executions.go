package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/pagination"
)

// ExecutionFilter selects a page of execution history. After and Before
// are mutually exclusive; the handler layer rejects requests with both.
type ExecutionFilter struct {
	WorkspaceID uuid.UUID
	VersionID   *uuid.UUID
	Status      *model.ExecutionStatus
	After       *pagination.Cursor
	Before      *pagination.Cursor
	Limit       int
}

// InsertExecution appends one execution row. Executions are immutable:
// there is no update path, and a caller retry always inserts a new row.
func (db *DB) InsertExecution(ctx context.Context, e model.Execution) (model.Execution, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO executions (id, workspace_id, version_id, parameters, input, output,
		 input_tokens, output_tokens, total_tokens, usage_mismatch,
		 elapsed_ms, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.WorkspaceID, e.VersionID, e.Parameters, e.Input, e.Output,
		e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.TotalTokens, e.Usage.Mismatch,
		e.ElapsedMS, e.Status, e.Error, e.CreatedAt,
	)
	if err != nil {
		return model.Execution{}, fmt.Errorf("storage: insert execution: %w", err)
	}
	return e, nil
}

// GetExecution retrieves an execution by ID within a workspace.
func (db *DB) GetExecution(ctx context.Context, workspaceID, id uuid.UUID) (model.Execution, error) {
	row := db.pool.QueryRow(ctx,
		executionSelect+` WHERE id = $1 AND workspace_id = $2`, id, workspaceID,
	)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Execution{}, ErrNotFound
		}
		return model.Execution{}, fmt.Errorf("storage: get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns one page of executions in creation order, using
// keyset pagination over (created_at, id). The second return reports
// whether more rows exist beyond the page in the traversal direction.
func (db *DB) ListExecutions(ctx context.Context, f ExecutionFilter) ([]model.Execution, bool, error) {
	where, order, args, backward := buildExecutionFilter(f)

	// Fetch one extra row to detect whether another page exists.
	args = append(args, f.Limit+1)
	query := executionSelect + where + order + fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, false, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	more := len(execs) > f.Limit
	if more {
		execs = execs[:f.Limit]
	}
	if backward {
		for i, j := 0, len(execs)-1; i < j; i, j = i+1, j-1 {
			execs[i], execs[j] = execs[j], execs[i]
		}
	}
	return execs, more, nil
}

// buildExecutionFilter renders the WHERE and ORDER BY clauses for a page
// query. Pages run in creation order; after walks toward newer rows and
// before walks toward older ones. Backward traversal scans descending and
// the caller reverses the page to restore creation order.
func buildExecutionFilter(f ExecutionFilter) (where, order string, args []any, backward bool) {
	where = ` WHERE workspace_id = $1`
	args = []any{f.WorkspaceID}

	if f.VersionID != nil {
		args = append(args, *f.VersionID)
		where += fmt.Sprintf(` AND version_id = $%d`, len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	order = ` ORDER BY created_at ASC, id ASC`
	switch {
	case f.After != nil:
		args = append(args, f.After.Value, f.After.Value, f.After.ID)
		n := len(args)
		where += fmt.Sprintf(` AND (created_at > $%d OR (created_at = $%d AND id > $%d))`, n-2, n-1, n)
	case f.Before != nil:
		args = append(args, f.Before.Value, f.Before.Value, f.Before.ID)
		n := len(args)
		where += fmt.Sprintf(` AND (created_at < $%d OR (created_at = $%d AND id < $%d))`, n-2, n-1, n)
		order = ` ORDER BY created_at DESC, id DESC`
		backward = true
	}
	return where, order, args, backward
}

const executionSelect = `SELECT id, workspace_id, version_id, parameters, input, output,
	 input_tokens, output_tokens, total_tokens, usage_mismatch,
	 elapsed_ms, status, error, created_at
	 FROM executions`

func scanExecution(row pgx.Row) (model.Execution, error) {
	var e model.Execution
	err := row.Scan(
		&e.ID, &e.WorkspaceID, &e.VersionID, &e.Parameters, &e.Input, &e.Output,
		&e.Usage.InputTokens, &e.Usage.OutputTokens, &e.Usage.TotalTokens, &e.Usage.Mismatch,
		&e.ElapsedMS, &e.Status, &e.Error, &e.CreatedAt,
	)
	if err != nil {
		return model.Execution{}, err
	}
	return e, nil
}
