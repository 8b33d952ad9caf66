// Package executions provides the shared business logic of the execution
// pipeline: render the version's template, dispatch to the provider,
// accumulate streamed output, and finalize one immutable execution record.
//
// Both the synchronous and the streaming HTTP handlers delegate to this
// service so the recording semantics are identical across interfaces.
package executions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/promptdeck/promptdeck/internal/model"
	"github.com/promptdeck/promptdeck/internal/provider"
	"github.com/promptdeck/promptdeck/internal/storage"
	"github.com/promptdeck/promptdeck/internal/telemetry"
	"github.com/promptdeck/promptdeck/internal/template"
)

// ErrParameterMismatch means the parameter set does not belong to the
// requested version.
var ErrParameterMismatch = errors.New("executions: parameter does not belong to version")

// Service encapsulates the execution pipeline shared by the sync and
// streaming HTTP handlers.
type Service struct {
	db         *storage.DB
	dispatcher *provider.Dispatcher
	logger     *slog.Logger

	execDuration metric.Float64Histogram
	execTotal    metric.Int64Counter
}

// New creates a new execution Service.
func New(db *storage.DB, dispatcher *provider.Dispatcher, logger *slog.Logger) *Service {
	meter := telemetry.Meter("promptdeck/executions")
	dur, _ := meter.Float64Histogram("promptdeck.execution.duration",
		metric.WithDescription("End-to-end execution time (ms)"),
		metric.WithUnit("ms"),
	)
	total, _ := meter.Int64Counter("promptdeck.execution.total",
		metric.WithDescription("Executions finalized, by status"),
	)
	return &Service{
		db:           db,
		dispatcher:   dispatcher,
		logger:       logger,
		execDuration: dur,
		execTotal:    total,
	}
}

// Execute runs the full pipeline synchronously and returns the finalized
// record. Render and dispatch failures are recorded as Failure executions
// and returned without error; only persistence and lookup failures
// propagate as errors.
func (s *Service) Execute(ctx context.Context, req model.ExecuteRequest) (model.Execution, error) {
	return s.run(ctx, req, nil)
}

// ExecuteStream runs the pipeline and calls onChunk for every piece of
// streamed text in arrival order. If onChunk returns an error (client
// gone), the provider call is cancelled and the record is finalized with
// whatever output was accumulated.
func (s *Service) ExecuteStream(ctx context.Context, req model.ExecuteRequest, onChunk func(text string) error) (model.Execution, error) {
	return s.run(ctx, req, onChunk)
}

func (s *Service) run(ctx context.Context, req model.ExecuteRequest, onChunk func(string) error) (model.Execution, error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("promptdeck.version_id", req.VersionID.String()),
		attribute.String("promptdeck.parameter_id", req.ParameterID.String()),
	)

	// Resolve the version and parameter set before anything is recorded:
	// a request against entities that don't exist is a caller error, not
	// a dispatch attempt.
	version, err := s.db.GetVersion(ctx, req.WorkspaceID, req.VersionID)
	if err != nil {
		return model.Execution{}, err
	}
	param, err := s.db.GetParameter(ctx, req.WorkspaceID, req.ParameterID)
	if err != nil {
		return model.Execution{}, err
	}
	if param.VersionID != version.ID {
		return model.Execution{}, ErrParameterMismatch
	}

	exec := model.Execution{
		ID:          uuid.New(),
		WorkspaceID: req.WorkspaceID,
		VersionID:   version.ID,
		Parameters:  param.Snapshot(),
		Status:      model.StatusPending,
	}
	start := time.Now()

	// Render. A missing variable is an auditable failed attempt, not a
	// silent rejection.
	input, err := template.Render(version.Template, req.Variables)
	if err != nil {
		execErr := model.ExecutionError{Code: model.ErrCodeMissingVariable, Message: err.Error()}
		return s.finalize(ctx, exec, nil, nil, time.Since(start), &execErr)
	}
	exec.Input = input

	// Dispatch and accumulate. The dispatch context lets a client
	// disconnect stop the provider's network read.
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	chunks, err := s.dispatcher.Dispatch(dispatchCtx, req.WorkspaceID, req.CredentialID, exec.Parameters, input)
	if err != nil {
		execErr := provider.Classify(err)
		return s.finalize(ctx, exec, input, nil, time.Since(start), &execErr)
	}

	var out strings.Builder
	var usage *model.Usage
	var execErr *model.ExecutionError
	clientGone := false
	for chunk := range chunks {
		if chunk.Err != nil {
			e := provider.Classify(chunk.Err)
			execErr = &e
			break
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Text != "" {
			// On the streaming path a chunk counts as output only once
			// the client has received it; a failed write must not leave
			// the undelivered text in the record.
			if onChunk != nil {
				if err := onChunk(chunk.Text); err != nil {
					clientGone = true
					e := model.ExecutionError{Code: model.ErrCodeCancelled, Message: "client disconnected mid-stream"}
					execErr = &e
					break
				}
			}
			out.WriteString(chunk.Text)
		}
	}
	if clientGone {
		// Stop the provider read and drain the relay so it can exit.
		cancelDispatch()
		for range chunks {
		}
	}

	var output []model.Message
	if out.Len() > 0 {
		output = []model.Message{{Role: model.RoleAssistant, Content: out.String()}}
	}
	if usage != nil {
		exec.Usage = usage.Reconcile()
	}

	return s.finalize(ctx, exec, input, output, time.Since(start), execErr)
}

// finalize writes the single terminal record for this attempt and emits a
// notification for feed subscribers. The row is terminal on insert; no
// pending row is ever persisted.
func (s *Service) finalize(ctx context.Context, exec model.Execution, input, output []model.Message, elapsed time.Duration, execErr *model.ExecutionError) (model.Execution, error) {
	exec.Input = input
	exec.Output = output
	exec.ElapsedMS = elapsed.Milliseconds()
	if execErr != nil {
		exec.Status = model.StatusFailure
		exec.Error = execErr
	} else {
		exec.Status = model.StatusSuccess
	}

	// Finalization must survive caller cancellation: an attempt that
	// started always leaves exactly one terminal record.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	recorded, err := s.db.InsertExecution(persistCtx, exec)
	if err != nil {
		s.execTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "persist_error")))
		return model.Execution{}, fmt.Errorf("executions: finalize: %w", err)
	}

	s.execDuration.Record(ctx, float64(exec.ElapsedMS))
	s.execTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(recorded.Status))))

	s.notify(persistCtx, recorded)

	if recorded.Status == model.StatusFailure {
		s.logger.Info("execution failed",
			"execution_id", recorded.ID,
			"version_id", recorded.VersionID,
			"code", recorded.Error.Code,
			"elapsed_ms", recorded.ElapsedMS,
		)
	} else {
		s.logger.Info("execution succeeded",
			"execution_id", recorded.ID,
			"version_id", recorded.VersionID,
			"total_tokens", recorded.Usage.TotalTokens,
			"elapsed_ms", recorded.ElapsedMS,
		)
	}
	return recorded, nil
}

// notify publishes a compact summary on the executions channel. Feed
// delivery is best-effort; a notify failure never fails the execution.
func (s *Service) notify(ctx context.Context, exec model.Execution) {
	payload, err := json.Marshal(map[string]any{
		"id":           exec.ID,
		"workspace_id": exec.WorkspaceID,
		"version_id":   exec.VersionID,
		"status":       exec.Status,
		"created_at":   exec.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := s.db.Notify(ctx, storage.ChannelExecutions, string(payload)); err != nil {
		s.logger.Warn("execution notify failed", "execution_id", exec.ID, "error", err)
	}
}

// Get returns one execution by ID.
func (s *Service) Get(ctx context.Context, workspaceID, id uuid.UUID) (model.Execution, error) {
	return s.db.GetExecution(ctx, workspaceID, id)
}
