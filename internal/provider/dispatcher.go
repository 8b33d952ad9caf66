package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/credentials"
	"github.com/promptdeck/promptdeck/internal/model"
)

var (
	// ErrUnknownCredential means the credential is absent from the cache
	// or belongs to another workspace. No provider call is made.
	ErrUnknownCredential = errors.New("provider: unknown credential")

	// ErrUnsupportedProvider means no adapter is registered for the
	// credential's provider kind.
	ErrUnsupportedProvider = errors.New("provider: unsupported provider")
)

// Dispatcher resolves credentials and runs provider calls under a single
// wall-clock deadline. There is no internal retry; a failed dispatch is
// recorded as-is and retrying is the caller's decision.
type Dispatcher struct {
	registry *Registry
	cache    *credentials.Cache
	timeout  time.Duration
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, cache *credentials.Cache, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		cache:    cache,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch looks up the credential, starts the provider stream, and relays
// its chunks. The returned channel closes after a terminal chunk; the
// deadline context is released when the relay finishes.
func (d *Dispatcher) Dispatch(ctx context.Context, workspaceID, credentialID uuid.UUID, params model.ParameterSnapshot, input []model.Message) (<-chan Chunk, error) {
	entry, ok := d.cache.Lookup(workspaceID, credentialID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCredential, credentialID)
	}

	p, ok := d.registry.Get(entry.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, entry.Provider)
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	upstream, err := p.Stream(dctx, Request{
		APIKey:   entry.APIKey,
		BaseURL:  entry.BaseURL,
		Params:   params,
		Messages: input,
	})
	if err != nil {
		// Read the context error before releasing it: cancel() makes
		// dctx.Err() report Canceled and would mask the provider's own
		// failure.
		ctxErr := dctx.Err()
		cancel()
		if ctxErr != nil {
			err = ctxErr
		}
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer cancel()
		for chunk := range upstream {
			if chunk.Err != nil && dctx.Err() != nil {
				chunk.Err = dctx.Err()
			}
			out <- chunk
			if chunk.Done || chunk.Err != nil {
				return
			}
		}
		// Adapter closed without a terminal chunk.
		out <- Chunk{Err: fmt.Errorf("provider: stream ended without terminal chunk")}
	}()
	return out, nil
}

// Classify maps a dispatch failure to the error payload recorded on the
// execution row.
func Classify(err error) model.ExecutionError {
	switch {
	case errors.Is(err, ErrUnknownCredential):
		return model.ExecutionError{Code: model.ErrCodeUnknownCredential, Message: "credential not found in this workspace"}
	case errors.Is(err, context.DeadlineExceeded):
		return model.ExecutionError{Code: model.ErrCodeTimeout, Message: "provider call exceeded the dispatch deadline"}
	case errors.Is(err, context.Canceled):
		return model.ExecutionError{Code: model.ErrCodeCancelled, Message: "execution cancelled by the caller"}
	default:
		return model.ExecutionError{Code: model.ErrCodeProviderFailure, Message: err.Error()}
	}
}
