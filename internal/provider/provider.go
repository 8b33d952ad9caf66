// Package provider adapts external LLM APIs to a single streaming
// interface. Each adapter converts rendered messages to the vendor wire
// format, relays text deltas as they arrive, and reports token usage.
package provider

import (
	"context"

	"github.com/promptdeck/promptdeck/internal/model"
)

// Request carries everything one model call needs. The API key comes from
// the credential cache, never from storage directly.
type Request struct {
	APIKey   string
	BaseURL  string
	Params   model.ParameterSnapshot
	Messages []model.Message
}

// Chunk is one unit of streamed provider output. Exactly one terminal
// chunk (Done or Err set) is sent before the channel closes.
type Chunk struct {
	Text  string
	Usage *model.Usage
	Done  bool
	Err   error
}

// Provider streams a single completion. The returned channel is closed by
// the provider after the terminal chunk; cancelling ctx aborts the stream.
type Provider interface {
	Kind() model.ProviderKind
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Registry maps provider kinds to adapters.
type Registry struct {
	providers map[model.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.ProviderKind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

func (r *Registry) Get(kind model.ProviderKind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}
