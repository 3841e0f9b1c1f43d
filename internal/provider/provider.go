// Package provider defines the completion-provider boundary: an
// external text-generation service invoked with a prompt. The engine
// only depends on the Provider interface; concrete clients are
// straightforward request/response wrappers.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CompletionRequest is one prompt dispatch to a model.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResult is a successful completion with its accounting.
type CompletionResult struct {
	Content          string
	ReasoningContent string
	InputTokens      int
	OutputTokens     int
	LatencyMs        int64
}

// Provider is a single completion model endpoint.
type Provider interface {
	ModelID() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// APIError is a provider-specific failure: a non-success HTTP status or
// an empty completion.
type APIError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Model, e.Message)
}

// Registry maps model ids to their providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ModelID()] = p
}

func (r *Registry) Get(modelID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[modelID]
	return p, ok
}

func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
