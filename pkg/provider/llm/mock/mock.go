// Package mock provides a test double for llm.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/llm"
)

// Provider is a configurable llm.Provider double. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Reply is returned for every completion when CompleteFunc is nil.
	Reply string

	// Err is returned for every completion when non-nil.
	Err error

	// CompleteFunc, when set, overrides the canned Reply/Err behaviour.
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// Requests records every request received, in order.
	Requests []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	fn := p.CompleteFunc
	reply, err := p.Reply, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: reply}, nil
}

// Calls returns the number of completions requested so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
