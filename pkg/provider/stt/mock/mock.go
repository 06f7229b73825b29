// Package mock provides a test double for stt.Provider.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
)

// Provider is a configurable stt.Provider double. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Err is returned for every submission when non-nil.
	Err error

	// Submissions records every request received, in order.
	Submissions []stt.SubmitRequest

	seq int
}

var _ stt.Provider = (*Provider)(nil)

// SubmitAsync implements stt.Provider. Request ids are "req-1", "req-2", …
func (p *Provider) SubmitAsync(_ context.Context, req stt.SubmitRequest) (*stt.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	p.seq++
	p.Submissions = append(p.Submissions, req)
	return &stt.Submission{RequestID: fmt.Sprintf("req-%d", p.seq)}, nil
}

// Count returns the number of successful submissions so far.
func (p *Provider) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Submissions)
}

// Last returns the most recent submission, or nil when none were made.
func (p *Provider) Last() *stt.SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Submissions) == 0 {
		return nil
	}
	req := p.Submissions[len(p.Submissions)-1]
	return &req
}
