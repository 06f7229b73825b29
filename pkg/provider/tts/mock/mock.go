// Package mock provides a test double for tts.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/tts"
)

// Provider is a configurable tts.Provider double. By default every request
// succeeds, delivering Chunks through OnChunk and then OnDone(nil)
// synchronously before StreamSpeech returns. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Chunks are delivered to OnChunk for every stream.
	Chunks [][]byte

	// Err is returned from StreamSpeech when non-nil (stream never starts).
	Err error

	// DoneErr is passed to OnDone when non-nil.
	DoneErr error

	// Async, when true, delivers chunks from a goroutine instead of inline;
	// callers synchronise on OnDone.
	Async bool

	// Requests records every request received, in order.
	Requests []tts.StreamRequest
}

var _ tts.Provider = (*Provider)(nil)

// Stream is the handle returned by the mock. Close is recorded.
type Stream struct {
	mu     sync.Mutex
	closed bool
}

// Close implements tts.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StreamSpeech implements tts.Provider.
func (p *Provider) StreamSpeech(_ context.Context, req tts.StreamRequest) (tts.Stream, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	chunks, streamErr, doneErr, async := p.Chunks, p.Err, p.DoneErr, p.Async
	p.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	deliver := func() {
		for _, c := range chunks {
			if req.OnChunk != nil {
				req.OnChunk(c)
			}
		}
		if req.OnDone != nil {
			req.OnDone(doneErr)
		}
	}
	if async {
		go deliver()
	} else {
		deliver()
	}
	return &Stream{}, nil
}

// Calls returns the number of streams requested so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Last returns the most recent request, or nil when none were made.
func (p *Provider) Last() *tts.StreamRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return nil
	}
	req := p.Requests[len(p.Requests)-1]
	return &req
}
