// Package mock provides test doubles for the telephony provider and media
// stream.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
)

var _ telephony.Provider = (*Provider)(nil)

// Provider is an in-memory [telephony.Provider] that records every call.
type Provider struct {
	mu sync.Mutex

	// PlaceErr is returned by PlaceCall when set.
	PlaceErr error
	// Calls holds a synthetic call per placed id, plus anything seeded.
	Calls map[string]*telephony.Call
	// Recordings holds recordings returned by GetRecordingDetails.
	Recordings map[string]*telephony.Recording
	// Placed records every PlaceCall request in order.
	Placed []telephony.PlaceCallRequest

	seq int
}

// New creates an empty mock provider.
func New() *Provider {
	return &Provider{
		Calls:      make(map[string]*telephony.Call),
		Recordings: make(map[string]*telephony.Recording),
	}
}

func (p *Provider) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (*telephony.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.PlaceErr != nil {
		return nil, p.PlaceErr
	}
	p.seq++
	call := &telephony.Call{
		ID:        fmt.Sprintf("CA-%d", p.seq),
		Direction: "outbound",
		From:      req.From,
		To:        req.To,
		Status:    "initiated",
	}
	p.Placed = append(p.Placed, req)
	p.Calls[call.ID] = call
	return call, nil
}

func (p *Provider) GetCallDetails(_ context.Context, id string) (*telephony.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.Calls[id]
	if !ok {
		return nil, fmt.Errorf("mock telephony: unknown call %q", id)
	}
	cp := *call
	return &cp, nil
}

func (p *Provider) GetRecordingDetails(_ context.Context, id string) (*telephony.Recording, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.Recordings[id]
	if !ok {
		return nil, fmt.Errorf("mock telephony: unknown recording %q", id)
	}
	cp := *rec
	return &cp, nil
}

// PlacedCount returns how many calls have been placed.
func (p *Provider) PlacedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Placed)
}

// LastPlaced returns the most recent PlaceCall request.
func (p *Provider) LastPlaced() telephony.PlaceCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Placed) == 0 {
		return telephony.PlaceCallRequest{}
	}
	return p.Placed[len(p.Placed)-1]
}

var _ telephony.MediaStream = (*MediaStream)(nil)

// MediaStream is an in-memory [telephony.MediaStream]. Tests feed inbound
// messages through Inbound and inspect what the session wrote via Written.
type MediaStream struct {
	mu      sync.Mutex
	Inbound chan *telephony.MediaMessage
	written []*telephony.MediaMessage
	closed  bool
}

// NewMediaStream creates a stream with a buffered inbound queue.
func NewMediaStream() *MediaStream {
	return &MediaStream{Inbound: make(chan *telephony.MediaMessage, 64)}
}

func (s *MediaStream) ReadMessage(ctx context.Context) (*telephony.MediaMessage, error) {
	select {
	case msg, ok := <-s.Inbound:
		if !ok {
			return nil, fmt.Errorf("mock media stream: closed")
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MediaStream) WriteMessage(_ context.Context, msg *telephony.MediaMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock media stream: closed")
	}
	s.written = append(s.written, msg)
	return nil
}

func (s *MediaStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Written returns a copy of all messages written so far.
func (s *MediaStream) Written() []*telephony.MediaMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*telephony.MediaMessage, len(s.written))
	copy(out, s.written)
	return out
}

// Closed reports whether Close has been called.
func (s *MediaStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
