package telephony

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Media message events on the bidirectional media stream.
const (
	MediaEventStart = "start"
	MediaEventMedia = "media"
	MediaEventStop  = "stop"
)

// Media track directions. Inbound is audio from the callee, outbound is
// audio we play to the callee.
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// MediaFormat describes the audio shape of one stream leg.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth,omitempty"`
}

// StartPayload is carried by the first message of a media stream.
type StartPayload struct {
	CallSID     string      `json:"call_sid"`
	MediaFormat MediaFormat `json:"media_format"`
}

// MediaPayload is one audio frame. Payload is base64-encoded audio and
// Chunk increases monotonically per track.
type MediaPayload struct {
	Track   string `json:"track"`
	Chunk   int64  `json:"chunk"`
	Payload string `json:"payload"`
}

// MediaMessage is one framed JSON message on the media stream. Exactly one
// of Start and Media is set, selected by Event.
type MediaMessage struct {
	Event string        `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// MediaStream is a bidirectional framed media channel. Reads and writes may
// run on different goroutines, but each side must be single-goroutine.
type MediaStream interface {
	ReadMessage(ctx context.Context) (*MediaMessage, error)
	WriteMessage(ctx context.Context, msg *MediaMessage) error
	Close() error
}

var _ MediaStream = (*WSMediaStream)(nil)

// WSMediaStream adapts a websocket connection to [MediaStream].
type WSMediaStream struct {
	conn *websocket.Conn
}

// NewWSMediaStream wraps an accepted or dialed websocket connection.
func NewWSMediaStream(conn *websocket.Conn) *WSMediaStream {
	return &WSMediaStream{conn: conn}
}

func (s *WSMediaStream) ReadMessage(ctx context.Context) (*MediaMessage, error) {
	var msg MediaMessage
	if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
		return nil, fmt.Errorf("telephony: read media message: %w", err)
	}
	return &msg, nil
}

func (s *WSMediaStream) WriteMessage(ctx context.Context, msg *MediaMessage) error {
	if err := wsjson.Write(ctx, s.conn, msg); err != nil {
		return fmt.Errorf("telephony: write media message: %w", err)
	}
	return nil
}

func (s *WSMediaStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "session closed")
}
