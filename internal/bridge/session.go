// Package bridge connects a live telephony media stream to the speech
// providers: inbound audio is normalised to 16 kHz PCM and batched into
// adaptive speech-to-text submissions, transcripts drive a turn-serialised
// conversation with the language model, and replies are streamed back to
// the caller as outbound media frames.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/observe"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
	"github.com/KremlinV1/11Wire-sub002/pkg/audio/codec"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/llm"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/tts"
)

const (
	ringCap         = 500
	pendingCap      = 100
	dedupeCap       = 500
	maxContextTurns = 20

	submitCheckInterval = time.Second
	submitTimeout       = 10 * time.Second
)

// Config carries the per-call parameters of a session.
type Config struct {
	CallSID       string
	VoiceID       string
	Languages     []string
	SystemPrompt  string
	STTWebhookURL string

	// Now is the clock; tests override it. Nil means time.Now.
	Now func() time.Time
}

// Deps are the collaborators a session talks to. STT may be nil; the
// session then runs without transcription and the call stays usable.
type Deps struct {
	STT   stt.Provider
	LLM   llm.Provider
	TTS   tts.Provider
	Media telephony.MediaStream
	Log   *slog.Logger
}

type pendingRequest struct {
	requestID string
	startedAt time.Time
}

// Session bridges one call. All state is guarded by mu; provider I/O
// happens on separate goroutines and re-enters through the same lock, so
// every mutation of session state is serialised.
type Session struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	mu         sync.Mutex
	active     bool
	sttEnabled bool

	srcFormat  codec.Format
	haveFormat bool
	plan       codec.Plan
	havePlan   bool
	outFormat  tts.OutputFormat

	ring            *chunkRing
	th              thresholds
	stats           submitStats
	lastSubmit      time.Time
	lastSubmitCheck time.Time
	submitting      bool
	pending         []pendingRequest

	seen       *seenSet
	turns      []llm.Message
	llmBusy    bool
	inputQueue []string

	ttsStream tts.Stream
	outChunk  int64

	decodeErrs *observe.LogSampler
}

// NewSession creates a session for one call. A missing STT provider or
// webhook URL disables transcription with a warning instead of failing the
// call.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if cfg.CallSID == "" {
		return nil, errors.New("bridge: call sid must not be empty")
	}
	if deps.Media == nil {
		return nil, errors.New("bridge: media stream must not be nil")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("call_sid", cfg.CallSID)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}

	s := &Session{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		metrics:    observe.DefaultMetrics(),
		now:        now,
		active:     true,
		sttEnabled: deps.STT != nil && cfg.STTWebhookURL != "",
		ring:       newChunkRing(ringCap),
		th:         defaultThresholds(),
		seen:       newSeenSet(dedupeCap),
		outFormat:  tts.FormatPCM16000,
		decodeErrs: observe.NewLogSampler(5, 500),
	}
	s.lastSubmit = s.now()
	if !s.sttEnabled {
		log.Warn("speech-to-text disabled for session, missing provider or webhook URL")
	}
	return s, nil
}

// Start records the inbound media format from the stream's start message.
// The conversion path is computed lazily on the first audio frame.
func (s *Session) Start(format telephony.MediaFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.srcFormat = codec.Format{
		Encoding:   format.Encoding,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		BitDepth:   format.BitDepth,
	}
	s.haveFormat = true
}

// HandleFrame processes one inbound media frame: decode, convert to the
// transcription format, buffer, and check the submit policy at most once
// per second.
func (s *Session) HandleFrame(ctx context.Context, msg *telephony.MediaMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || msg == nil || msg.Media == nil {
		return
	}
	m := msg.Media
	if m.Track != telephony.TrackInbound || m.Payload == "" {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		s.metrics.RecordFrameDropped(ctx, "decode")
		if ok, n := s.decodeErrs.Allow(); ok {
			s.log.Warn("dropping undecodable media frame", "chunk", m.Chunk, "seen", n, "error", err)
		}
		return
	}
	if len(raw) == 0 {
		return
	}

	if !s.havePlan {
		if err := s.resolvePlan(); err != nil {
			s.metrics.RecordFrameDropped(ctx, "format")
			if ok, n := s.decodeErrs.Allow(); ok {
				s.log.Warn("dropping frame with unsupported format", "seen", n, "error", err)
			}
			return
		}
	}

	if evicted := s.ring.push(s.plan.Apply(raw)); evicted > 0 {
		s.metrics.RecordFrameDropped(ctx, "overflow")
	}

	if now := s.now(); now.Sub(s.lastSubmitCheck) >= submitCheckInterval {
		s.lastSubmitCheck = now
		s.maybeSubmit(now)
	}
}

// resolvePlan computes the conversion path once, from the descriptor seen
// in the start message, and pins the TTS output format to the same leg.
// Called with mu held.
func (s *Session) resolvePlan() error {
	src := s.srcFormat
	if !s.haveFormat {
		// Telephony legs default to G.711 μ-law at 8 kHz.
		src = codec.Format{Encoding: codec.EncodingULaw, SampleRate: 8000, Channels: 1, BitDepth: 8}
	}

	plan, err := codec.NewPlan(src, codec.STTTarget)
	if err != nil {
		return err
	}
	s.plan = plan
	s.havePlan = true

	switch src.Encoding {
	case codec.EncodingULaw:
		s.outFormat = tts.FormatULaw8000
	case codec.EncodingALaw:
		s.outFormat = tts.FormatALaw8000
	default:
		s.outFormat = tts.FormatPCM16000
	}
	return nil
}

// maybeSubmit starts a transcription submission when the buffered audio
// satisfies the submit policy. Called with mu held.
func (s *Session) maybeSubmit(now time.Time) {
	if !s.sttEnabled || s.submitting || s.ring.len() == 0 {
		return
	}

	sinceLast := now.Sub(s.lastSubmit)
	quality := s.ring.len() >= s.th.optimalChunks && sinceLast >= time.Duration(s.th.minIntervalMs)*time.Millisecond
	stale := sinceLast >= time.Duration(s.th.maxIntervalMs)*time.Millisecond
	overflow := s.ring.byteLen() >= s.th.maxBytes
	if !quality && !stale && !overflow {
		return
	}

	blob := s.ring.drain()
	s.submitting = true
	s.lastSubmit = now
	go s.submit(blob)
}

func (s *Session) submit(pcm []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	ctx, span := observe.StartCallSpan(ctx, "bridge.stt_submit", s.cfg.CallSID)
	defer span.End()

	wav := wrapWAV(pcm, codec.STTTarget.SampleRate, codec.STTTarget.Channels, codec.STTTarget.BitDepth)
	start := time.Now()
	sub, err := s.deps.STT.SubmitAsync(ctx, stt.SubmitRequest{
		Audio:      wav,
		CallID:     s.cfg.CallSID,
		Languages:  s.cfg.Languages,
		WebhookURL: s.cfg.STTWebhookURL,
	})
	latency := time.Since(start)
	s.metrics.STTSubmitDuration.Record(ctx, latency.Seconds())
	s.finishSubmit(sub, err, latency)
}

func (s *Session) finishSubmit(sub *stt.Submission, err error, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitting = false
	if err != nil {
		s.stats.recordFailure()
		s.log.Warn("speech-to-text submission failed",
			"retryable", stt.IsRetryable(err), "error", err)
	} else {
		s.stats.recordSuccess(float64(latency.Milliseconds()))
		s.pending = append(s.pending, pendingRequest{requestID: sub.RequestID, startedAt: s.now()})
		if len(s.pending) > pendingCap {
			s.pending = s.pending[len(s.pending)/2:]
		}
	}
	if s.stats.sinceAdjust >= adjustEvery {
		s.th.adjust(&s.stats)
	}
}

// HandleSTTResult feeds one transcription result into the conversation.
// Duplicate deliveries of the same request id are dropped; while a model
// reply is in flight additional utterances queue up FIFO so the dialogue
// stays strictly turn-by-turn.
func (s *Session) HandleSTTResult(ctx context.Context, res stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	if !s.seen.add(res.RequestID) {
		s.log.Debug("dropping duplicate transcription result", "request_id", res.RequestID)
		return
	}
	s.resolvePending(res.RequestID)

	if res.Text == "" {
		s.log.Debug("empty transcription result", "request_id", res.RequestID)
		return
	}
	if s.deps.LLM == nil {
		s.log.Info("transcript received, no language model configured", "text", res.Text)
		return
	}

	if s.llmBusy {
		s.inputQueue = append(s.inputQueue, res.Text)
		return
	}
	s.startTurn(res.Text)
}

// resolvePending removes a request id from the in-flight FIFO. Called with
// mu held.
func (s *Session) resolvePending(requestID string) {
	for i, p := range s.pending {
		if p.requestID == requestID {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return
		}
	}
}

// startTurn appends the caller utterance and asks the model for a reply on
// a separate goroutine. Called with mu held.
func (s *Session) startTurn(text string) {
	s.llmBusy = true
	s.turns = append(s.turns, llm.Message{Role: llm.RoleUser, Content: text})

	msgs := make([]llm.Message, len(s.turns))
	copy(msgs, s.turns)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		start := time.Now()
		resp, err := s.deps.LLM.Complete(ctx, llm.Request{
			SystemPrompt: s.cfg.SystemPrompt,
			Messages:     msgs,
		})
		s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		s.finishTurn(resp, err)
	}()
}

func (s *Session) finishTurn(resp *llm.Response, err error) {
	s.mu.Lock()

	var reply string
	if err != nil {
		s.log.Warn("reply generation failed", "error", err)
	} else {
		reply = resp.Content
		s.turns = append(s.turns, llm.Message{Role: llm.RoleAssistant, Content: reply})
		if len(s.turns) > maxContextTurns {
			s.turns = s.turns[len(s.turns)-maxContextTurns:]
		}
	}

	s.llmBusy = false
	if len(s.inputQueue) > 0 && s.active {
		next := s.inputQueue[0]
		s.inputQueue = s.inputQueue[1:]
		s.startTurn(next)
	}
	active := s.active
	s.mu.Unlock()

	if reply != "" && active && s.deps.TTS != nil {
		s.streamReply(reply)
	}
}

// streamReply speaks one assistant reply to the caller. Runs outside the
// session lock because TTS providers may deliver chunks synchronously.
func (s *Session) streamReply(text string) {
	start := time.Now()
	stream, err := s.deps.TTS.StreamSpeech(context.Background(), tts.StreamRequest{
		Text:         text,
		VoiceID:      s.cfg.VoiceID,
		OutputFormat: s.outputFormat(),
		OnChunk:      s.writeOutbound,
		OnDone: func(err error) {
			s.metrics.TTSDuration.Record(context.Background(), time.Since(start).Seconds())
			if err != nil {
				s.log.Warn("speech synthesis stream failed", "error", err)
			}
			s.clearStream()
		},
	})
	if err != nil {
		s.log.Warn("speech synthesis request failed", "error", err)
		return
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		stream.Close()
		return
	}
	s.ttsStream = stream
	s.mu.Unlock()
}

func (s *Session) outputFormat() tts.OutputFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outFormat
}

// writeOutbound emits one synthesised audio chunk as an outbound media
// message with a monotonic chunk id.
func (s *Session) writeOutbound(audio []byte) {
	s.mu.Lock()
	if !s.active || s.deps.Media == nil {
		s.mu.Unlock()
		return
	}
	chunk := s.outChunk
	s.outChunk++
	media := s.deps.Media
	s.mu.Unlock()

	msg := &telephony.MediaMessage{
		Event: telephony.MediaEventMedia,
		Media: &telephony.MediaPayload{
			Track:   telephony.TrackOutbound,
			Chunk:   chunk,
			Payload: base64.StdEncoding.EncodeToString(audio),
		},
	}
	if err := media.WriteMessage(context.Background(), msg); err != nil {
		s.log.Warn("outbound media write failed", "chunk", chunk, "error", err)
	}
}

func (s *Session) clearStream() {
	s.mu.Lock()
	s.ttsStream = nil
	s.mu.Unlock()
}

// Close shuts the session down. Idempotent: only the first call has any
// effect. The media transport itself is closed by the owner of the
// connection, not here.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stream := s.ttsStream
	s.ttsStream = nil
	s.pending = nil
	s.inputQueue = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.log.Debug("closing speech stream", "error", err)
		}
	}
	s.log.Info("bridge session closed")
}

// CallSID returns the call this session bridges.
func (s *Session) CallSID() string { return s.cfg.CallSID }

// Turns returns a copy of the current conversation context.
func (s *Session) Turns() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.turns))
	copy(out, s.turns)
	return out
}

// PendingSubmissions returns how many transcription requests are awaiting
// results.
func (s *Session) PendingSubmissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// seenSet is a bounded set of recently seen request ids, evicting oldest
// first.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	cap   int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}), cap: capacity}
}

// add inserts id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.cap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}
