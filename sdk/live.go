package warmline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/gateway/live/protocol"
)

// StreamSource is a live microphone: small contiguous slices of
// pcm_s16le audio at 16 kHz mono, roughly 250 ms each. The channel
// closes when capture stops.
type StreamSource interface {
	Start(ctx context.Context) error
	Frames() <-chan []byte
	Stop()
}

// StreamPlayer sinks reply audio, pcm_s16le at 24 kHz mono. Enqueue
// appends to the playback queue; Flush drops everything queued and stops
// the current chunk, which is how interruptions cut the assistant off
// mid-sentence.
type StreamPlayer interface {
	Enqueue(pcm []byte) error
	Flush()
}

// LiveCallbacks are UI hooks for a realtime session. They fire from the
// read loop; keep them fast.
type LiveCallbacks struct {
	OnReady        func(sessionID string)
	OnTranscript   func(text string, final bool)
	OnReplyText    func(text string, final bool)
	OnInterrupted  func()
	OnTurnComplete func()
	OnGoodbye      func(reason string, seconds int)
	OnError        func(err error, fatal bool)
}

// LiveConfig configures one realtime session.
type LiveConfig struct {
	Persona      persona.ID
	SystemPrompt string

	// PlaybackBufferBytes is how much reply audio accumulates before
	// playback starts. Smooths network jitter at the cost of latency.
	// 24000 bytes is half a second at 24 kHz mono s16.
	PlaybackBufferBytes int

	// SegmentTimeout caps a single reply segment. A segment that never
	// sees turn_complete within it gets force-flushed to the player so
	// buffered audio cannot sit forever.
	SegmentTimeout time.Duration

	HandshakeTimeout time.Duration
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.PlaybackBufferBytes <= 0 {
		c.PlaybackBufferBytes = 24000
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// LiveCall is one realtime voice session over the /v1/live websocket.
type LiveCall struct {
	conn      *websocket.Conn
	cfg       LiveConfig
	callbacks LiveCallbacks
	source    StreamSource
	player    StreamPlayer

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  [][]byte
	buffered int
	playing  bool
	segTimer *time.Timer
	goodbye  *protocol.ServerGoodbye
	err      error

	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

// StartLive dials the realtime endpoint, performs the hello/ready
// handshake, and starts streaming source audio up and reply audio into
// the player. The returned call runs until the server says goodbye, the
// context ends, or End/Close is called.
func (c *Client) StartLive(ctx context.Context, source StreamSource, player StreamPlayer, cfg LiveConfig, callbacks LiveCallbacks) (*LiveCall, error) {
	cfg = cfg.withDefaults()
	if cfg.Persona == "" {
		return nil, core.NewInvalidRequestErrorWithParam("persona is required", "persona")
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/live"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			return nil, decodeAPIError(resp, raw)
		}
		return nil, fmt.Errorf("dial live session: %w", err)
	}

	call := &LiveCall{
		conn:      conn,
		cfg:       cfg,
		callbacks: callbacks,
		source:    source,
		player:    player,
		done:      make(chan struct{}),
	}

	if err := call.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if err := source.Start(ctx); err != nil {
		call.writeEnd()
		conn.Close()
		return nil, err
	}

	go call.sendLoop(ctx)
	go call.readLoop()
	return call, nil
}

func (l *LiveCall) handshake(ctx context.Context) error {
	hello := protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		PersonaID:       string(l.cfg.Persona),
		SystemPrompt:    l.cfg.SystemPrompt,
		AudioIn: protocol.AudioFormat{
			Encoding:     protocol.InputEncoding,
			SampleRateHz: protocol.InputSampleRate,
			Channels:     1,
		},
	}
	if err := l.writeJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	deadline := time.Now().Add(l.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	l.conn.SetReadDeadline(deadline)
	_, raw, err := l.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await ready: %w", err)
	}
	l.conn.SetReadDeadline(time.Time{})

	msg, err := protocol.DecodeServerMessage(raw)
	if err != nil {
		return fmt.Errorf("await ready: %w", err)
	}
	switch m := msg.(type) {
	case *protocol.ServerReady:
		if l.callbacks.OnReady != nil {
			l.callbacks.OnReady(m.SessionID)
		}
		return nil
	case *protocol.ServerError:
		return core.NewAPIError(m.Message)
	default:
		return fmt.Errorf("await ready: unexpected %T frame", msg)
	}
}

// sendLoop streams microphone slices until the source or the context
// ends, then asks the server to close cleanly.
func (l *LiveCall) sendLoop(ctx context.Context) {
	frames := l.source.Frames()
	for {
		select {
		case <-ctx.Done():
			l.End()
			return
		case <-l.done:
			return
		case frame, ok := <-frames:
			if !ok {
				l.End()
				return
			}
			if len(frame) == 0 {
				continue
			}
			msg := protocol.ClientAudio{Type: "audio", Data: base64.StdEncoding.EncodeToString(frame)}
			if err := l.writeJSON(msg); err != nil {
				l.fail(fmt.Errorf("send audio: %w", err))
				return
			}
		}
	}
}

func (l *LiveCall) readLoop() {
	defer l.shutdown()
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			clean := l.goodbye != nil
			l.mu.Unlock()
			if !clean {
				l.fail(fmt.Errorf("read live session: %w", err))
			}
			return
		}
		msg, err := protocol.DecodeServerMessage(raw)
		if err != nil {
			continue // unknown frames are skipped, not fatal
		}
		switch m := msg.(type) {
		case *protocol.ServerTranscript:
			if l.callbacks.OnTranscript != nil {
				l.callbacks.OnTranscript(m.Text, m.Final)
			}
		case *protocol.ServerReplyText:
			if l.callbacks.OnReplyText != nil {
				l.callbacks.OnReplyText(m.Text, m.Final)
			}
		case *protocol.ServerAudio:
			pcm, err := base64.StdEncoding.DecodeString(m.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			l.onReplyAudio(pcm)
		case *protocol.ServerInterrupted:
			l.onInterrupted()
		case *protocol.ServerTurnComplete:
			l.onTurnComplete()
		case *protocol.ServerGoodbye:
			l.mu.Lock()
			l.goodbye = m
			l.mu.Unlock()
			if l.callbacks.OnGoodbye != nil {
				l.callbacks.OnGoodbye(m.Reason, m.Seconds)
			}
			return
		case *protocol.ServerError:
			err := core.NewAPIError(m.Message)
			if l.callbacks.OnError != nil {
				l.callbacks.OnError(err, m.Fatal)
			}
			if m.Fatal {
				l.mu.Lock()
				if l.err == nil {
					l.err = err
				}
				l.mu.Unlock()
				return
			}
		}
	}
}

// onReplyAudio buffers until the start threshold, then streams straight
// through for the rest of the segment.
func (l *LiveCall) onReplyAudio(pcm []byte) {
	l.mu.Lock()
	if l.playing {
		l.mu.Unlock()
		l.player.Enqueue(pcm)
		return
	}
	l.pending = append(l.pending, pcm)
	l.buffered += len(pcm)
	reached := l.buffered >= l.cfg.PlaybackBufferBytes
	if l.segTimer == nil {
		l.segTimer = time.AfterFunc(l.cfg.SegmentTimeout, l.forceFlush)
	}
	if !reached {
		l.mu.Unlock()
		return
	}
	l.playing = true
	queued := l.pending
	l.pending = nil
	l.buffered = 0
	l.mu.Unlock()

	for _, chunk := range queued {
		l.player.Enqueue(chunk)
	}
}

// forceFlush runs when a segment outlives its timeout while still below
// the playback threshold.
func (l *LiveCall) forceFlush() {
	l.mu.Lock()
	if l.playing || len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	l.playing = true
	queued := l.pending
	l.pending = nil
	l.buffered = 0
	l.mu.Unlock()

	for _, chunk := range queued {
		l.player.Enqueue(chunk)
	}
}

// onInterrupted drops everything queued, both locally and in the player.
func (l *LiveCall) onInterrupted() {
	l.resetSegment()
	l.player.Flush()
	if l.callbacks.OnInterrupted != nil {
		l.callbacks.OnInterrupted()
	}
}

func (l *LiveCall) onTurnComplete() {
	// A short reply can finish below the start threshold; play it now.
	l.mu.Lock()
	queued := l.pending
	l.pending = nil
	l.buffered = 0
	l.playing = false
	if l.segTimer != nil {
		l.segTimer.Stop()
		l.segTimer = nil
	}
	l.mu.Unlock()

	for _, chunk := range queued {
		l.player.Enqueue(chunk)
	}
	if l.callbacks.OnTurnComplete != nil {
		l.callbacks.OnTurnComplete()
	}
}

func (l *LiveCall) resetSegment() {
	l.mu.Lock()
	l.pending = nil
	l.buffered = 0
	l.playing = false
	if l.segTimer != nil {
		l.segTimer.Stop()
		l.segTimer = nil
	}
	l.mu.Unlock()
}

// End requests a clean close: the server answers with a goodbye frame
// carrying the session's metered seconds. Safe to call more than once.
func (l *LiveCall) End() {
	l.endOnce.Do(func() {
		l.writeEnd()
	})
}

func (l *LiveCall) writeEnd() {
	_ = l.writeJSON(protocol.ClientEnd{Type: "end"})
}

// Close tears the session down immediately without waiting for goodbye.
func (l *LiveCall) Close() {
	l.shutdown()
}

// Done closes when the session is over.
func (l *LiveCall) Done() <-chan struct{} { return l.done }

// Goodbye returns the server's closing frame, nil when the session ended
// without one.
func (l *LiveCall) Goodbye() *protocol.ServerGoodbye {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.goodbye
}

// Err returns the terminal error, nil on a clean close.
func (l *LiveCall) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *LiveCall) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	l.shutdown()
}

func (l *LiveCall) shutdown() {
	l.closeOnce.Do(func() {
		l.resetSegment()
		l.source.Stop()
		l.conn.Close()
		close(l.done)
	})
}

func (l *LiveCall) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteMessage(websocket.TextMessage, payload)
}
