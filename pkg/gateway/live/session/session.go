// Package session bridges a client websocket to a realtime model session.
//
// The bridge owns both sides of the pipe: client audio slices go up to the
// model as they arrive, and model events (transcripts, reply text, reply
// audio, interruptions) come back down as protocol frames. Voice-activity
// detection, endpointing and barge-in are all decided by the model session,
// not locally.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/gateway/live/protocol"
)

// ModelEvent is one upstream event, flattened for the bridge.
type ModelEvent struct {
	Audio        []byte // reply audio, pcm_s16le @24000Hz mono
	InputText    string // user transcript delta
	InputFinal   bool
	ReplyText    string // assistant transcript delta
	ReplyFinal   bool
	Interrupted  bool
	TurnComplete bool
	GoAway       bool // upstream is about to close
}

// ModelSession is a live bidirectional model connection.
// Receive returns io.EOF when the upstream closes cleanly.
type ModelSession interface {
	SendAudio(data []byte) error
	Receive() (*ModelEvent, error)
	Close() error
}

// DialOptions selects the model-side configuration for one session.
type DialOptions struct {
	Persona      persona.ID
	SystemPrompt string
}

// Dialer opens model sessions.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (ModelSession, error)
}

// Bridge pumps frames between one websocket and one model session.
type Bridge struct {
	Conn      *websocket.Conn
	Session   ModelSession
	SessionID string

	// MaxDuration ends the session when it elapses. MaxDurationReason is
	// the goodbye reason used then; the handler sets "limit_reached" when
	// the cap came from the daily budget rather than the session ceiling.
	MaxDuration       time.Duration
	MaxDurationReason string

	MaxFrameBytes int
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	Logger        *slog.Logger

	Now func() time.Time

	writeMu sync.Mutex
}

func (b *Bridge) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Run drives the session until either side ends it. It returns the elapsed
// wall time and the goodbye reason.
func (b *Bridge) Run(ctx context.Context) (time.Duration, string) {
	start := b.now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer b.Session.Close()

	b.writeFrame(protocol.NewReady(b.SessionID))

	clientDone := make(chan string, 1)
	go b.readClient(ctx, clientDone)

	upstreamDone := make(chan string, 1)
	go b.pumpUpstream(ctx, upstreamDone)

	var pingC <-chan time.Time
	if b.PingInterval > 0 {
		ticker := time.NewTicker(b.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}
	var deadlineC <-chan time.Time
	if b.MaxDuration > 0 {
		timer := time.NewTimer(b.MaxDuration)
		defer timer.Stop()
		deadlineC = timer.C
	}

	reason := "client_end"
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "cancelled"
			break loop
		case r := <-clientDone:
			reason = r
			break loop
		case r := <-upstreamDone:
			reason = r
			break loop
		case <-deadlineC:
			reason = b.MaxDurationReason
			if reason == "" {
				reason = "max_duration"
			}
			break loop
		case <-pingC:
			b.ping()
		}
	}

	elapsed := b.now().Sub(start)
	b.writeFrame(protocol.NewGoodbye(reason, int(elapsed.Seconds())))
	return elapsed, reason
}

func (b *Bridge) readClient(ctx context.Context, done chan<- string) {
	for {
		_, raw, err := b.Conn.ReadMessage()
		if err != nil {
			done <- "client_gone"
			return
		}
		if ctx.Err() != nil {
			return
		}
		msg, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			b.writeFrame(protocol.NewError("bad_request", err.Error(), false))
			continue
		}
		switch m := msg.(type) {
		case protocol.ClientAudio:
			data, err := base64.StdEncoding.DecodeString(m.Data)
			if err != nil {
				b.writeFrame(protocol.NewError("bad_request", "audio data is not valid base64", false))
				continue
			}
			if b.MaxFrameBytes > 0 && len(data) > b.MaxFrameBytes {
				b.writeFrame(protocol.NewError("frame_too_large", "audio frame exceeds size cap", false))
				continue
			}
			if err := b.Session.SendAudio(data); err != nil {
				b.writeFrame(protocol.NewError("upstream_error", "failed to forward audio", true))
				done <- "upstream_error"
				return
			}
		case protocol.ClientEnd:
			done <- "client_end"
			return
		case protocol.ClientHello:
			b.writeFrame(protocol.NewError("bad_request", "session already established", false))
		}
	}
}

func (b *Bridge) pumpUpstream(ctx context.Context, done chan<- string) {
	for {
		ev, err := b.Session.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				done <- "upstream_closed"
				return
			}
			if b.Logger != nil {
				b.Logger.Error("live upstream receive failed", "session_id", b.SessionID, "err", err)
			}
			b.writeFrame(protocol.NewError("upstream_error", "model session failed", true))
			done <- "upstream_error"
			return
		}
		if ev.GoAway {
			done <- "upstream_closed"
			return
		}
		if ev.Interrupted {
			b.writeFrame(protocol.NewInterrupted())
		}
		if ev.InputText != "" {
			b.writeFrame(protocol.NewTranscript(ev.InputText, ev.InputFinal))
		}
		if ev.ReplyText != "" {
			b.writeFrame(protocol.NewReplyText(ev.ReplyText, ev.ReplyFinal))
		}
		if len(ev.Audio) > 0 {
			b.writeFrame(protocol.NewAudio(base64.StdEncoding.EncodeToString(ev.Audio)))
		}
		if ev.TurnComplete {
			b.writeFrame(protocol.NewTurnComplete())
		}
	}
}

func (b *Bridge) writeFrame(v any) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.WriteTimeout > 0 {
		_ = b.Conn.SetWriteDeadline(time.Now().Add(b.WriteTimeout))
	}
	if err := b.Conn.WriteJSON(v); err != nil && b.Logger != nil {
		b.Logger.Debug("live write failed", "session_id", b.SessionID, "err", err)
	}
}

func (b *Bridge) ping() {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	deadline := time.Now().Add(b.WriteTimeout)
	if b.WriteTimeout <= 0 {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = b.Conn.WriteControl(websocket.PingMessage, nil, deadline)
}
