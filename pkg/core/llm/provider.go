// Package llm provides streaming chat completion for reply generation.
package llm

import "context"

// Role identifies the author of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn passed as model context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReplyRequest describes one reply generation.
type ReplyRequest struct {
	System      string    // System prompt (persona instructions)
	History     []Message // Prior turns, oldest first
	UserText    string    // The new user utterance
	Model       string    // Override model (provider default if empty)
	MaxTokens   int       // Cap on generated tokens (provider default if 0)
	Temperature float64   // Sampling temperature (provider default if 0)
}

// Provider is the interface for reply generation services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// StreamReply generates a reply as a stream of text deltas.
	StreamReply(ctx context.Context, req ReplyRequest) (*ReplyStream, error)
}

// ReplyStream delivers generated text incrementally.
type ReplyStream struct {
	deltas chan string
	err    error
	done   chan struct{}
}

// NewReplyStream creates a new reply stream.
func NewReplyStream() *ReplyStream {
	return &ReplyStream{
		deltas: make(chan string, 64),
		done:   make(chan struct{}),
	}
}

// Deltas returns the channel of text deltas. It is closed when
// generation completes or fails; check Err after draining.
func (s *ReplyStream) Deltas() <-chan string {
	return s.deltas
}

// Err returns the stream error, blocking until the stream finishes.
func (s *ReplyStream) Err() error {
	<-s.done
	return s.err
}

// Close abandons the stream.
func (s *ReplyStream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

// Send delivers a delta. Returns false if the stream was closed.
func (s *ReplyStream) Send(delta string) bool {
	select {
	case s.deltas <- delta:
		return true
	case <-s.done:
		return false
	}
}

// SetError records the stream error.
func (s *ReplyStream) SetError(err error) {
	s.err = err
}

// FinishSending closes the delta channel and marks the stream done.
func (s *ReplyStream) FinishSending() {
	close(s.deltas)
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
