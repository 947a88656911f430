// Package protocol defines the wire messages for the /v1/live websocket.
//
// All frames are JSON text messages with a "type" discriminator. Audio
// payloads travel base64-encoded inside JSON rather than as binary frames
// so that a single read loop handles every frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	// Input audio the bridge accepts and output audio it emits. The model
	// session consumes 16 kHz mono PCM and produces 24 kHz mono PCM.
	InputEncoding    = "pcm_s16le"
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// DecodeError reports a malformed or unsupported client frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// AudioFormat describes the negotiated audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello opens a session. It must be the first frame.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	PersonaID       string      `json:"persona_id"`
	SystemPrompt    string      `json:"system_prompt,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
}

// ClientAudio carries one slice of microphone audio.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64 pcm_s16le @16000Hz mono
}

// ClientEnd asks the bridge to close the session cleanly.
type ClientEnd struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a client frame into one of the Client* types.
func DecodeClientMessage(raw []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, badRequest("invalid JSON frame", "")
	}
	switch strings.TrimSpace(head.Type) {
	case "hello":
		var m ClientHello
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		return m, nil
	case "audio":
		var m ClientAudio
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if m.Data == "" {
			return nil, badRequest("audio frame requires data", "data")
		}
		return m, nil
	case "end":
		return ClientEnd{Type: "end"}, nil
	case "":
		return nil, badRequest("frame requires a type", "type")
	default:
		return nil, badRequest(fmt.Sprintf("unknown frame type %q", head.Type), "type")
	}
}

// DecodeServerMessage parses a server frame into one of the Server* types.
// The client side of the wire uses it.
func DecodeServerMessage(raw []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, badRequest("invalid JSON frame", "")
	}
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, badRequest(fmt.Sprintf("invalid %s frame", head.Type), "")
		}
		return v, nil
	}
	switch strings.TrimSpace(head.Type) {
	case "ready":
		return decode(&ServerReady{})
	case "transcript":
		return decode(&ServerTranscript{})
	case "reply_text":
		return decode(&ServerReplyText{})
	case "audio":
		return decode(&ServerAudio{})
	case "interrupted":
		return &ServerInterrupted{Type: "interrupted"}, nil
	case "turn_complete":
		return &ServerTurnComplete{Type: "turn_complete"}, nil
	case "goodbye":
		return decode(&ServerGoodbye{})
	case "error":
		return decode(&ServerError{})
	case "":
		return nil, badRequest("frame requires a type", "type")
	default:
		return nil, badRequest(fmt.Sprintf("unknown frame type %q", head.Type), "type")
	}
}

// ValidateHello checks the opening frame beyond JSON shape.
func ValidateHello(h ClientHello) error {
	if strings.TrimSpace(h.ProtocolVersion) != ProtocolVersion1 {
		return &DecodeError{Code: "unsupported_version", Message: "unsupported protocol_version", Param: "protocol_version"}
	}
	if strings.TrimSpace(h.PersonaID) == "" {
		return badRequest("persona_id is required", "persona_id")
	}
	in := h.AudioIn
	if in.Encoding != InputEncoding || in.SampleRateHz != InputSampleRate || in.Channels != 1 {
		return &DecodeError{
			Code:    "unsupported",
			Message: fmt.Sprintf("audio_in must be %s @%dHz mono", InputEncoding, InputSampleRate),
			Param:   "audio_in",
		}
	}
	return nil
}

// Server frames.

type ServerReady struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	AudioOut  AudioFormat `json:"audio_out"`
}

type ServerTranscript struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type ServerReplyText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type ServerAudio struct {
	Type string `json:"type"`
	Data string `json:"data"` // base64 pcm_s16le @24000Hz mono
}

// ServerInterrupted signals that the user spoke over the reply; the client
// must stop playback and drop any buffered reply audio.
type ServerInterrupted struct {
	Type string `json:"type"`
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

// ServerGoodbye is the last frame before the bridge closes the socket.
type ServerGoodbye struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"` // client_end, max_duration, limit_reached, upstream_closed
	Seconds int    `json:"seconds"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func NewReady(sessionID string) ServerReady {
	return ServerReady{
		Type:      "ready",
		SessionID: sessionID,
		AudioOut:  AudioFormat{Encoding: InputEncoding, SampleRateHz: OutputSampleRate, Channels: 1},
	}
}

func NewTranscript(text string, final bool) ServerTranscript {
	return ServerTranscript{Type: "transcript", Text: text, Final: final}
}

func NewReplyText(text string, final bool) ServerReplyText {
	return ServerReplyText{Type: "reply_text", Text: text, Final: final}
}

func NewAudio(b64 string) ServerAudio {
	return ServerAudio{Type: "audio", Data: b64}
}

func NewInterrupted() ServerInterrupted { return ServerInterrupted{Type: "interrupted"} }

func NewTurnComplete() ServerTurnComplete { return ServerTurnComplete{Type: "turn_complete"} }

func NewGoodbye(reason string, seconds int) ServerGoodbye {
	return ServerGoodbye{Type: "goodbye", Reason: reason, Seconds: seconds}
}

func NewError(code, message string, fatal bool) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Fatal: fatal}
}
