package warmline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/core/persona"
)

// TurnMessage is one prior exchange entry sent as conversation context.
type TurnMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// TurnRequest is one discrete voice turn.
type TurnRequest struct {
	Audio          []byte
	AudioFormat    string
	Persona        persona.ID
	SystemPrompt   string
	History        []TurnMessage
	GenerateOpener bool
	OpenerText     string
}

// Latency is the per-stage breakdown in milliseconds.
type Latency struct {
	STT   int64 `json:"stt"`
	LLM   int64 `json:"llm"`
	TTS   int64 `json:"tts"`
	Total int64 `json:"total"`
}

// TurnResult is the gateway's reply. Empty reports a filtered (garbage)
/// transcript: success with nothing to play, resume listening.
type TurnResult struct {
	Transcript  string
	ReplyText   string
	Audio       []byte
	AudioFormat string
	Latency     Latency
}

// Empty reports whether the turn produced nothing to play.
func (r *TurnResult) Empty() bool {
	return r == nil || (len(r.Audio) == 0 && r.ReplyText == "")
}

// UsageSummary mirrors the usage endpoint response.
type UsageSummary struct {
	TotalSeconds     int  `json:"total_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
	LimitReached     bool `json:"limit_reached"`
	IsPremium        bool `json:"is_premium"`
	Warning          bool `json:"warning,omitempty"`
	ResetsInSeconds  int  `json:"resets_in_seconds,omitempty"`
}

type wireTurnRequest struct {
	AudioBase64    string        `json:"audio_base64,omitempty"`
	AudioFormat    string        `json:"audio_format,omitempty"`
	PersonaID      string        `json:"persona_id"`
	SystemPrompt   string        `json:"system_prompt,omitempty"`
	History        []TurnMessage `json:"conversation_history,omitempty"`
	GenerateOpener bool          `json:"generate_opener,omitempty"`
	OpenerText     string        `json:"opener_text,omitempty"`
}

type wireTurnResponse struct {
	Success           bool        `json:"success"`
	UserTranscript    string      `json:"user_transcript"`
	AssistantResponse string      `json:"assistant_response"`
	AudioBase64       string      `json:"audio_base64"`
	AudioFormat       string      `json:"audio_format"`
	LatencyMS         Latency     `json:"latency_ms"`
	Error             *core.Error `json:"error"`
}

// ProcessTurn submits one turn and blocks until the reply is ready.
func (c *Client) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	wire := wireTurnRequest{
		AudioFormat:    req.AudioFormat,
		PersonaID:      string(req.Persona),
		SystemPrompt:   req.SystemPrompt,
		History:        req.History,
		GenerateOpener: req.GenerateOpener,
		OpenerText:     req.OpenerText,
	}
	if len(req.Audio) > 0 {
		wire.AudioBase64 = base64.StdEncoding.EncodeToString(req.Audio)
	}

	var resp wireTurnResponse
	if err := c.postJSON(ctx, "/v1/turn", wire, &resp); err != nil {
		return nil, err
	}

	result := &TurnResult{
		Transcript:  resp.UserTranscript,
		ReplyText:   resp.AssistantResponse,
		AudioFormat: resp.AudioFormat,
		Latency:     resp.LatencyMS,
	}
	if resp.AudioBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("decode reply audio: %w", err)
		}
		result.Audio = audio
	}
	return result, nil
}

// RecordUsage reports a finished call segment in seconds.
func (c *Client) RecordUsage(ctx context.Context, durationSeconds float64) (*UsageSummary, error) {
	body := map[string]float64{"duration_seconds": durationSeconds}
	var out UsageSummary
	if err := c.postJSON(ctx, "/v1/usage", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Usage fetches the user's current standing.
func (c *Client) Usage(ctx context.Context) (*UsageSummary, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/usage", nil)
	if err != nil {
		return nil, err
	}
	var out UsageSummary
	if err := c.do(httpReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("warmline request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError maps a non-200 response onto the canonical error type.
// The gateway's envelope is preferred; opaque bodies get a typed fallback
// by status code so callers can branch without string matching.
func decodeAPIError(resp *http.Response, raw []byte) error {
	var envelope struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil && envelope.Error.Type != "" {
		apiErr := envelope.Error
		if apiErr.RetryAfter == nil {
			if ra := retryAfterSeconds(resp); ra > 0 {
				apiErr.RetryAfter = &ra
			}
		}
		return apiErr
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return core.NewAuthenticationError("invalid or expired credential")
	case http.StatusTooManyRequests:
		return core.NewRateLimitError("rate limited", retryAfterSeconds(resp))
	default:
		return core.NewAPIError(fmt.Sprintf("gateway returned status %d", resp.StatusCode))
	}
}

func retryAfterSeconds(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
