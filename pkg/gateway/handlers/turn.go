package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/core/llm"
	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/core/turn"
	"github.com/warmline/warmline/pkg/gateway/auth"
	"github.com/warmline/warmline/pkg/gateway/config"
	"github.com/warmline/warmline/pkg/gateway/mw"
	"github.com/warmline/warmline/pkg/gateway/usage"
)

type turnRequest struct {
	AudioBase64    string        `json:"audio_base64,omitempty"`
	AudioFormat    string        `json:"audio_format,omitempty"`
	PersonaID      string        `json:"persona_id"`
	SystemPrompt   string        `json:"system_prompt,omitempty"`
	History        []turnMessage `json:"conversation_history,omitempty"`
	GenerateOpener bool          `json:"generate_opener,omitempty"`
	OpenerText     string        `json:"opener_text,omitempty"`
}

type turnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnResponse struct {
	Success           bool         `json:"success"`
	UserTranscript    string       `json:"user_transcript,omitempty"`
	AssistantResponse string       `json:"assistant_response,omitempty"`
	AudioBase64       string       `json:"audio_base64,omitempty"`
	AudioFormat       string       `json:"audio_format"`
	LatencyMS         turn.Latency `json:"latency_ms"`
}

// TurnHandler serves POST /v1/turn: one discrete voice turn.
type TurnHandler struct {
	Config       config.Config
	Orchestrator *turn.Orchestrator
	Governor     *usage.Governor
	Logger       *slog.Logger
}

func (h TurnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	userID := "anonymous"
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		userID = id.UserID
	}

	// Daily budget gate before any provider work.
	if h.Governor != nil {
		if _, err := h.Governor.CheckBudget(r.Context(), userID); err != nil {
			writeError(w, reqID, err)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, reqID, core.NewInvalidRequestError("failed to read request body"))
		return
	}

	var req turnRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, reqID, core.NewInvalidRequestError("invalid JSON body"))
		return
	}

	pid, err := persona.Parse(req.PersonaID)
	if err != nil {
		writeError(w, reqID, core.NewInvalidRequestErrorWithParam(err.Error(), "persona_id"))
		return
	}

	oreq := turn.Request{
		AudioFormat:  req.AudioFormat,
		Persona:      pid,
		SystemPrompt: req.SystemPrompt,
	}

	switch {
	case req.GenerateOpener:
		oreq.OpenerText = req.OpenerText
		if oreq.OpenerText == "" {
			oreq.OpenerText = pid.Opener()
		}
	case req.AudioBase64 != "":
		audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			writeError(w, reqID, core.NewInvalidRequestErrorWithParam("audio_base64 is not valid base64", "audio_base64"))
			return
		}
		oreq.Audio = audio
	default:
		writeError(w, reqID, core.NewInvalidRequestError("either audio_base64 or generate_opener is required"))
		return
	}

	for _, m := range req.History {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			writeError(w, reqID, core.NewInvalidRequestErrorWithParam("history role must be user or assistant", "conversation_history"))
			return
		}
	}
	// History arrives oldest-first; an over-long one keeps the trailing
	// window so the newest exchanges survive.
	history := req.History
	if len(history) > turn.DefaultHistoryLimit {
		history = history[len(history)-turn.DefaultHistoryLimit:]
	}
	for _, m := range history {
		oreq.History = append(oreq.History, llm.Message{Role: m.Role, Content: m.Content})
	}

	res, err := h.Orchestrator.ProcessTurn(r.Context(), oreq)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("turn failed", "request_id", reqID, "user_id", userID, "err", err)
		}
		writeError(w, reqID, err)
		return
	}

	resp := turnResponse{
		Success:           true,
		UserTranscript:    res.Transcript,
		AssistantResponse: res.ReplyText,
		AudioFormat:       res.AudioFormat,
		LatencyMS:         res.Latency,
	}
	if len(res.Audio) > 0 {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(res.Audio)
	}
	writeJSON(w, http.StatusOK, resp)
}
