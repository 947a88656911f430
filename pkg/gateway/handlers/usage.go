package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/gateway/auth"
	"github.com/warmline/warmline/pkg/gateway/config"
	"github.com/warmline/warmline/pkg/gateway/mw"
	"github.com/warmline/warmline/pkg/gateway/usage"
)

type recordUsageRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

type usageResponse struct {
	TotalSeconds     int  `json:"total_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
	LimitReached     bool `json:"limit_reached"`
	IsPremium        bool `json:"is_premium"`
	Warning          bool `json:"warning,omitempty"`
	ResetsInSeconds  int  `json:"resets_in_seconds,omitempty"`
}

// UsageHandler serves /v1/usage: GET reports standing, POST records a
// finished call segment.
type UsageHandler struct {
	Config   config.Config
	Governor *usage.Governor
}

func (h UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	userID := "anonymous"
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		userID = id.UserID
	}

	switch r.Method {
	case http.MethodGet:
		s, err := h.Governor.Status(r.Context(), userID)
		if err != nil {
			writeError(w, reqID, err)
			return
		}
		writeJSON(w, http.StatusOK, toUsageResponse(s))

	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, reqID, core.NewInvalidRequestError("failed to read request body"))
			return
		}
		var req recordUsageRequest
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, reqID, core.NewInvalidRequestError("invalid JSON body"))
			return
		}

		s, err := h.Governor.RecordUsage(r.Context(), userID, secondsToDuration(req.DurationSeconds))
		if err != nil {
			writeError(w, reqID, err)
			return
		}
		writeJSON(w, http.StatusOK, toUsageResponse(s))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func toUsageResponse(s *usage.Summary) usageResponse {
	return usageResponse{
		TotalSeconds:     s.UsedSeconds,
		RemainingSeconds: s.RemainingSeconds,
		LimitReached:     s.LimitReached,
		IsPremium:        s.Premium,
		Warning:          s.Warning,
		ResetsInSeconds:  s.ResetsInSeconds,
	}
}
