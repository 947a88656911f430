package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/gateway/auth"
	"github.com/warmline/warmline/pkg/gateway/config"
	"github.com/warmline/warmline/pkg/gateway/live/protocol"
	"github.com/warmline/warmline/pkg/gateway/live/session"
	"github.com/warmline/warmline/pkg/gateway/mw"
	"github.com/warmline/warmline/pkg/gateway/ratelimit"
	"github.com/warmline/warmline/pkg/gateway/usage"
)

// LiveHandler serves /v1/live: a realtime duplex audio session bridged to a
// server-managed model session.
type LiveHandler struct {
	Config   config.Config
	Dialer   session.Dialer
	Governor *usage.Governor
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.originAllowed(r) {
		writeError(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID})
		return
	}

	userID := "anonymous"
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		userID = id.UserID
	}

	// Budget gate before the upgrade so rejection is a plain HTTP error.
	var budget *usage.Summary
	if h.Governor != nil {
		s, err := h.Governor.CheckBudget(r.Context(), userID)
		if err != nil {
			writeError(w, reqID, err)
			return
		}
		budget = s
	}

	var permit *ratelimit.Permit
	if h.Limiter != nil {
		d := h.Limiter.AcquireLiveSession(userID, time.Now())
		if !d.Allowed {
			err := core.NewRateLimitError("too many concurrent live sessions", d.RetryAfter)
			err.RequestID = reqID
			writeError(w, reqID, err)
			return
		}
		permit = d.Permit
	}
	defer permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	hello, ok := h.readHello(conn)
	if !ok {
		return
	}

	pid, err := persona.Parse(hello.PersonaID)
	if err != nil {
		h.closeWithError(conn, "bad_request", err.Error())
		return
	}

	maxDur, maxReason := h.sessionCeiling(budget)

	model, err := h.Dialer.Dial(r.Context(), session.DialOptions{
		Persona:      pid,
		SystemPrompt: hello.SystemPrompt,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("live dial failed", "request_id", reqID, "err", err)
		}
		h.closeWithError(conn, "upstream_error", "failed to open model session")
		return
	}

	sessionID := "live_" + randomHex(10)
	bridge := &session.Bridge{
		Conn:              conn,
		Session:           model,
		SessionID:         sessionID,
		MaxDuration:       maxDur,
		MaxDurationReason: maxReason,
		MaxFrameBytes:     h.Config.LiveMaxAudioFrameBytes,
		PingInterval:      h.Config.LiveWSPingInterval,
		WriteTimeout:      h.Config.LiveWSWriteTimeout,
		Logger:            h.Logger,
	}

	if h.Logger != nil {
		h.Logger.Info("live session started", "session_id", sessionID, "user_id", userID, "persona", string(pid))
	}
	elapsed, reason := bridge.Run(r.Context())

	if h.Governor != nil {
		if _, err := h.Governor.RecordUsage(r.Context(), userID, elapsed); err != nil && h.Logger != nil {
			h.Logger.Error("live usage record failed", "session_id", sessionID, "err", err)
		}
	}
	if h.Logger != nil {
		h.Logger.Info("live session ended",
			"session_id", sessionID,
			"user_id", userID,
			"reason", reason,
			"duration_ms", elapsed.Milliseconds())
	}
}

// sessionCeiling picks the session deadline: the configured ceiling, tightened
// to the remaining daily budget for free users.
func (h LiveHandler) sessionCeiling(budget *usage.Summary) (time.Duration, string) {
	maxDur := h.Config.LiveMaxSessionDuration
	reason := "max_duration"
	if budget == nil || budget.Premium {
		return maxDur, reason
	}
	remaining := time.Duration(budget.RemainingSeconds) * time.Second
	if remaining > 0 && (maxDur <= 0 || remaining < maxDur) {
		return remaining, "limit_reached"
	}
	return maxDur, reason
}

func (h LiveHandler) readHello(conn *websocket.Conn) (protocol.ClientHello, bool) {
	timeout := 5 * time.Second
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	messageType, raw, err := conn.ReadMessage()
	if err != nil || messageType != websocket.TextMessage {
		h.closeWithError(conn, "bad_request", "first frame must be hello")
		return protocol.ClientHello{}, false
	}
	decoded, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		h.closeWithError(conn, "bad_request", "invalid hello frame")
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.closeWithError(conn, "bad_request", "first frame must be hello")
		return protocol.ClientHello{}, false
	}
	if err := protocol.ValidateHello(hello); err != nil {
		code := "bad_request"
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Code != "" {
			code = de.Code
		}
		h.closeWithError(conn, code, err.Error())
		return protocol.ClientHello{}, false
	}
	return hello, true
}

func (h LiveHandler) closeWithError(conn *websocket.Conn, code, message string) {
	raw, err := json.Marshal(protocol.NewError(code, message, true))
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, raw)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(time.Second))
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true // non-browser client
	}
	allowed := h.Config.CORSAllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	if _, ok := allowed["*"]; ok {
		return true
	}
	if _, ok := allowed[origin]; ok {
		return true
	}
	if u, err := url.Parse(origin); err == nil {
		if _, ok := allowed[u.Host]; ok {
			return true
		}
	}
	return false
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(b)
}
