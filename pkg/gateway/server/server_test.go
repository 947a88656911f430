package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/warmline/warmline/pkg/core/llm"
	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/core/turn"
	"github.com/warmline/warmline/pkg/core/voice/stt"
	"github.com/warmline/warmline/pkg/core/voice/tts"
	"github.com/warmline/warmline/pkg/gateway/auth"
	"github.com/warmline/warmline/pkg/gateway/config"
)

type fakeSTT struct{}

func (fakeSTT) Name() string { return "fake-stt" }

func (fakeSTT) Transcribe(_ context.Context, _ io.Reader, _ stt.TranscribeOptions) (*stt.Transcript, error) {
	return &stt.Transcript{Text: "how are you"}, nil
}

type fakeLLM struct{}

func (fakeLLM) Name() string { return "fake-llm" }

func (fakeLLM) StreamReply(_ context.Context, _ llm.ReplyRequest) (*llm.ReplyStream, error) {
	s := llm.NewReplyStream()
	go func() {
		s.Send("Doing fine.")
		s.FinishSending()
	}()
	return s, nil
}

type fakeTTS struct{}

func (fakeTTS) Name() string { return "fake-tts" }

func (fakeTTS) Synthesize(_ context.Context, text string, _ tts.SynthesizeOptions) (*tts.Synthesis, error) {
	return &tts.Synthesis{Audio: []byte(text), Format: "mp3"}, nil
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:                       config.AuthModeRequired,
		JWTSecret:                      "secret",
		CartesiaAPIKey:                 "ck",
		LLMAPIKey:                      "lk",
		FreeDailySeconds:               1800,
		WarningThresholdSeconds:        60,
		MaxCallDuration:                30 * time.Minute,
		MaxBodyBytes:                   16 << 20,
		AudioOutputFormat:              "mp3",
		LimitRPS:                       100,
		LimitBurst:                     100,
		LimitMaxConcurrentTurns:        2,
		LimitMaxConcurrentLiveSessions: 1,
		LiveMaxSessionDuration:         time.Hour,
		LiveWSWriteTimeout:             time.Second,
	}
}

func testServer(t *testing.T) http.Handler {
	t.Helper()
	synth := fakeTTS{}
	s := New(testConfig(), Deps{
		Verifier: auth.StaticVerifier{
			"tok-1": {UserID: "u1"},
		},
		Orchestrator: &turn.Orchestrator{
			STT: fakeSTT{},
			LLM: fakeLLM{},
			TTS: map[persona.SynthesisProvider]tts.Provider{
				persona.ProviderCartesia:   synth,
				persona.ProviderElevenLabs: synth,
			},
		},
	})
	return s.Handler()
}

func TestHealthWithoutAuth(t *testing.T) {
	h := testServer(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTurnRequiresAuth(t *testing.T) {
	h := testServer(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/turn", strings.NewReader("{}")))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "authentication_error") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTurnEndToEnd(t *testing.T) {
	h := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"audio_base64": base64.StdEncoding.EncodeToString([]byte("pcm")),
		"persona_id":   "mia",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/turn", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success           bool   `json:"success"`
		UserTranscript    string `json:"user_transcript"`
		AssistantResponse string `json:"assistant_response"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.UserTranscript != "how are you" || resp.AssistantResponse != "Doing fine." {
		t.Errorf("resp = %+v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestUsageEndToEnd(t *testing.T) {
	h := testServer(t)

	body, _ := json.Marshal(map[string]any{"duration_seconds": 42})
	req := httptest.NewRequest(http.MethodPost, "/v1/usage", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	get := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	get.Header.Set("Authorization", "Bearer tok-1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, get)
	var resp struct {
		TotalSeconds     int `json:"total_seconds"`
		RemainingSeconds int `json:"remaining_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalSeconds != 42 || resp.RemainingSeconds != 1758 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/bogus", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
