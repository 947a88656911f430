package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCartesiaSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %q, want /tts/bytes", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req cartesiaTTSRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Transcript != "Good morning." {
			t.Errorf("transcript = %q", req.Transcript)
		}
		if req.Voice.ID != "voice-1" || req.Voice.Mode != "id" {
			t.Errorf("voice = %+v", req.Voice)
		}
		if req.GenerationConfig == nil || req.GenerationConfig.Speed != 0.95 {
			t.Errorf("generation config = %+v", req.GenerationConfig)
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	p := NewCartesia("test-key").WithBaseURL(srv.URL)
	syn, err := p.Synthesize(context.Background(), "Good morning.", SynthesizeOptions{
		Voice: "voice-1",
		Speed: 0.95,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(syn.Audio) != "audio-bytes" {
		t.Errorf("Audio = %q", syn.Audio)
	}
	if syn.Format != "wav" {
		t.Errorf("Format = %q, want wav", syn.Format)
	}
}

func TestCartesiaSynthesizeRequiresVoice(t *testing.T) {
	p := NewCartesia("test-key")
	if _, err := p.Synthesize(context.Background(), "hi", SynthesizeOptions{}); err == nil {
		t.Fatal("expected error for missing voice")
	}
}

func TestCartesiaSynthesizeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewCartesia("test-key").WithBaseURL(srv.URL)
	_, err := p.Synthesize(context.Background(), "hi", SynthesizeOptions{Voice: "voice-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should mention status: %v", err)
	}
}

func TestBuildOutputFormat(t *testing.T) {
	p := NewCartesia("k")
	f := p.buildOutputFormat(SynthesizeOptions{Format: "mp3"})
	if f.Container != "mp3" || f.BitRate != 128000 {
		t.Errorf("mp3 format = %+v", f)
	}
	f = p.buildOutputFormat(SynthesizeOptions{Format: "pcm", SampleRate: 16000})
	if f.Container != "raw" || f.Encoding != "pcm_s16le" || f.SampleRate != 16000 {
		t.Errorf("pcm format = %+v", f)
	}
	f = p.buildOutputFormat(SynthesizeOptions{})
	if f.Container != "wav" || f.SampleRate != 24000 {
		t.Errorf("default format = %+v", f)
	}
}
