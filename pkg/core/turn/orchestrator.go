// Package turn orchestrates one voice turn: transcription, streamed
// reply generation, and sentence-pipelined speech synthesis.
package turn

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/core/llm"
	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/core/voice"
	"github.com/warmline/warmline/pkg/core/voice/stt"
	"github.com/warmline/warmline/pkg/core/voice/tts"
)

// Request describes one voice turn.
type Request struct {
	Audio        []byte        // Recorded user utterance (empty in opener mode)
	AudioFormat  string        // Format of Audio (wav, m4a, webm, ...)
	Persona      persona.ID    // Selects voice profile and synthesis provider
	SystemPrompt string        // Persona instructions for reply generation
	History      []llm.Message // Trailing conversation context, oldest first

	// OpenerText, when set with no Audio, skips transcription and
	// generation: only this line is synthesized.
	OpenerText string
}

// Latency is the per-stage timing breakdown in milliseconds.
type Latency struct {
	STT   int64 `json:"stt"`
	LLM   int64 `json:"llm"`
	TTS   int64 `json:"tts"`
	Total int64 `json:"total"`
}

// Result is the outcome of one voice turn.
type Result struct {
	Transcript  string  // User transcript ("" when filtered or opener mode)
	ReplyText   string  // Full generated reply ("" on an empty turn)
	Audio       []byte  // Concatenated synthesized speech
	AudioFormat string  // Format of Audio
	Latency     Latency // Per-stage timings
	Empty       bool    // True when the transcript was filtered as noise
}

// Orchestrator runs the transcribe-generate-synthesize pipeline.
// Synthesis providers are looked up per persona voice profile.
type Orchestrator struct {
	STT    stt.Provider
	LLM    llm.Provider
	TTS    map[persona.SynthesisProvider]tts.Provider
	Logger *slog.Logger

	// OutputFormat is the synthesis output container (default "mp3").
	OutputFormat string
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) outputFormat() string {
	if o.OutputFormat != "" {
		return o.OutputFormat
	}
	return "mp3"
}

// ProcessTurn runs one full voice turn. In opener mode (OpenerText set,
// no Audio) only synthesis runs. A transcript filtered as noise yields
// an empty Result with no error; the caller should resume listening.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.OpenerText != "" && len(req.Audio) == 0 {
		return o.synthesizeOpener(ctx, req, start)
	}
	if len(req.Audio) == 0 {
		return nil, core.NewInvalidRequestErrorWithParam("audio is required", "audio")
	}

	ttsProvider, voiceProfile, err := o.resolveVoice(req.Persona)
	if err != nil {
		return nil, err
	}

	// Stage 1: transcription.
	sttStart := time.Now()
	transcript, err := o.STT.Transcribe(ctx, bytes.NewReader(req.Audio), stt.TranscribeOptions{
		Format:   req.AudioFormat,
		Language: voiceProfile.Language,
	})
	if err != nil {
		return nil, core.NewTranscriptionError(err)
	}
	sttMs := time.Since(sttStart).Milliseconds()

	if IsGarbageTranscript(transcript.Text) {
		o.logger().Debug("transcript filtered as noise", "transcript", transcript.Text)
		return &Result{
			AudioFormat: o.outputFormat(),
			Empty:       true,
			Latency: Latency{
				STT:   sttMs,
				Total: time.Since(start).Milliseconds(),
			},
		}, nil
	}

	// Stage 2+3: streamed generation with per-sentence synthesis
	// fan-out. Each completed sentence is dispatched immediately so
	// synthesis of sentence 1 overlaps generation of sentence 2.
	llmStart := time.Now()
	stream, err := o.LLM.StreamReply(ctx, llm.ReplyRequest{
		System:   req.SystemPrompt,
		History:  req.History,
		UserText: transcript.Text,
	})
	if err != nil {
		return nil, core.NewGenerationError(err)
	}
	defer stream.Close()

	synthCtx, cancelSynth := context.WithCancel(ctx)
	defer cancelSynth()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		segments  [][]byte
		synthErrs []error
	)
	dispatch := func(index int, sentence string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			syn, err := o.synthesize(synthCtx, ttsProvider, voiceProfile, sentence)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				synthErrs = append(synthErrs, err)
				cancelSynth()
				return
			}
			for len(segments) <= index {
				segments = append(segments, nil)
			}
			segments[index] = syn
		}()
	}

	buf := voice.NewSentenceBuffer()
	var reply strings.Builder
	nextIndex := 0
	for delta := range stream.Deltas() {
		reply.WriteString(delta)
		for _, sentence := range buf.Add(delta) {
			dispatch(nextIndex, sentence)
			nextIndex++
		}
	}
	if err := stream.Err(); err != nil {
		cancelSynth()
		wg.Wait()
		return nil, core.NewGenerationError(err)
	}
	if tail := buf.Flush(); tail != "" {
		dispatch(nextIndex, tail)
		nextIndex++
	}
	llmMs := time.Since(llmStart).Milliseconds()

	// Fan-in: await every outstanding synthesis, then assemble in
	// dispatch order regardless of completion order.
	ttsStart := time.Now()
	wg.Wait()
	if len(synthErrs) > 0 {
		return nil, core.NewSynthesisError(synthErrs[0])
	}
	var audio []byte
	for _, seg := range segments {
		audio = append(audio, seg...)
	}
	ttsMs := time.Since(ttsStart).Milliseconds()

	result := &Result{
		Transcript:  transcript.Text,
		ReplyText:   strings.TrimSpace(reply.String()),
		Audio:       audio,
		AudioFormat: o.outputFormat(),
		Latency: Latency{
			STT:   sttMs,
			LLM:   llmMs,
			TTS:   ttsMs,
			Total: time.Since(start).Milliseconds(),
		},
	}
	o.logger().Info("turn complete",
		"persona", req.Persona,
		"sentences", nextIndex,
		"stt_ms", sttMs,
		"llm_ms", llmMs,
		"tts_ms", ttsMs,
		"total_ms", result.Latency.Total)
	return result, nil
}

// synthesizeOpener handles opener mode: a scripted line is synthesized
// without transcription or generation.
func (o *Orchestrator) synthesizeOpener(ctx context.Context, req Request, start time.Time) (*Result, error) {
	ttsProvider, voiceProfile, err := o.resolveVoice(req.Persona)
	if err != nil {
		return nil, err
	}

	ttsStart := time.Now()
	audio, err := o.synthesize(ctx, ttsProvider, voiceProfile, req.OpenerText)
	if err != nil {
		return nil, core.NewSynthesisError(err)
	}
	ttsMs := time.Since(ttsStart).Milliseconds()

	return &Result{
		ReplyText:   req.OpenerText,
		Audio:       audio,
		AudioFormat: o.outputFormat(),
		Latency: Latency{
			TTS:   ttsMs,
			Total: time.Since(start).Milliseconds(),
		},
	}, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, p tts.Provider, profile persona.VoiceProfile, text string) ([]byte, error) {
	syn, err := p.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:    profile.VoiceID,
		Speed:    profile.Speed,
		Language: profile.Language,
		Format:   o.outputFormat(),
	})
	if err != nil {
		return nil, err
	}
	return syn.Audio, nil
}

func (o *Orchestrator) resolveVoice(id persona.ID) (tts.Provider, persona.VoiceProfile, error) {
	if _, err := persona.Parse(string(id)); err != nil {
		return nil, persona.VoiceProfile{}, core.NewInvalidRequestErrorWithParam(err.Error(), "persona_id")
	}
	profile := id.Voice()
	p, ok := o.TTS[profile.Provider]
	if !ok {
		return nil, persona.VoiceProfile{}, fmt.Errorf("no synthesis provider registered for %q", profile.Provider)
	}
	return p, profile, nil
}
