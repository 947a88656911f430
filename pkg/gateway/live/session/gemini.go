package session

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/warmline/warmline/pkg/core/persona"
)

const (
	defaultGeminiLiveModel = "gemini-2.0-flash-live-001"
	inputAudioMIMEType     = "audio/pcm;rate=16000"
)

// GeminiDialer opens Gemini Live sessions.
type GeminiDialer struct {
	APIKey string
	Model  string
}

func (d *GeminiDialer) Dial(ctx context.Context, opts DialOptions) (ModelSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := d.Model
	if model == "" {
		model = defaultGeminiLiveModel
	}

	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: geminiVoice(opts.Persona),
				},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemPrompt}},
		}
	}

	s, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect gemini live: %w", err)
	}
	return &geminiSession{s: s}, nil
}

// geminiVoice maps a persona to a Gemini prebuilt voice. The discrete
// pipeline uses the persona's Cartesia/ElevenLabs voice instead.
func geminiVoice(id persona.ID) string {
	switch id {
	case persona.Jules:
		return "Charon"
	case persona.Haruka:
		return "Kore"
	default:
		return "Aoede"
	}
}

type geminiSession struct {
	s *genai.Session
}

func (g *geminiSession) SendAudio(data []byte) error {
	return g.s.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: inputAudioMIMEType},
	})
}

func (g *geminiSession) Receive() (*ModelEvent, error) {
	msg, err := g.s.Receive()
	if err != nil {
		return nil, err
	}

	ev := &ModelEvent{}
	if msg.GoAway != nil {
		ev.GoAway = true
		return ev, nil
	}
	sc := msg.ServerContent
	if sc == nil {
		return ev, nil
	}
	ev.Interrupted = sc.Interrupted
	ev.TurnComplete = sc.TurnComplete
	if t := sc.InputTranscription; t != nil {
		ev.InputText = t.Text
		ev.InputFinal = t.Finished
	}
	if t := sc.OutputTranscription; t != nil {
		ev.ReplyText = t.Text
		ev.ReplyFinal = t.Finished
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				ev.Audio = append(ev.Audio, p.InlineData.Data...)
			}
		}
	}
	return ev, nil
}

func (g *geminiSession) Close() error {
	return g.s.Close()
}
