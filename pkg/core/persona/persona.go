// Package persona defines the fixed set of AI companions a caller can talk to.
//
// The set is closed on purpose: adding a persona means adding a constant and
// extending the switches below, so the compiler (and the exhaustiveness test)
// catch a half-wired persona instead of a runtime registry lookup failing.
package persona

import (
	"fmt"
	"strings"
)

// ID identifies one persona.
type ID string

const (
	Mia    ID = "mia"
	Jules  ID = "jules"
	Haruka ID = "haruka"
)

// All lists every persona in a stable order.
func All() []ID {
	return []ID{Mia, Jules, Haruka}
}

// Parse validates a raw persona id from a request.
func Parse(raw string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	switch id {
	case Mia, Jules, Haruka:
		return id, nil
	default:
		return "", fmt.Errorf("unknown persona %q", raw)
	}
}

// SynthesisProvider selects which TTS backend voices a persona.
type SynthesisProvider string

const (
	ProviderCartesia   SynthesisProvider = "cartesia"
	ProviderElevenLabs SynthesisProvider = "elevenlabs"
)

// VoiceProfile is the static synthesis configuration for a persona.
// Profiles are immutable; callers receive copies.
type VoiceProfile struct {
	Provider SynthesisProvider
	VoiceID  string
	Language string
	Speed    float64
}

// Voice returns the synthesis profile for the persona.
func (id ID) Voice() VoiceProfile {
	switch id {
	case Mia:
		return VoiceProfile{
			Provider: ProviderCartesia,
			VoiceID:  "794f9389-aac1-45b6-b726-9d9369183238",
			Language: "en",
			Speed:    1.0,
		}
	case Jules:
		return VoiceProfile{
			Provider: ProviderElevenLabs,
			VoiceID:  "EXAVITQu4vr4xnSDxMaL",
			Language: "en",
			Speed:    0.95,
		}
	case Haruka:
		return VoiceProfile{
			Provider: ProviderCartesia,
			VoiceID:  "2b568345-1d48-4047-b25f-7baccf842eb0",
			Language: "ja",
			Speed:    1.0,
		}
	default:
		// Parse guards every entry point; reaching here is a programming error.
		panic(fmt.Sprintf("persona: no voice profile for %q", string(id)))
	}
}

// Opener returns the persona's scripted opening line.
func (id ID) Opener() string {
	switch id {
	case Mia:
		return "Hey, it's Mia! I was just thinking about you. How's your day going?"
	case Jules:
		return "Hello you. Jules here. Tell me everything."
	case Haruka:
		return "もしもし？はるかだよ。今ちょっと話せる？"
	default:
		panic(fmt.Sprintf("persona: no opener for %q", string(id)))
	}
}
