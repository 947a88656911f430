package warmline

import "context"

// Player abstracts platform audio playback. Play blocks until the clip
// finishes or Stop is called; Stop must be safe to call at any time,
// including with nothing playing. Recording and playback are mutually
// exclusive on every supported platform, so the call machine never runs
// both at once.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
	Stop()
}
