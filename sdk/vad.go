package warmline

import "time"

// NoSignal is the sentinel level a meter reports when it has no data.
// Some devices stay stuck at it for an entire recording.
const NoSignal = -160.0

// VADConfig tunes silence detection for one platform. Thresholds differ
// per platform because microphone calibration differs.
type VADConfig struct {
	// SilenceThresholdDB separates speech from silence. Levels above it
	// count as speech.
	SilenceThresholdDB float64

	// SilenceDuration is how long the level must stay below threshold
	// before the utterance is considered finished.
	SilenceDuration time.Duration

	// MinRecording is the floor before silence may end a recording at all.
	MinRecording time.Duration

	// TrailingGrace delays the actual cut slightly so trailing audio is
	// not clipped.
	TrailingGrace time.Duration

	// FallbackTimeout unconditionally ends the recording when the meter
	// never produces a valid signal. Shorter than the metering path since
	// there is no better signal to wait for.
	FallbackTimeout time.Duration

	// NoSignalProbeTicks is how many initial ticks may pass without a
	// valid level before the meter is declared stuck.
	NoSignalProbeTicks int

	// TickInterval is the metering cadence.
	TickInterval time.Duration
}

// MeterPresetIOS and MeterPresetAndroid are the two shipped tunings.
// Android meters run hotter, so its threshold is less sensitive.
var (
	MeterPresetIOS = VADConfig{
		SilenceThresholdDB: -40,
		SilenceDuration:    1500 * time.Millisecond,
		MinRecording:       time.Second,
		TrailingGrace:      100 * time.Millisecond,
		FallbackTimeout:    4 * time.Second,
		NoSignalProbeTicks: 10,
		TickInterval:       100 * time.Millisecond,
	}

	MeterPresetAndroid = VADConfig{
		SilenceThresholdDB: -30,
		SilenceDuration:    1500 * time.Millisecond,
		MinRecording:       time.Second,
		TrailingGrace:      100 * time.Millisecond,
		FallbackTimeout:    5 * time.Second,
		NoSignalProbeTicks: 10,
		TickInterval:       100 * time.Millisecond,
	}
)

// vadDecision is the outcome of feeding one meter sample to the detector.
type vadDecision int

const (
	vadContinue vadDecision = iota
	vadFire                 // silence held long enough, end the utterance
	vadMeterStuck           // no valid signal will arrive, switch to the fallback timer
)

// vadDetector is the metering strategy. It is purely synchronous: the
// recorder feeds it (level, now) pairs and acts on the decision. State is
// never shared across recordings.
type vadDetector struct {
	cfg        VADConfig
	startedAt  time.Time
	lastSpeech time.Time
	validSeen  bool
	ticks      int
	fired      bool
}

func newVADDetector(cfg VADConfig, now time.Time) *vadDetector {
	return &vadDetector{cfg: cfg, startedAt: now, lastSpeech: now}
}

func (d *vadDetector) observe(level float64, now time.Time) vadDecision {
	if d.fired {
		return vadContinue
	}
	d.ticks++

	if level <= NoSignal {
		if !d.validSeen && d.ticks >= d.cfg.NoSignalProbeTicks {
			return vadMeterStuck
		}
		return vadContinue
	}
	d.validSeen = true

	if level > d.cfg.SilenceThresholdDB {
		d.lastSpeech = now
		return vadContinue
	}

	if now.Sub(d.startedAt) < d.cfg.MinRecording {
		return vadContinue
	}
	if now.Sub(d.lastSpeech) >= d.cfg.SilenceDuration {
		d.fired = true
		return vadFire
	}
	return vadContinue
}
