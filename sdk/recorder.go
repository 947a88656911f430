package warmline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPermissionDenied is returned when microphone access is refused.
// Fatal to call start; never retried silently.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Recording is a finished capture. Audio is nil when nothing usable was
// captured.
type Recording struct {
	Audio  []byte
	Format string
}

// CaptureDevice abstracts the platform microphone. Levels is the metering
// stream: one dBFS sample per tick, NoSignal when the meter has no data.
// The channel closes when capture stops.
type CaptureDevice interface {
	RequestPermission(ctx context.Context) error
	Start(ctx context.Context) error
	Stop() (*Recording, error)
	Cancel()
	Levels() <-chan float64
}

// Recorder runs one capture at a time and decides when the user has
// finished talking: the metering detector and, when the meter turns out to
// be stuck, a fixed fallback timer. Whichever fires first wins; the loser
// is cancelled so the silence callback runs at most once per recording.
type Recorder struct {
	device CaptureDevice
	cfg    VADConfig

	mu      sync.Mutex
	active  bool
	stopVAD context.CancelFunc
}

func NewRecorder(device CaptureDevice, cfg VADConfig) *Recorder {
	return &Recorder{device: device, cfg: cfg}
}

// Start begins capture. onSilence is invoked exactly once when the
// utterance is judged finished; the caller then calls Stop. Starting while
// a recording is already active is a silent no-op.
func (r *Recorder) Start(ctx context.Context, onSilence func()) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = true
	vadCtx, cancel := context.WithCancel(ctx)
	r.stopVAD = cancel
	r.mu.Unlock()

	if err := r.device.Start(ctx); err != nil {
		r.mu.Lock()
		r.active = false
		r.stopVAD = nil
		r.mu.Unlock()
		cancel()
		return err
	}

	var once sync.Once
	fire := func() {
		once.Do(func() {
			if r.cfg.TrailingGrace > 0 {
				timer := time.NewTimer(r.cfg.TrailingGrace)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-vadCtx.Done():
					return
				}
			}
			if vadCtx.Err() == nil {
				onSilence()
			}
		})
	}

	go r.watch(vadCtx, fire)
	return nil
}

// watch consumes meter levels until either strategy decides the utterance
// is over or the recording is cancelled.
func (r *Recorder) watch(ctx context.Context, fire func()) {
	detector := newVADDetector(r.cfg, time.Now())
	levels := r.device.Levels()

	var fallbackC <-chan time.Time
	var fallback *time.Timer

	for {
		select {
		case <-ctx.Done():
			if fallback != nil {
				fallback.Stop()
			}
			return
		case <-fallbackC:
			fire()
			return
		case level, ok := <-levels:
			if !ok {
				if fallback != nil {
					fallback.Stop()
				}
				return
			}
			switch detector.observe(level, time.Now()) {
			case vadFire:
				if fallback != nil {
					fallback.Stop()
				}
				fire()
				return
			case vadMeterStuck:
				if fallbackC == nil {
					fallback = time.NewTimer(remainingFallback(r.cfg, detector.startedAt))
					fallbackC = fallback.C
				}
			}
		}
	}
}

func remainingFallback(cfg VADConfig, startedAt time.Time) time.Duration {
	d := cfg.FallbackTimeout - time.Since(startedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Stop finalizes the capture and returns the audio, or a nil-audio
// Recording when nothing usable was captured. Mid-recording I/O errors on
// stop are treated as "no audio", not as a call failure.
func (r *Recorder) Stop() *Recording {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return &Recording{}
	}
	r.active = false
	cancel := r.stopVAD
	r.stopVAD = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rec, err := r.device.Stop()
	if err != nil || rec == nil {
		return &Recording{}
	}
	return rec
}

// Cancel discards any in-progress recording. Safe to call at any time,
// including when nothing is recording.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	cancel := r.stopVAD
	r.stopVAD = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.device.Cancel()
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
