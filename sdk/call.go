package warmline

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/core/persona"
)

// CallState is the call lifecycle.
type CallState int

const (
	StateIdle CallState = iota
	StateCalling
	StateConnected
	StateEnding
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Processing is the sub-state while connected. It is meaningful only in
// StateConnected; every transition out of connected forces it back to
// ProcessingIdle.
type Processing int

const (
	ProcessingIdle Processing = iota
	ProcessingListening
	ProcessingThinking
	ProcessingSpeaking
)

func (p Processing) String() string {
	switch p {
	case ProcessingListening:
		return "listening"
	case ProcessingThinking:
		return "thinking"
	case ProcessingSpeaking:
		return "speaking"
	default:
		return "idle"
	}
}

// EndReason distinguishes why a call ended.
type EndReason int

const (
	EndReasonHangup EndReason = iota
	EndReasonLimitReached
)

// Turner is the transport surface the call machine needs.
type Turner interface {
	ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error)
	RecordUsage(ctx context.Context, durationSeconds float64) (*UsageSummary, error)
}

// CallConfig configures one call session.
type CallConfig struct {
	Persona      persona.ID
	SystemPrompt string

	// OpenerText, when set, overrides the persona's canned greeting.
	OpenerText string

	// Premium sessions skip the free-tier ceiling entirely.
	Premium bool

	// MaxCallSeconds is the free-tier per-call ceiling;
	// WarningSeconds before it, the one-shot warning fires.
	MaxCallSeconds int
	WarningSeconds int

	// Ring duration is randomized inside [RingMin, RingMax] for realism.
	RingMin time.Duration
	RingMax time.Duration

	// HistoryLimit bounds the conversation context sent with each turn.
	HistoryLimit int

	// RetryDelay is the pause before listening resumes after a failed turn.
	RetryDelay time.Duration

	// ResetDelay is how long the session lingers in StateEnded before
	// returning to StateIdle.
	ResetDelay time.Duration

	// TickInterval is the duration-clock cadence. One second in
	// production; tests shrink it.
	TickInterval time.Duration
}

func (c CallConfig) withDefaults() CallConfig {
	if c.MaxCallSeconds <= 0 {
		c.MaxCallSeconds = 1800
	}
	if c.WarningSeconds <= 0 {
		c.WarningSeconds = 60
	}
	if c.RingMin <= 0 {
		c.RingMin = 10 * time.Second
	}
	if c.RingMax < c.RingMin {
		c.RingMax = c.RingMin + 5*time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.ResetDelay <= 0 {
		c.ResetDelay = 2 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// CallCallbacks are UI hooks. All fire from background goroutines and must
// not call back into the session synchronously.
type CallCallbacks struct {
	OnStateChange      func(CallState)
	OnProcessingChange func(Processing)
	OnMinuteUsed       func(minutes int)
	OnTimeWarning      func(remainingSeconds int)
	OnLimitReached     func()
	OnTurnError        func(error)
	OnTurn             func(userTranscript, assistantText string)
	OnEnded            func(EndReason)
}

// CallSession is one phone-call-like interaction. All session state lives
// here; nothing is shared between calls. The session survives transient
// turn failures - the call is the failure containment boundary, a failed
// turn just resumes listening.
type CallSession struct {
	cfg       CallConfig
	callbacks CallCallbacks
	turner    Turner
	recorder  *Recorder
	player    Player
	openers   *OpenerCache

	mu         sync.Mutex
	state      CallState
	processing Processing
	startedAt  time.Time
	elapsed    int
	muted      bool
	speakerOn  bool
	inFlight   bool // one turn at a time, guard not queue
	warned     bool
	endReason  EndReason
	history    []TurnMessage

	// gen guards async callbacks: timers and I/O completions capture the
	// generation they were scheduled in and act only if it is still
	// current. EndCall bumps it, which strands every pending callback.
	gen int

	ctx    context.Context
	cancel context.CancelFunc

	ringTimer  *time.Timer
	resetTimer *time.Timer
	tickerStop chan struct{}

	rng *rand.Rand
}

// NewCallSession builds an idle session. openers may be nil.
func NewCallSession(turner Turner, recorder *Recorder, player Player, openers *OpenerCache, cfg CallConfig, callbacks CallCallbacks) *CallSession {
	if openers == nil {
		openers = &OpenerCache{}
	}
	return &CallSession{
		cfg:       cfg.withDefaults(),
		callbacks: callbacks,
		turner:    turner,
		recorder:  recorder,
		player:    player,
		openers:   openers,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State returns the lifecycle state.
func (s *CallSession) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProcessingState returns the connected sub-state.
func (s *CallSession) ProcessingState() Processing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// ElapsedSeconds returns whole seconds since the call connected.
func (s *CallSession) ElapsedSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Muted reports the mute toggle.
func (s *CallSession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SpeakerOn reports the speaker toggle.
func (s *CallSession) SpeakerOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerOn
}

// SetSpeaker toggles speakerphone routing. Pure bookkeeping here; actual
// routing belongs to the platform audio device.
func (s *CallSession) SetSpeaker(on bool) {
	s.mu.Lock()
	s.speakerOn = on
	s.mu.Unlock()
}

// StartCall transitions idle -> calling: acquires the microphone
// permission (fatal when denied), rings for a randomized interval, then
// connects - unless the user hung up while it was still ringing.
func (s *CallSession) StartCall(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateCalling
	s.endReason = EndReasonHangup
	s.ctx, s.cancel = context.WithCancel(ctx)
	gen := s.gen
	callCtx := s.ctx
	s.mu.Unlock()
	s.notifyState(StateCalling)

	if err := s.recorder.device.RequestPermission(callCtx); err != nil {
		s.mu.Lock()
		current := s.stillCurrentLocked(gen)
		if current {
			s.state = StateIdle
			if s.cancel != nil {
				s.cancel()
			}
		}
		s.mu.Unlock()
		if current {
			s.notifyState(StateIdle)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return ErrPermissionDenied
	}

	ring := s.cfg.RingMin
	if spread := s.cfg.RingMax - s.cfg.RingMin; spread > 0 {
		ring += time.Duration(s.rng.Int63n(int64(spread)))
	}

	// Mask connect latency: fetch the opener while the phone rings.
	go s.openers.Prefetch(callCtx, s.turner, s.cfg.Persona, s.cfg.OpenerText)

	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateCalling {
		s.mu.Unlock()
		return nil
	}
	s.ringTimer = time.AfterFunc(ring, func() { s.onRingComplete(gen) })
	s.mu.Unlock()
	return nil
}

// onRingComplete moves calling -> connected. A hangup during ringing
// changes state, so the transition re-checks under the generation guard.
func (s *CallSession) onRingComplete(gen int) {
	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateCalling {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.startedAt = time.Now()
	s.elapsed = 0
	s.warned = false
	s.tickerStop = make(chan struct{})
	stop := s.tickerStop
	ctx := s.ctx
	s.mu.Unlock()
	s.notifyState(StateConnected)

	go s.runTicker(gen, stop)
	go s.playOpener(ctx, gen)
}

func (s *CallSession) runTicker(gen int, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.onTick(gen)
		}
	}
}

// onTick advances the duration clock by one logical second.
func (s *CallSession) onTick(gen int) {
	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.elapsed++
	elapsed := s.elapsed
	premium := s.cfg.Premium
	cap := s.cfg.MaxCallSeconds
	warnAt := cap - s.cfg.WarningSeconds
	fireWarning := !premium && !s.warned && elapsed >= warnAt && elapsed < cap
	if fireWarning {
		s.warned = true
	}
	limitHit := !premium && elapsed >= cap
	if limitHit {
		s.endReason = EndReasonLimitReached
	}
	s.mu.Unlock()

	if elapsed%60 == 0 && s.callbacks.OnMinuteUsed != nil {
		s.callbacks.OnMinuteUsed(elapsed / 60)
	}
	if fireWarning && s.callbacks.OnTimeWarning != nil {
		s.callbacks.OnTimeWarning(cap - elapsed)
	}
	if limitHit {
		if s.callbacks.OnLimitReached != nil {
			s.callbacks.OnLimitReached()
		}
		s.EndCall()
	}
}

// playOpener speaks the greeting, from the speculative cache when it hit.
func (s *CallSession) playOpener(ctx context.Context, gen int) {
	opener := s.openers.Take(s.cfg.Persona)
	if opener == nil {
		result, err := s.turner.ProcessTurn(ctx, TurnRequest{
			Persona:        s.cfg.Persona,
			GenerateOpener: true,
			OpenerText:     s.cfg.OpenerText,
		})
		if err != nil {
			s.reportTurnError(err)
			s.resumeListening(gen, 0)
			return
		}
		opener = result
	}
	s.speak(ctx, gen, opener, false)
}

// beginListening arms the recorder. Silent no-op when not connected,
// muted, already listening, or a turn is still in flight - delayed
// callbacks race with hangups and mutes, and the no-op guard is what
// keeps the loop self-healing.
func (s *CallSession) beginListening(gen int) {
	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateConnected || s.muted || s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.processing = ProcessingListening
	ctx := s.ctx
	s.mu.Unlock()
	s.notifyProcessing(ProcessingListening)

	err := s.recorder.Start(ctx, func() { s.onUtteranceEnd(gen) })
	if err != nil {
		s.mu.Lock()
		if s.stillCurrentLocked(gen) {
			s.inFlight = false
			s.processing = ProcessingIdle
		}
		s.mu.Unlock()
		s.reportTurnError(err)
		s.resumeListening(gen, s.cfg.RetryDelay)
	}
}

// onUtteranceEnd fires when VAD decides the user finished talking.
func (s *CallSession) onUtteranceEnd(gen int) {
	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.processing = ProcessingThinking
	ctx := s.ctx
	s.mu.Unlock()
	s.notifyProcessing(ProcessingThinking)

	rec := s.recorder.Stop()
	if rec == nil || len(rec.Audio) == 0 {
		s.clearInFlight(gen)
		s.resumeListening(gen, 0)
		return
	}
	go s.processTurn(ctx, gen, rec)
}

func (s *CallSession) processTurn(ctx context.Context, gen int, rec *Recording) {
	s.mu.Lock()
	history := make([]TurnMessage, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	result, err := s.turner.ProcessTurn(ctx, TurnRequest{
		Audio:        rec.Audio,
		AudioFormat:  rec.Format,
		Persona:      s.cfg.Persona,
		SystemPrompt: s.cfg.SystemPrompt,
		History:      history,
	})
	if err != nil {
		s.clearInFlight(gen)
		var apiErr *core.Error
		if errors.As(err, &apiErr) && apiErr.Type == core.ErrUsageLimit {
			// Deliberate, user-visible termination - not a generic error.
			s.mu.Lock()
			if s.stillCurrentLocked(gen) {
				s.endReason = EndReasonLimitReached
			}
			s.mu.Unlock()
			if s.callbacks.OnLimitReached != nil {
				s.callbacks.OnLimitReached()
			}
			s.EndCall()
			return
		}
		s.reportTurnError(err)
		s.resumeListening(gen, s.cfg.RetryDelay)
		return
	}

	if result.Empty() {
		// Filtered as noise. Not an error: just listen again.
		s.clearInFlight(gen)
		s.resumeListening(gen, 0)
		return
	}

	s.mu.Lock()
	if s.stillCurrentLocked(gen) {
		if result.Transcript != "" {
			s.history = append(s.history, TurnMessage{Role: "user", Content: result.Transcript})
		}
		s.history = append(s.history, TurnMessage{Role: "assistant", Content: result.ReplyText})
		if over := len(s.history) - s.cfg.HistoryLimit; over > 0 {
			s.history = s.history[over:]
		}
	}
	s.mu.Unlock()

	if s.callbacks.OnTurn != nil {
		s.callbacks.OnTurn(result.Transcript, result.ReplyText)
	}
	s.speak(ctx, gen, result, true)
}

// speak plays reply audio, then re-enters listening unless the call moved
// on. clearFlight distinguishes the turn loop from the opener, which never
// set the in-flight guard.
func (s *CallSession) speak(ctx context.Context, gen int, result *TurnResult, clearFlight bool) {
	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.processing = ProcessingSpeaking
	s.mu.Unlock()
	s.notifyProcessing(ProcessingSpeaking)

	if len(result.Audio) > 0 {
		if err := s.player.Play(ctx, result.Audio, result.AudioFormat); err != nil {
			s.reportTurnError(err)
		}
	}

	if clearFlight {
		s.clearInFlight(gen)
	}
	s.resumeListening(gen, 0)
}

func (s *CallSession) clearInFlight(gen int) {
	s.mu.Lock()
	if s.stillCurrentLocked(gen) {
		s.inFlight = false
	}
	s.mu.Unlock()
}

// resumeListening re-enters the listen loop, optionally after a delay.
func (s *CallSession) resumeListening(gen int, delay time.Duration) {
	s.mu.Lock()
	if !s.stillCurrentLocked(gen) || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	settled := false
	if s.processing != ProcessingListening && s.processing != ProcessingIdle {
		s.processing = ProcessingIdle
		settled = true
	}
	s.mu.Unlock()
	if settled {
		// beginListening may be blocked by mute; the UI still needs to
		// know speaking or thinking is over.
		s.notifyProcessing(ProcessingIdle)
	}

	if delay > 0 {
		time.AfterFunc(delay, func() { s.beginListening(gen) })
		return
	}
	s.beginListening(gen)
}

// SetMuted toggles the microphone. Muting cancels any in-progress
// recording and suppresses auto-resume; unmuting resumes listening unless
// the assistant is mid-reply.
func (s *CallSession) SetMuted(muted bool) {
	s.mu.Lock()
	if s.muted == muted {
		s.mu.Unlock()
		return
	}
	s.muted = muted
	gen := s.gen
	state := s.state
	processing := s.processing
	if muted && processing == ProcessingListening {
		s.processing = ProcessingIdle
		s.inFlight = false
	}
	s.mu.Unlock()

	if muted {
		s.recorder.Cancel()
		if processing == ProcessingListening {
			s.notifyProcessing(ProcessingIdle)
		}
		return
	}
	if state == StateConnected && processing != ProcessingSpeaking && processing != ProcessingThinking {
		s.beginListening(gen)
	}
}

// EndCall tears the session down from any state. Idempotent: every step
// tolerates already-stopped resources, and a second call finds the
// session past StateConnected and leaves it alone.
func (s *CallSession) EndCall() {
	s.mu.Lock()
	if s.state == StateEnding || s.state == StateEnded || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateEnding
	s.processing = ProcessingIdle
	s.gen++ // strand every pending timer and I/O completion
	s.inFlight = false
	elapsed := s.elapsed
	reason := s.endReason
	cancel := s.cancel
	ringTimer := s.ringTimer
	tickerStop := s.tickerStop
	s.ringTimer = nil
	s.tickerStop = nil
	s.history = nil
	s.mu.Unlock()
	s.notifyState(StateEnding)

	if ringTimer != nil {
		ringTimer.Stop()
	}
	if tickerStop != nil {
		close(tickerStop)
	}
	s.recorder.Cancel()
	s.player.Stop()
	s.openers.Invalidate()

	// Best-effort: report elapsed seconds before the context dies.
	if elapsed > 0 {
		reportCtx, reportCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = s.turner.RecordUsage(reportCtx, float64(elapsed))
		reportCancel()
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.state = StateEnded
	s.resetTimer = time.AfterFunc(s.cfg.ResetDelay, s.resetToIdle)
	s.mu.Unlock()
	s.notifyState(StateEnded)
	if s.callbacks.OnEnded != nil {
		s.callbacks.OnEnded(reason)
	}
}

func (s *CallSession) resetToIdle() {
	s.mu.Lock()
	if s.state != StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.elapsed = 0
	s.muted = false
	s.warned = false
	s.mu.Unlock()
	s.notifyState(StateIdle)
}

func (s *CallSession) stillCurrentLocked(gen int) bool {
	return s.gen == gen
}

func (s *CallSession) notifyState(state CallState) {
	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(state)
	}
}

func (s *CallSession) notifyProcessing(p Processing) {
	if s.callbacks.OnProcessingChange != nil {
		s.callbacks.OnProcessingChange(p)
	}
}

func (s *CallSession) reportTurnError(err error) {
	if s.callbacks.OnTurnError != nil {
		s.callbacks.OnTurnError(err)
	}
}
