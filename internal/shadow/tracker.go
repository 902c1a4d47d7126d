// Package shadow keeps the telemetry service's copy of the fan state. It is
// reconciled from controller notifications and driven locally by the same
// duty-cycle policy the controller runs.
package shadow

import (
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
)

const (
	DefaultTargetTemp      = 40.0
	DefaultRunningDuration = 300 * time.Second
	DefaultStopDuration    = 300 * time.Second
)

type Config struct {
	TargetTemp      float64
	RunningDuration time.Duration
	StopDuration    time.Duration
}

func DefaultConfig() Config {
	return Config{
		TargetTemp:      DefaultTargetTemp,
		RunningDuration: DefaultRunningDuration,
		StopDuration:    DefaultStopDuration,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.TargetTemp <= 0 || c.TargetTemp >= 150 {
		return errFactory.WithData(ErrInvalidConfig, "target temperature must be within (0, 150)")
	}
	if c.RunningDuration <= 0 || c.StopDuration <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "running and stop durations must be positive")
	}

	return nil
}

// Tracker serializes writers with a mutex and publishes every new State
// through an atomic pointer, so readers never block and never observe a
// partially updated state.
type Tracker struct {
	mu  sync.Mutex
	cur atomic.Pointer[State]
	now func() time.Time
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New starts in auto mode with the fan off and no pending switch.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}

	t.cur.Store(&State{
		Enabled:         true,
		Status:          StatusOff,
		Mode:            ModeAuto,
		TargetTemp:      cfg.TargetTemp,
		RunningDuration: cfg.RunningDuration,
		StopDuration:    cfg.StopDuration,
		LastControl:     t.now(),
	})

	return t, nil
}

// Load returns the current state. The returned value must not be modified.
func (t *Tracker) Load() *State {
	return t.cur.Load()
}

// Tick applies the local policy with the latest temperature reading. An
// invalid reading keeps the last known temperature. It reports whether the
// fan started or stopped.
func (t *Tracker) Tick(celsius float64, valid bool) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := *t.cur.Load()
	now := t.now()
	wasRunning := next.IsRunning

	if valid {
		next.LastTemperature = celsius
		next.TemperatureKnown = true
	}

	switch next.Mode {
	case ModeManual:
		next.IsRunning = next.Status == StatusOn
		next.NextSwitch = time.Time{}

	case ModeAuto:
		if next.TemperatureKnown && next.LastTemperature >= next.TargetTemp {
			next.Status = StatusOn
			next.IsRunning = true
			next.NextSwitch = time.Time{}
			break
		}

		if !next.HasTimer() {
			next.NextSwitch = now.Add(next.phaseDuration(next.IsRunning))
		}

		if !now.Before(next.NextSwitch) {
			next.IsRunning = !next.IsRunning
			next.Status = statusFor(next.IsRunning)
			next.NextSwitch = now.Add(next.phaseDuration(next.IsRunning))

			logger.Debug().
				Bool("running", next.IsRunning).
				Time("next_switch", next.NextSwitch).
				Msg("Shadow duty cycle flipped")
		}
	}

	published := &next
	t.cur.Store(published)

	return published, next.IsRunning != wasRunning
}

// SetMode switches between auto and manual. Requesting the current mode is a
// no-op and reports changed=false.
func (t *Tracker) SetMode(mode string) (*State, bool, error) {
	m := Mode(mode)
	if m != ModeAuto && m != ModeManual {
		return t.Load(), false, invalidInput(ErrInvalidMode, mode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.cur.Load()
	if cur.Mode == m {
		return cur, false, nil
	}

	next := *cur
	now := t.now()
	next.Mode = m
	next.LastControl = now

	switch m {
	case ModeManual:
		next.IsRunning = next.Status == StatusOn
		next.NextSwitch = time.Time{}
	case ModeAuto:
		if next.TemperatureKnown && next.LastTemperature >= next.TargetTemp {
			next.Status = StatusOn
			next.IsRunning = true
			next.NextSwitch = time.Time{}
		} else {
			next.NextSwitch = now.Add(next.phaseDuration(next.IsRunning))
		}
	}

	published := &next
	t.cur.Store(published)

	logger.Info().Str("mode", string(m)).Msg("Fan mode changed")

	return published, true, nil
}

// SetStatus sets the requested fan status. Requesting the current status is
// a no-op and reports changed=false. In auto mode a pending switch is
// re-anchored to the new phase.
func (t *Tracker) SetStatus(status string) (*State, bool, error) {
	s := Status(status)
	if s != StatusOn && s != StatusOff {
		return t.Load(), false, invalidInput(ErrInvalidStatus, status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.cur.Load()
	if cur.Status == s && cur.IsRunning == (s == StatusOn) {
		return cur, false, nil
	}

	next := t.overwrite(*cur, s == StatusOn)
	published := &next
	t.cur.Store(published)

	logger.Info().Str("status", string(s)).Str("mode", string(next.Mode)).Msg("Fan status changed")

	return published, true, nil
}

// ApplyEvent reconciles with a controller notification. The controller is
// authoritative for the physical state: status and running flag are
// overwritten regardless of mode, and the mode itself is never changed.
func (t *Tracker) ApplyEvent(action string, temperature float64) (*State, error) {
	var running bool
	switch action {
	case "start":
		running = true
	case "stop":
		running = false
	default:
		return t.Load(), invalidInput(ErrInvalidAction, action)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.overwrite(*t.cur.Load(), running)
	published := &next
	t.cur.Store(published)

	logger.Info().
		Str("action", action).
		Float64("temperature", temperature).
		Str("mode", string(next.Mode)).
		Msg("Controller sync event applied")

	return published, nil
}

func (t *Tracker) overwrite(s State, running bool) State {
	now := t.now()

	s.IsRunning = running
	s.Status = statusFor(running)
	s.LastControl = now

	if s.Mode == ModeManual {
		s.NextSwitch = time.Time{}
	} else if s.HasTimer() {
		s.NextSwitch = now.Add(s.phaseDuration(running))
	}

	return s
}

func statusFor(running bool) Status {
	if running {
		return StatusOn
	}
	return StatusOff
}
