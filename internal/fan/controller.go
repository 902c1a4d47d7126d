// Package fan implements the thermal controller: a hysteresis policy that
// runs the fan continuously above a threshold and on a fixed duty cycle below
// it.
package fan

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/gpio"
	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/notify"
	"codeberg.org/mutker/pifan/internal/sensor"
	"github.com/asecurityteam/rolling"
)

const defaultHistoryWindow = 5

// Controller owns the fan pin. PollOnce and Run must not be called
// concurrently; Physical may be called from any goroutine.
type Controller struct {
	cfg    Config
	sensor sensor.TemperatureSource
	pin    gpio.Pin
	events Enqueuer
	now    func() time.Time

	history       *rolling.PointPolicy
	historyPrimed bool

	mu    sync.RWMutex
	state Physical
}

// New creates a controller in the initial state: off, cycling, stopped phase
// anchored at the current time.
func New(cfg Config, src sensor.TemperatureSource, pin gpio.Pin, opts ...Option) (*Controller, error) {
	errFactory := errors.New()

	if src == nil {
		return nil, errFactory.New(ErrMissingSensor)
	}
	if pin == nil && !cfg.Monitor {
		return nil, errFactory.New(ErrMissingPin)
	}
	if cfg.HighThreshold <= 0 || cfg.HighThreshold >= 150 {
		return nil, errFactory.WithData(ErrInvalidThreshold, cfg.HighThreshold)
	}
	if cfg.RunningDuration <= 0 || cfg.StopDuration <= 0 {
		return nil, errFactory.WithData(ErrInvalidDuration, "running and stop durations must be positive")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}

	c := &Controller{
		cfg:     cfg,
		sensor:  src,
		pin:     pin,
		now:     time.Now,
		history: rolling.NewPointPolicy(rolling.NewWindow(cfg.HistoryWindow)),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.state = Physical{
		Mode:   ModeCycling,
		Phase:  PhaseStopped,
		Anchor: c.now(),
	}

	return c, nil
}

// Physical returns a copy of the current state.
func (c *Controller) Physical() Physical {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Next computes the policy outcome for a temperature at time now. It is pure:
// the same inputs always yield the same state. IsOn is left untouched; the
// returned bool is the desired output level.
func Next(cfg Config, s Physical, celsius float64, now time.Time) (Physical, bool) {
	if celsius >= cfg.HighThreshold {
		if s.Mode != ModeContinuous {
			s.Mode = ModeContinuous
			s.Phase = PhaseRunning
			s.Anchor = now
			s.Started = true
		}
		return s, true
	}

	// Leaving continuous resumes the running phase measured from the moment
	// continuous mode was entered.
	s.Mode = ModeCycling

	duration := cfg.StopDuration
	if s.Phase == PhaseRunning {
		duration = cfg.RunningDuration
	}

	if now.Sub(s.Anchor) >= duration {
		if s.Phase == PhaseRunning {
			s.Phase = PhaseStopped
		} else {
			s.Phase = PhaseRunning
		}
		s.Anchor = now
		s.Started = true
	}

	return s, s.Phase == PhaseRunning
}

// PollOnce runs one evaluation. An unavailable sensor leaves the state and
// the pin untouched. A failed write leaves IsOn unchanged so the transition
// is retried on the next poll.
func (c *Controller) PollOnce(ctx context.Context) (Physical, error) {
	if c.cfg.SensorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SensorTimeout)
		defer cancel()
	}

	reading, err := c.sensor.Read(ctx)
	if err != nil || !reading.Valid {
		c.logSensorFailure(err)
		return c.Physical(), errors.New().Wrap(errors.ErrSensorUnavailable, err)
	}

	average := c.recordTemperature(reading.Celsius)
	now := c.now()

	c.mu.Lock()
	prev := c.state
	next, want := Next(c.cfg, prev, reading.Celsius, now)
	c.state = next
	c.mu.Unlock()

	if next.Mode != prev.Mode || next.Phase != prev.Phase {
		logger.Debug().
			Str("mode", string(next.Mode)).
			Str("phase", string(next.Phase)).
			Float64("temperature", reading.Celsius).
			Msg("Fan policy changed")
	}

	if want == next.IsOn {
		c.logStatus(next, reading.Celsius, average)
		return next, nil
	}

	if c.cfg.Monitor {
		c.mu.Lock()
		c.state.IsOn = want
		next = c.state
		c.mu.Unlock()

		logger.Info().
			Bool("on", want).
			Str("state", string(next.State())).
			Float64("temperature", reading.Celsius).
			Msg("Monitor mode, not switching fan")
		return next, nil
	}

	if err := c.pin.Write(want); err != nil {
		errFactory := errors.New()
		appErr := errFactory.Wrap(errors.ErrHardwareWrite, err)
		logger.ErrorWithCode(appErr).Bool("on", want).Msg("Failed to switch fan")
		return c.Physical(), appErr
	}

	c.mu.Lock()
	c.state.IsOn = want
	next = c.state
	c.mu.Unlock()

	action := notify.ActionStop
	if want {
		action = notify.ActionStart
	}

	logger.Info().
		Str("action", string(action)).
		Str("state", string(next.State())).
		Float64("temperature", reading.Celsius).
		Float64("avg_temperature", average).
		Msg("Fan switched")

	if c.events != nil {
		// Enqueue never blocks; a full queue is logged by the dispatcher.
		_ = c.events.Enqueue(notify.Event{Action: action, Temperature: reading.Celsius})
	}

	return next, nil
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	if c.cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging fan policy without driving the pin...")
	}

	_, _ = c.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = c.PollOnce(ctx)
		}
	}
}

// Shutdown drives the fan off and releases the pin.
func (c *Controller) Shutdown() error {
	if c.pin == nil {
		return nil
	}

	errFactory := errors.New()
	if !c.cfg.Monitor {
		if err := c.pin.Write(false); err != nil {
			logger.ErrorWithCode(errFactory.Wrap(errors.ErrHardwareWrite, err)).Msg("Failed to switch fan off")
		}
	}

	if err := c.pin.Close(); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	c.mu.Lock()
	c.state.IsOn = false
	c.mu.Unlock()

	return nil
}

func (c *Controller) recordTemperature(celsius float64) float64 {
	if !c.historyPrimed {
		for i := 0; i < c.cfg.HistoryWindow; i++ {
			c.history.Append(celsius)
		}
		c.historyPrimed = true
		return celsius
	}

	c.history.Append(celsius)

	return c.history.Reduce(rolling.Avg)
}

func (c *Controller) logStatus(s Physical, celsius, average float64) {
	logger.Debug().
		Str("state", string(s.State())).
		Str("mode", string(s.Mode)).
		Str("phase", string(s.Phase)).
		Dur("phase_elapsed", c.now().Sub(s.Anchor)).
		Float64("temperature", celsius).
		Float64("avg_temperature", average).
		Float64("high_threshold", c.cfg.HighThreshold).
		Bool("monitor", c.cfg.Monitor).
		Msg("")
}

func (c *Controller) logSensorFailure(err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.WarnWithCode(appErr).Msg("Temperature unavailable, skipping evaluation")
		return
	}
	logger.Warn().Err(err).Msg("Temperature unavailable, skipping evaluation")
}
