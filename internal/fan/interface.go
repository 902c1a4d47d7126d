package fan

import (
	"time"

	"codeberg.org/mutker/pifan/internal/notify"
)

type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeCycling    Mode = "cycling"
)

type Phase string

const (
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
)

// State is the externally observable controller state.
type State string

const (
	StateOff          State = "off"
	StateOnContinuous State = "on_continuous"
	StateOnCycling    State = "on_cycling"
	StateOffCycling   State = "off_cycling"
)

// Physical is the controller's view of the fan. IsOn mirrors the last level
// successfully written to the pin.
type Physical struct {
	IsOn   bool
	Mode   Mode
	Phase  Phase
	Anchor time.Time
	// Started is false until the first phase flip or continuous entry.
	Started bool
}

// State maps the physical state onto the four reported states. Before the
// first cycle boundary the fan is simply off.
func (p Physical) State() State {
	switch {
	case p.Mode == ModeContinuous && p.IsOn:
		return StateOnContinuous
	case p.Mode == ModeCycling && p.IsOn:
		return StateOnCycling
	case p.Mode == ModeCycling && !p.IsOn && p.Started:
		return StateOffCycling
	default:
		return StateOff
	}
}

// Config holds the controller's tunables.
type Config struct {
	HighThreshold   float64
	RunningDuration time.Duration
	StopDuration    time.Duration
	PollInterval    time.Duration
	SensorTimeout   time.Duration
	HistoryWindow   int
	Monitor         bool
}

// Enqueuer accepts notifications without blocking.
type Enqueuer interface {
	Enqueue(event notify.Event) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithNotifier sends a start/stop event after every successful pin write.
func WithNotifier(q Enqueuer) Option {
	return func(c *Controller) {
		c.events = q
	}
}
