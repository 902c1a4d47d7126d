package shadow

import (
	"math"
	"time"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

type Status string

const (
	StatusOn  Status = "on"
	StatusOff Status = "off"
)

// State is an immutable snapshot of the shadow fan state. A published State
// is never modified; writers publish a new value.
type State struct {
	Enabled         bool
	Status          Status
	Mode            Mode
	TargetTemp      float64
	RunningDuration time.Duration
	StopDuration    time.Duration
	IsRunning       bool
	// NextSwitch is the zero time when no duty-cycle switch is pending.
	NextSwitch       time.Time
	LastControl      time.Time
	LastTemperature  float64
	TemperatureKnown bool
}

// HasTimer reports whether a duty-cycle switch is pending.
func (s State) HasTimer() bool {
	return !s.NextSwitch.IsZero()
}

func (s State) phaseDuration(running bool) time.Duration {
	if running {
		return s.RunningDuration
	}
	return s.StopDuration
}

// View is the JSON form served as "fan_control".
type View struct {
	Enabled               bool     `json:"enabled"`
	Status                Status   `json:"status"`
	Mode                  Mode     `json:"mode"`
	TargetTemp            float64  `json:"target_temp"`
	RunningDuration       int      `json:"running_duration"`
	StopDuration          int      `json:"stop_duration"`
	CurrentCycleRemaining int      `json:"current_cycle_remaining"`
	IsRunning             bool     `json:"is_running"`
	NextSwitchTime        *float64 `json:"next_switch_time"`
	LastControlTime       float64  `json:"last_control_time"`
	LastTemperature       float64  `json:"last_temperature"`
}

// View renders s at time now.
func (s *State) View(now time.Time) View {
	v := View{
		Enabled:         s.Enabled,
		Status:          s.Status,
		Mode:            s.Mode,
		TargetTemp:      s.TargetTemp,
		RunningDuration: int(s.RunningDuration / time.Second),
		StopDuration:    int(s.StopDuration / time.Second),
		IsRunning:       s.IsRunning,
		LastControlTime: unixSeconds(s.LastControl),
		LastTemperature: math.Round(s.LastTemperature*10) / 10,
	}

	if s.HasTimer() {
		next := unixSeconds(s.NextSwitch)
		v.NextSwitchTime = &next
		if remaining := s.NextSwitch.Sub(now); remaining > 0 {
			v.CurrentCycleRemaining = int(remaining / time.Second)
		}
	}

	return v
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}
