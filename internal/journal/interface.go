package journal

import (
	"context"
	"time"
)

// Source identifies what caused a fan event.
type Source string

const (
	// SourceSync is a notification from the thermal controller.
	SourceSync Source = "sync"
	// SourceControl is an operator request through the control API.
	SourceControl Source = "control"
	// SourcePolicy is a flip made by the shadow state's own duty cycle.
	SourcePolicy Source = "policy"
)

func (s Source) IsValid() bool {
	switch s {
	case SourceSync, SourceControl, SourcePolicy:
		return true
	default:
		return false
	}
}

// Event is one journal entry.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      Source    `json:"source"`
	Action      string    `json:"action"`
	Mode        string    `json:"mode"`
	Status      string    `json:"status"`
	Temperature float64   `json:"temperature"`
}

// Journal records fan events and returns the most recent ones.
type Journal interface {
	Record(ctx context.Context, event Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}
