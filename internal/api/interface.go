package api

import (
	"context"

	"codeberg.org/mutker/pifan/internal/journal"
	"codeberg.org/mutker/pifan/internal/shadow"
	"codeberg.org/mutker/pifan/internal/telemetry"
)

// Backend is the telemetry service as seen by the HTTP layer.
type Backend interface {
	Document() *telemetry.Document
	FanState() shadow.View
	SetMode(ctx context.Context, mode string) (shadow.View, error)
	SetStatus(ctx context.Context, status string) (shadow.View, error)
	ApplyControlEvent(ctx context.Context, action string, temperature float64) (shadow.View, error)
	Events(ctx context.Context, limit int) ([]journal.Event, error)
	Subscribe() (<-chan *telemetry.Document, func())
	Health() telemetry.Health
}

type envelope struct {
	Success    bool         `json:"success"`
	Message    string       `json:"message,omitempty"`
	Code       string       `json:"code,omitempty"`
	FanControl *shadow.View `json:"fan_control,omitempty"`
}

type eventsEnvelope struct {
	Success bool            `json:"success"`
	Events  []journal.Event `json:"events"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type controlEventRequest struct {
	Action      string   `json:"action"`
	Temperature *float64 `json:"temperature"`
}
