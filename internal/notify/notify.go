// Package notify delivers fan state changes from the controller to the
// telemetry service. Delivery is best effort: one attempt, no retries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 5 * time.Second

type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionStart || a == ActionStop
}

// Event is the wire body of a state-sync notification.
type Event struct {
	Action      Action  `json:"action"`
	Temperature float64 `json:"temperature"`
}

// Notifier delivers a single event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Client posts events to the telemetry service's control_event endpoint.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify makes exactly one delivery attempt. Transport errors and non-2xx
// responses are returned as errors.ErrSyncDelivery.
func (c *Client) Notify(ctx context.Context, event Event) error {
	errFactory := errors.New()

	data, err := json.Marshal(event)
	if err != nil {
		return errFactory.Wrap(errors.ErrSyncDelivery, errFactory.Wrap(ErrEncodeEvent, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return errFactory.Wrap(errors.ErrSyncDelivery, errFactory.Wrap(ErrBuildRequest, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errFactory.Wrap(errors.ErrSyncDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errFactory.Wrap(errors.ErrSyncDelivery, errFactory.WithData(ErrUnexpectedRes, resp.StatusCode))
	}

	return nil
}
