package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientNotify(t *testing.T) {
	var got notify.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := notify.NewClient(srv.URL, time.Second)
	err := client.Notify(context.Background(), notify.Event{Action: notify.ActionStart, Temperature: 42.5})
	require.NoError(t, err)

	assert.Equal(t, notify.ActionStart, got.Action)
	assert.InDelta(t, 42.5, got.Temperature, 1e-9)
}

func TestClientNotifyNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := notify.NewClient(srv.URL, time.Second).Notify(context.Background(), notify.Event{Action: notify.ActionStop})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSyncDelivery))
	assert.True(t, errors.HasCode(err, notify.ErrUnexpectedRes))
}

func TestClientNotifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := notify.NewClient(url, time.Second).Notify(context.Background(), notify.Event{Action: notify.ActionStop})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSyncDelivery))
}

func TestClientNotifyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := notify.NewClient(srv.URL, 50*time.Millisecond).Notify(context.Background(), notify.Event{Action: notify.ActionStart})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	block  chan struct{}
	fail   bool
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)

	if r.fail {
		return errors.New().New(errors.ErrSyncDelivery)
	}
	return nil
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]notify.Event(nil), r.events...)
}

func TestDispatcherPreservesOrder(t *testing.T) {
	rec := &recordingNotifier{}
	d := notify.NewDispatcher(rec, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i, action := range []notify.Action{notify.ActionStart, notify.ActionStop, notify.ActionStart} {
		require.NoError(t, d.Enqueue(notify.Event{Action: action, Temperature: float64(i)}))
	}

	require.Eventually(t, func() bool { return len(rec.Events()) == 3 }, time.Second, 5*time.Millisecond)

	events := rec.Events()
	assert.Equal(t, notify.ActionStart, events[0].Action)
	assert.Equal(t, notify.ActionStop, events[1].Action)
	assert.Equal(t, notify.ActionStart, events[2].Action)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	rec := &recordingNotifier{}
	d := notify.NewDispatcher(rec, 2)

	// Not running: the queue fills up and further events are dropped.
	require.NoError(t, d.Enqueue(notify.Event{Action: notify.ActionStart}))
	require.NoError(t, d.Enqueue(notify.Event{Action: notify.ActionStop}))

	err := d.Enqueue(notify.Event{Action: notify.ActionStart})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, notify.ErrQueueFull))
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcherFailureDoesNotStopWorker(t *testing.T) {
	rec := &recordingNotifier{fail: true}
	d := notify.NewDispatcher(rec, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(notify.Event{Action: notify.ActionStart}))
	require.NoError(t, d.Enqueue(notify.Event{Action: notify.ActionStop}))

	require.Eventually(t, func() bool { return len(rec.Events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherStop(t *testing.T) {
	d := notify.NewDispatcher(&recordingNotifier{}, 1)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	d.Stop()
	d.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	err := d.Enqueue(notify.Event{Action: notify.ActionStart})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, notify.ErrDispatcherOff))
}
