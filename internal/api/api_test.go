package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/pifan/internal/api"
	"codeberg.org/mutker/pifan/internal/journal"
	"codeberg.org/mutker/pifan/internal/metrics"
	"codeberg.org/mutker/pifan/internal/shadow"
	"codeberg.org/mutker/pifan/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type staticSampler struct{}

func (staticSampler) Sample(_ context.Context, now time.Time) metrics.Snapshot {
	return metrics.Snapshot{
		CPU:              metrics.CPUStats{Temp: 35, Model: "Test CPU", Count: 4},
		Timestamp:        now.Format("2006-01-02 15:04:05"),
		TemperatureValid: true,
		SampledAt:        now,
	}
}

func newTestServer(t *testing.T, limiter *rate.Limiter) (*httptest.Server, *telemetry.Service) {
	t.Helper()

	tracker, err := shadow.New(shadow.DefaultConfig())
	require.NoError(t, err)

	j, err := journal.New(journal.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	svc, err := telemetry.NewService(telemetry.DefaultConfig(), staticSampler{}, tracker, telemetry.WithJournal(j))
	require.NoError(t, err)

	if limiter == nil {
		limiter = rate.NewLimiter(100, 100)
	}

	ts := httptest.NewServer(api.NewServer(svc, limiter).Handler())
	t.Cleanup(ts.Close)

	return ts, svc
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return resp, out
}

func TestSystemDocument(t *testing.T) {
	ts, svc := newTestServer(t, nil)
	svc.Tick(context.Background())

	resp, body := getJSON(t, ts.URL+"/api/system")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	cpu, ok := body["cpu"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Test CPU", cpu["model"])

	fan, ok := body["fan_control"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "auto", fan["mode"])
}

func TestFanStatus(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := getJSON(t, ts.URL+"/api/fan/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	fan, ok := body["fan_control"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "off", fan["status"])
	assert.InDelta(t, 40.0, fan["target_temp"], 1e-9)
}

func TestSetMode(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postJSON(t, ts.URL+"/api/fan/mode", `{"mode":"manual"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "fan mode set to manual", body["message"])

	fan := body["fan_control"].(map[string]any)
	assert.Equal(t, "manual", fan["mode"])
	assert.Nil(t, fan["next_switch_time"])
}

func TestSetStatus(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postJSON(t, ts.URL+"/api/fan/status", `{"status":"on"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fan := body["fan_control"].(map[string]any)
	assert.Equal(t, "on", fan["status"])
	assert.Equal(t, true, fan["is_running"])
}

func TestControlEvent(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postJSON(t, ts.URL+"/api/fan/control_event", `{"action":"start","temperature":41.2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	fan := body["fan_control"].(map[string]any)
	assert.Equal(t, true, fan["is_running"])

	resp, body = getJSON(t, ts.URL+"/api/fan/events?limit=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	event := events[0].(map[string]any)
	assert.Equal(t, "sync", event["source"])
	assert.Equal(t, "start", event["action"])
}

func TestInvalidRequests(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown mode", "/api/fan/mode", `{"mode":"boost"}`},
		{"unknown status", "/api/fan/status", `{"status":"half"}`},
		{"unknown action", "/api/fan/control_event", `{"action":"spin"}`},
		{"empty body", "/api/fan/mode", ``},
		{"malformed body", "/api/fan/status", `{"status":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
			assert.NotEmpty(t, body["code"])
		})
	}

	_, body := getJSON(t, ts.URL+"/api/fan/events")
	assert.Empty(t, body["events"], "rejected requests leave no journal entries")
}

func TestInvalidEventsLimit(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, limit := range []string{"abc", "0", "-3"} {
		resp, body := getJSON(t, ts.URL+"/api/fan/events?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, limit)
		assert.Equal(t, false, body["success"])
	}
}

func TestControlRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	resp, _ := postJSON(t, ts.URL+"/api/fan/mode", `{"mode":"manual"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, ts.URL+"/api/fan/mode", `{"mode":"auto"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limited", body["message"])

	resp, _ = postJSON(t, ts.URL+"/api/fan/control_event", `{"action":"stop","temperature":30}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "controller sync is not rate limited")
}

func TestUnknownEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := getJSON(t, ts.URL+"/api/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "API endpoint not found", body["message"])
}

func TestHealthz(t *testing.T) {
	ts, svc := newTestServer(t, nil)
	svc.Tick(context.Background())

	resp, body := getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["last_sample_at"])
}

func TestStream(t *testing.T) {
	ts, svc := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The current document is sent on connect.
	var first map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Contains(t, first, "fan_control")

	require.Eventually(t, func() bool {
		return svc.Health().Subscribers == 1
	}, time.Second, 10*time.Millisecond)

	svc.Tick(ctx)

	var next map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	cpu := next["cpu"].(map[string]any)
	assert.Equal(t, "Test CPU", cpu["model"])
}

func TestPolicyErrorCode(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	_, body := postJSON(t, ts.URL+"/api/fan/mode", `{"mode":"boost"}`)
	assert.Equal(t, "policy_input_invalid", body["code"])

	_, body = postJSON(t, ts.URL+"/api/fan/mode", ``)
	assert.Equal(t, "api_empty_body", body["code"])
}
