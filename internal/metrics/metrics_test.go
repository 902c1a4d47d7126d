package metrics_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/metrics"
	"codeberg.org/mutker/pifan/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gb = 1024 * 1024 * 1024

var epoch = time.Date(2024, 3, 1, 8, 30, 0, 0, time.Local)

type fakeSource struct {
	percent  float64
	net      metrics.Counters
	io       metrics.Counters
	cpuinfo  string
	infoErr  error
	netErr   error
	calls    map[string]int
	uptime   time.Duration
	memTotal uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		cpuinfo:  "model name\t: Test CPU @ 2.0GHz\n",
		calls:    map[string]int{},
		uptime:   26*time.Hour + 3*time.Minute + 59*time.Second,
		memTotal: 8 * gb,
	}
}

func (f *fakeSource) CPUPercent(context.Context) (float64, error) { return f.percent, nil }
func (f *fakeSource) CPUFrequency(context.Context) (float64, error) { return 1800.04, nil }

func (f *fakeSource) CPUCount(context.Context) (int, error) {
	f.calls["count"]++
	return 4, nil
}

func (f *fakeSource) CPUInfo(context.Context) (string, error) {
	f.calls["cpuinfo"]++
	return f.cpuinfo, f.infoErr
}

func (f *fakeSource) Memory(context.Context) (metrics.Usage, error) {
	return metrics.Usage{Total: f.memTotal, Used: 2 * gb, Free: 6 * gb, Percent: 25.04}, nil
}

func (f *fakeSource) Disk(context.Context, string) (metrics.Usage, error) {
	return metrics.Usage{Total: 64 * gb, Used: 16 * gb, Free: 48 * gb, Percent: 25}, nil
}

func (f *fakeSource) Network(context.Context) (metrics.Counters, error) { return f.net, f.netErr }
func (f *fakeSource) DiskIO(context.Context) (metrics.Counters, error) { return f.io, nil }
func (f *fakeSource) Uptime(context.Context) (time.Duration, error) { return f.uptime, nil }

func (f *fakeSource) System(context.Context) (metrics.SystemInfo, error) {
	f.calls["system"]++
	return metrics.SystemInfo{System: "Linux", Release: "6.6.31", Version: "#1 SMP", Machine: "aarch64"}, nil
}

type fakeTemp struct {
	celsius float64
	err     error
	reads   int
}

func (f *fakeTemp) Read(context.Context) (sensor.Reading, error) {
	f.reads++
	if f.err != nil {
		return sensor.Reading{}, f.err
	}
	return sensor.Reading{Celsius: f.celsius, Valid: true}, nil
}

type fakeVolts struct{ volts float64 }

func (f fakeVolts) Read(context.Context) (float64, error) { return f.volts, nil }

type failingVolts struct{ err error }

func (f failingVolts) Read(context.Context) (float64, error) { return 0, f.err }

func newSampler(t *testing.T, src *fakeSource, temp *fakeTemp) *metrics.Sampler {
	t.Helper()

	s, err := metrics.NewSampler(metrics.DefaultConfig(), src, temp, fakeVolts{volts: 0.92604})
	require.NoError(t, err)

	return s
}

func TestRateExample(t *testing.T) {
	src := newFakeSource()
	s := newSampler(t, src, &fakeTemp{celsius: 45})
	ctx := context.Background()

	src.net = metrics.Counters{Out: 1000, In: 2000}
	first := s.Sample(ctx, epoch)
	assert.Zero(t, first.Network.UploadSpeed, "first sample has no previous counters")
	assert.Zero(t, first.Network.DownloadSpeed)

	src.net = metrics.Counters{Out: 2024, In: 3072}
	second := s.Sample(ctx, epoch.Add(time.Second))
	assert.InDelta(t, 1.00, second.Network.UploadSpeed, 1e-9)
	assert.InDelta(t, 1.05, second.Network.DownloadSpeed, 1e-9)
}

func TestRateKBps(t *testing.T) {
	assert.InDelta(t, 1.0, metrics.RateKBps(1000, 2024, time.Second), 1e-9)
	assert.Zero(t, metrics.RateKBps(1000, 2024, 0), "zero interval")
	assert.Zero(t, metrics.RateKBps(1000, 2024, -time.Second), "clock went backwards")
	assert.Zero(t, metrics.RateKBps(5000, 10, time.Second), "counter reset")
	assert.InDelta(t, 0.5, metrics.RateKBps(0, 1024, 2*time.Second), 1e-9)
}

func TestRateAfterCounterReset(t *testing.T) {
	src := newFakeSource()
	s := newSampler(t, src, &fakeTemp{celsius: 45})
	ctx := context.Background()

	src.io = metrics.Counters{Out: 10 * 1024, In: 20 * 1024}
	s.Sample(ctx, epoch)

	src.io = metrics.Counters{Out: 0, In: 0}
	snap := s.Sample(ctx, epoch.Add(time.Second))
	assert.Zero(t, snap.IO.ReadSpeed)
	assert.Zero(t, snap.IO.WriteSpeed)

	// The reset sample becomes the new baseline.
	src.io = metrics.Counters{Out: 2048, In: 1024}
	snap = s.Sample(ctx, epoch.Add(2*time.Second))
	assert.InDelta(t, 1.0, snap.IO.ReadSpeed, 1e-9)
	assert.InDelta(t, 2.0, snap.IO.WriteSpeed, 1e-9)
}

func TestSameTimestampYieldsZeroRate(t *testing.T) {
	src := newFakeSource()
	s := newSampler(t, src, &fakeTemp{celsius: 45})
	ctx := context.Background()

	src.net = metrics.Counters{Out: 0, In: 0}
	s.Sample(ctx, epoch)
	src.net = metrics.Counters{Out: 4096, In: 4096}
	snap := s.Sample(ctx, epoch)

	assert.Zero(t, snap.Network.UploadSpeed)
	assert.Zero(t, snap.Network.DownloadSpeed)
}

func TestEstimatePower(t *testing.T) {
	assert.InDelta(t, 2.5, metrics.EstimatePower(0, 2.5, 7.0), 1e-9)
	assert.InDelta(t, 7.0, metrics.EstimatePower(100, 2.5, 7.0), 1e-9)
	assert.InDelta(t, 4.75, metrics.EstimatePower(50, 2.5, 7.0), 1e-9)
	// Utilization is rounded to one decimal before the model is applied.
	assert.InDelta(t, metrics.EstimatePower(33.3, 2.5, 7.0), metrics.EstimatePower(33.26, 2.5, 7.0), 1e-9)
}

func TestSamplerPowerFromUtilization(t *testing.T) {
	src := newFakeSource()
	src.percent = 50
	s := newSampler(t, src, &fakeTemp{celsius: 45})

	snap := s.Sample(context.Background(), epoch)
	assert.InDelta(t, 4.75, snap.Power.Watts, 1e-9)
}

func TestSamplerPowerFromHwmon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "power1_input")
	require.NoError(t, os.WriteFile(path, []byte("3456789\n"), 0o600))

	cfg := metrics.DefaultConfig()
	cfg.PowerPath = path
	s, err := metrics.NewSampler(cfg, newFakeSource(), &fakeTemp{celsius: 45}, nil)
	require.NoError(t, err)

	snap := s.Sample(context.Background(), epoch)
	assert.InDelta(t, 3.46, snap.Power.Watts, 1e-9)
}

func TestSlowTierCachedForTTL(t *testing.T) {
	src := newFakeSource()
	s := newSampler(t, src, &fakeTemp{celsius: 45})
	ctx := context.Background()

	s.Sample(ctx, epoch)
	s.Sample(ctx, epoch.Add(30*time.Second))
	s.Sample(ctx, epoch.Add(60*time.Second))
	assert.Equal(t, 1, src.calls["cpuinfo"], "refresh requires strictly more than the TTL")

	s.Sample(ctx, epoch.Add(60*time.Second+time.Millisecond))
	assert.Equal(t, 2, src.calls["cpuinfo"])
	assert.Equal(t, 2, src.calls["system"])
	assert.Equal(t, 2, src.calls["count"])
}

func TestThermalSubsampled(t *testing.T) {
	temp := &fakeTemp{celsius: 45.26}
	s := newSampler(t, newFakeSource(), temp)
	ctx := context.Background()

	snap := s.Sample(ctx, epoch)
	assert.InDelta(t, 45.3, snap.CPU.Temp, 1e-9)
	assert.InDelta(t, 0.926, snap.CPU.Voltage, 1e-9)
	assert.True(t, snap.TemperatureValid)

	temp.celsius = 50
	snap = s.Sample(ctx, epoch.Add(time.Second))
	assert.InDelta(t, 45.3, snap.CPU.Temp, 1e-9, "cached between thermal reads")
	assert.Equal(t, 1, temp.reads)

	snap = s.Sample(ctx, epoch.Add(2*time.Second))
	assert.InDelta(t, 50.0, snap.CPU.Temp, 1e-9)
	assert.Equal(t, 2, temp.reads)
}

func TestTemperatureUnavailableSubstitutesZero(t *testing.T) {
	temp := &fakeTemp{err: errors.New().New(errors.ErrSensorUnavailable)}
	s := newSampler(t, newFakeSource(), temp)

	snap := s.Sample(context.Background(), epoch)
	assert.Zero(t, snap.CPU.Temp)
	assert.False(t, snap.TemperatureValid)
}

func TestVoltageUnavailableSubstitutesZero(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetLogLevel(logger.DebugLevel)

	volts := failingVolts{err: errors.New().New(sensor.ErrVoltageRead)}
	s, err := metrics.NewSampler(metrics.DefaultConfig(), newFakeSource(), &fakeTemp{celsius: 45}, volts)
	require.NoError(t, err)

	snap := s.Sample(context.Background(), epoch)
	assert.Zero(t, snap.CPU.Voltage)
	assert.True(t, snap.TemperatureValid, "voltage failure does not affect temperature")
	assert.Contains(t, buf.String(), `"metric":"voltage"`)
}

func TestSnapshotShape(t *testing.T) {
	src := newFakeSource()
	src.percent = 12.345
	src.net = metrics.Counters{Out: 3 * 1024 * 1024, In: 1536 * 1024}
	s := newSampler(t, src, &fakeTemp{celsius: 45})

	snap := s.Sample(context.Background(), epoch)

	assert.InDelta(t, 12.3, snap.CPU.Percent, 1e-9)
	assert.InDelta(t, 1800.0, snap.CPU.Freq, 1e-9)
	assert.Equal(t, 4, snap.CPU.Count)
	assert.Equal(t, "Test CPU @ 2.0GHz", snap.CPU.Model)

	assert.InDelta(t, 8.0, snap.Memory.Total, 1e-9)
	assert.InDelta(t, 2.0, snap.Memory.Used, 1e-9)
	assert.InDelta(t, 6.0, snap.Memory.Free, 1e-9)
	assert.InDelta(t, 25.0, snap.Memory.Percent, 1e-9)

	assert.InDelta(t, 64.0, snap.Disk.Total, 1e-9)
	assert.InDelta(t, 25.0, snap.Disk.Percent, 1e-9)

	assert.InDelta(t, 3.0, snap.Network.BytesSent, 1e-9)
	assert.InDelta(t, 1.5, snap.Network.BytesRecv, 1e-9)

	assert.InDelta(t, 93839.0, snap.Uptime, 1e-9)
	assert.Equal(t, "1d 2h 3m", snap.UptimeStr)
	assert.Equal(t, "2024-03-01 08:30:00", snap.Timestamp)
	assert.Equal(t, "aarch64", snap.System.Machine)
}

func TestSlowTierFailureKeepsUnknown(t *testing.T) {
	src := newFakeSource()
	src.infoErr = errors.New().New(metrics.ErrCPUInfoRead)
	s := newSampler(t, src, &fakeTemp{celsius: 45})

	snap := s.Sample(context.Background(), epoch)
	assert.Equal(t, "Unknown", snap.CPU.Model)
}

func TestNetworkFailureLeavesZeros(t *testing.T) {
	src := newFakeSource()
	src.netErr = errors.New().New(metrics.ErrCollectFailed)
	s := newSampler(t, src, &fakeTemp{celsius: 45})

	snap := s.Sample(context.Background(), epoch)
	assert.Equal(t, metrics.NetworkStats{}, snap.Network)
}

func TestNewSamplerValidates(t *testing.T) {
	_, err := metrics.NewSampler(metrics.DefaultConfig(), nil, &fakeTemp{}, nil)
	assert.True(t, errors.HasCode(err, metrics.ErrMissingSource))

	cfg := metrics.DefaultConfig()
	cfg.MaxWatts = 1
	_, err = metrics.NewSampler(cfg, newFakeSource(), &fakeTemp{}, nil)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidConfig))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0d 0h 0m", metrics.FormatUptime(0))
	assert.Equal(t, "0d 0h 0m", metrics.FormatUptime(-time.Minute))
	assert.Equal(t, "0d 1h 1m", metrics.FormatUptime(time.Hour+time.Minute+59*time.Second))
	assert.Equal(t, "3d 0h 0m", metrics.FormatUptime(72*time.Hour))
}

func TestRound(t *testing.T) {
	assert.InDelta(t, 1.05, metrics.Round(1.046875, 2), 1e-12)
	assert.InDelta(t, 0.926, metrics.Round(0.9260, 3), 1e-12)
	assert.InDelta(t, 45.3, metrics.Round(45.25, 1), 1e-12)
}
