// Package metrics samples host telemetry in two tiers: slow-changing facts
// cached for a TTL and fast values read on every pass.
package metrics

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/sensor"
	"github.com/dustin/go-humanize"
)

const (
	timestampLayout = "2006-01-02 15:04:05"

	DefaultCacheTTL        = 60 * time.Second
	DefaultThermalInterval = 2 * time.Second
	DefaultIdleWatts       = 2.5
	DefaultMaxWatts        = 7.0
)

type Config struct {
	CacheTTL        time.Duration
	ThermalInterval time.Duration
	DiskPath        string
	IdleWatts       float64
	MaxWatts        float64
	// PowerPath optionally points at an hwmon power1_input file (microwatts).
	// When it cannot be read the utilization model is used.
	PowerPath string
}

func DefaultConfig() Config {
	return Config{
		CacheTTL:        DefaultCacheTTL,
		ThermalInterval: DefaultThermalInterval,
		DiskPath:        "/",
		IdleWatts:       DefaultIdleWatts,
		MaxWatts:        DefaultMaxWatts,
	}
}

type slowTier struct {
	model     string
	count     int
	diskTotal uint64
	memTotal  uint64
	system    SystemInfo
	at        time.Time
	loaded    bool
}

type thermalTier struct {
	celsius float64
	valid   bool
	volts   float64
	at      time.Time
	sampled bool
}

// Sampler produces Snapshots. Sample is safe for concurrent use but is meant
// to be driven by a single ticker.
type Sampler struct {
	cfg   Config
	src   Source
	temp  sensor.TemperatureSource
	volts VoltageSource

	mu      sync.Mutex
	slow    slowTier
	thermal thermalTier
	net     counterDelta
	io      counterDelta
}

// NewSampler creates a sampler. volts may be nil on boards without a voltage
// utility.
func NewSampler(cfg Config, src Source, temp sensor.TemperatureSource, volts VoltageSource) (*Sampler, error) {
	errFactory := errors.New()

	if src == nil || temp == nil {
		return nil, errFactory.New(ErrMissingSource)
	}
	if cfg.CacheTTL <= 0 || cfg.ThermalInterval <= 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "cache ttl and thermal interval must be positive")
	}
	if cfg.MaxWatts < cfg.IdleWatts {
		return nil, errFactory.WithData(ErrInvalidConfig, "max watts below idle watts")
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}

	return &Sampler{cfg: cfg, src: src, temp: temp, volts: volts}, nil
}

// Sample runs one pass at time now. Collection failures never fail the pass;
// the affected fields are reported as zero.
func (s *Sampler) Sample(ctx context.Context, now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.slow.loaded || now.Sub(s.slow.at) > s.cfg.CacheTTL {
		s.refreshSlow(ctx, now)
	}

	if !s.thermal.sampled || now.Sub(s.thermal.at) >= s.cfg.ThermalInterval {
		s.refreshThermal(ctx, now)
	}

	snap := Snapshot{
		System:           s.slow.system,
		Timestamp:        now.Format(timestampLayout),
		TemperatureValid: s.thermal.valid,
		SampledAt:        now,
	}

	percent := s.fast(ctx, "cpu_percent", s.src.CPUPercent)
	freq := s.fast(ctx, "cpu_freq", s.src.CPUFrequency)

	snap.CPU = CPUStats{
		Percent: Round(percent, 1),
		Temp:    Round(s.thermal.celsius, 1),
		Freq:    Round(freq, 1),
		Count:   s.slow.count,
		Voltage: Round(s.thermal.volts, 3),
		Model:   s.slow.model,
	}

	snap.Power = PowerStats{Watts: s.power(percent)}

	if vm, err := s.src.Memory(ctx); err == nil {
		snap.Memory = usageStats(vm, s.slow.memTotal, vm.Percent)
	} else {
		s.logCollectError("memory", err)
	}

	if du, err := s.src.Disk(ctx, s.cfg.DiskPath); err == nil {
		pct := 0.0
		if du.Total > 0 {
			pct = float64(du.Used) / float64(du.Total) * 100
		}
		snap.Disk = usageStats(du, s.slow.diskTotal, pct)
	} else {
		s.logCollectError("disk", err)
	}

	if nc, err := s.src.Network(ctx); err == nil {
		up, down := s.net.update(nc, now)
		snap.Network = NetworkStats{
			BytesSent:     toMB(nc.Out),
			BytesRecv:     toMB(nc.In),
			UploadSpeed:   up,
			DownloadSpeed: down,
		}
	} else {
		s.logCollectError("network", err)
	}

	if ioc, err := s.src.DiskIO(ctx); err == nil {
		write, read := s.io.update(ioc, now)
		snap.IO = IOStats{
			ReadBytes:  toMB(ioc.In),
			WriteBytes: toMB(ioc.Out),
			ReadSpeed:  read,
			WriteSpeed: write,
		}
	} else {
		s.logCollectError("disk_io", err)
	}

	if up, err := s.src.Uptime(ctx); err == nil {
		snap.Uptime = Round(up.Seconds(), 1)
		snap.UptimeStr = FormatUptime(up)
	} else {
		s.logCollectError("uptime", err)
		snap.UptimeStr = FormatUptime(0)
	}

	logger.Debug().
		Float64("cpu", snap.CPU.Percent).
		Float64("temp", snap.CPU.Temp).
		Float64("watts", snap.Power.Watts).
		Str("upload", humanize.IBytes(uint64(snap.Network.UploadSpeed*bytesPerKB))+"/s").
		Str("download", humanize.IBytes(uint64(snap.Network.DownloadSpeed*bytesPerKB))+"/s").
		Str("read", humanize.IBytes(uint64(snap.IO.ReadSpeed*bytesPerKB))+"/s").
		Str("write", humanize.IBytes(uint64(snap.IO.WriteSpeed*bytesPerKB))+"/s").
		Msg("Sampled host metrics")

	return snap
}

func (s *Sampler) refreshSlow(ctx context.Context, now time.Time) {
	if !s.slow.loaded {
		s.slow.model = unknownModel
		s.slow.system = SystemInfo{
			System:  unknownModel,
			Release: unknownModel,
			Version: unknownModel,
			Machine: unknownModel,
		}
	}

	if info, err := s.src.CPUInfo(ctx); err == nil {
		s.slow.model = ParseCPUModel(info)
	} else {
		s.logCollectError("cpu_model", err)
	}

	if n, err := s.src.CPUCount(ctx); err == nil {
		s.slow.count = n
	} else {
		s.logCollectError("cpu_count", err)
	}

	if du, err := s.src.Disk(ctx, s.cfg.DiskPath); err == nil {
		s.slow.diskTotal = du.Total
	} else {
		s.logCollectError("disk_total", err)
	}

	if vm, err := s.src.Memory(ctx); err == nil {
		s.slow.memTotal = vm.Total
	} else {
		s.logCollectError("memory_total", err)
	}

	if sys, err := s.src.System(ctx); err == nil {
		s.slow.system = sys
	} else {
		s.logCollectError("system", err)
	}

	s.slow.at = now
	s.slow.loaded = true

	logger.Debug().
		Str("model", s.slow.model).
		Int("cores", s.slow.count).
		Str("memory", humanize.IBytes(s.slow.memTotal)).
		Str("disk", humanize.IBytes(s.slow.diskTotal)).
		Msg("Refreshed static host info")
}

func (s *Sampler) refreshThermal(ctx context.Context, now time.Time) {
	reading, err := s.temp.Read(ctx)
	if err != nil || !reading.Valid {
		s.thermal.celsius = 0
		s.thermal.valid = false
		s.logCollectError("temperature", err)
	} else {
		s.thermal.celsius = reading.Celsius
		s.thermal.valid = true
	}

	s.thermal.volts = 0
	if s.volts != nil {
		v, err := s.volts.Read(ctx)
		if err != nil {
			s.logCollectError("voltage", err)
		} else {
			s.thermal.volts = v
		}
	}

	s.thermal.at = now
	s.thermal.sampled = true
}

func (s *Sampler) power(percent float64) float64 {
	if s.cfg.PowerPath != "" {
		if raw, err := os.ReadFile(s.cfg.PowerPath); err == nil {
			if uw, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64); err == nil {
				return Round(uw/1e6, 2)
			}
		}
	}

	return EstimatePower(percent, s.cfg.IdleWatts, s.cfg.MaxWatts)
}

func (s *Sampler) fast(ctx context.Context, what string, read func(context.Context) (float64, error)) float64 {
	v, err := read(ctx)
	if err != nil {
		s.logCollectError(what, err)
		return 0
	}
	return v
}

func (s *Sampler) logCollectError(what string, err error) {
	if err == nil {
		return
	}
	logger.Debug().Err(err).Str("metric", what).Msg("Metric unavailable")
}

func usageStats(u Usage, cachedTotal uint64, percent float64) UsageStats {
	total := cachedTotal
	if total == 0 {
		total = u.Total
	}

	return UsageStats{
		Total:   toGB(total),
		Used:    toGB(u.Used),
		Free:    toGB(u.Free),
		Percent: Round(percent, 1),
	}
}

// FormatUptime renders whole days, hours and minutes, e.g. "1d 2h 3m".
func FormatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}

	days := secs / 86400
	hours := secs % 86400 / 3600
	minutes := secs % 3600 / 60

	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
