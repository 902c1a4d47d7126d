package metrics

import (
	"context"
	"time"
)

// Usage describes a capacity in bytes.
type Usage struct {
	Total   uint64
	Used    uint64
	Free    uint64
	Percent float64
}

// SystemInfo mirrors uname.
type SystemInfo struct {
	System  string `json:"system"`
	Release string `json:"release"`
	Version string `json:"version"`
	Machine string `json:"machine"`
}

// Source collects raw host values. Every method may fail independently.
type Source interface {
	CPUPercent(ctx context.Context) (float64, error)
	CPUFrequency(ctx context.Context) (float64, error)
	CPUCount(ctx context.Context) (int, error)
	CPUInfo(ctx context.Context) (string, error)
	Memory(ctx context.Context) (Usage, error)
	Disk(ctx context.Context, path string) (Usage, error)
	Network(ctx context.Context) (Counters, error)
	DiskIO(ctx context.Context) (Counters, error)
	Uptime(ctx context.Context) (time.Duration, error)
	System(ctx context.Context) (SystemInfo, error)
}

// VoltageSource reads the core voltage.
type VoltageSource interface {
	Read(ctx context.Context) (float64, error)
}

// Snapshot is one sampling pass, already rounded for display.
type Snapshot struct {
	CPU       CPUStats     `json:"cpu"`
	Power     PowerStats   `json:"power"`
	Memory    UsageStats   `json:"memory"`
	Disk      UsageStats   `json:"disk"`
	Network   NetworkStats `json:"network"`
	IO        IOStats      `json:"io"`
	Uptime    float64      `json:"uptime"`
	UptimeStr string       `json:"uptime_str"`
	Timestamp string       `json:"timestamp"`
	System    SystemInfo   `json:"system"`

	// TemperatureValid is false when the last thermal read failed and
	// CPU.Temp is a substitute 0.
	TemperatureValid bool      `json:"-"`
	SampledAt        time.Time `json:"-"`
}

type CPUStats struct {
	Percent float64 `json:"percent"`
	Temp    float64 `json:"temp"`
	Freq    float64 `json:"freq"`
	Count   int     `json:"count"`
	Voltage float64 `json:"voltage"`
	Model   string  `json:"model"`
}

type PowerStats struct {
	Watts float64 `json:"watts"`
}

// UsageStats are in GB, percent with one decimal.
type UsageStats struct {
	Total   float64 `json:"total"`
	Used    float64 `json:"used"`
	Free    float64 `json:"free"`
	Percent float64 `json:"percent"`
}

// NetworkStats totals are in MB, speeds in KB/s.
type NetworkStats struct {
	BytesSent     float64 `json:"bytes_sent"`
	BytesRecv     float64 `json:"bytes_recv"`
	UploadSpeed   float64 `json:"upload_speed"`
	DownloadSpeed float64 `json:"download_speed"`
}

// IOStats totals are in MB, speeds in KB/s.
type IOStats struct {
	ReadBytes  float64 `json:"read_bytes"`
	WriteBytes float64 `json:"write_bytes"`
	ReadSpeed  float64 `json:"read_speed"`
	WriteSpeed float64 `json:"write_speed"`
}
