package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

const (
	defaultCPUInfoPath = "/proc/cpuinfo"
	scalingFreqPath    = "/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq"
	kernelVersionPath  = "/proc/sys/kernel/version"
	sysBlockDir        = "/sys/block"
)

// HostSource reads the local host through gopsutil and procfs.
type HostSource struct {
	cpuInfoPath string
	now         func() time.Time
}

func NewHostSource(cpuInfoPath string) *HostSource {
	if cpuInfoPath == "" {
		cpuInfoPath = defaultCPUInfoPath
	}

	return &HostSource{cpuInfoPath: cpuInfoPath, now: time.Now}
}

// CPUPercent returns utilization since the previous call, so the first call
// after start reports 0.
func (h *HostSource) CPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, collectErr("cpu_percent", err)
	}
	if len(percents) == 0 {
		return 0, nil
	}

	return percents[0], nil
}

// CPUFrequency returns the current frequency of cpu0 in MHz, falling back to
// the nominal frequency reported by gopsutil.
func (h *HostSource) CPUFrequency(ctx context.Context) (float64, error) {
	if raw, err := os.ReadFile(scalingFreqPath); err == nil {
		if khz, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64); err == nil {
			return khz / 1000, nil
		}
	}

	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, collectErr("cpu_freq", err)
	}
	if len(infos) == 0 {
		return 0, nil
	}

	return infos[0].Mhz, nil
}

func (h *HostSource) CPUCount(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, collectErr("cpu_count", err)
	}

	return n, nil
}

func (h *HostSource) CPUInfo(_ context.Context) (string, error) {
	raw, err := os.ReadFile(h.cpuInfoPath)
	if err != nil {
		return "", errors.New().Wrap(ErrCPUInfoRead, err)
	}

	return string(raw), nil
}

// Memory reports Free as the available memory, which is what users expect
// to be able to allocate.
func (h *HostSource) Memory(ctx context.Context) (Usage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, collectErr("memory", err)
	}

	return Usage{
		Total:   vm.Total,
		Used:    vm.Used,
		Free:    vm.Available,
		Percent: vm.UsedPercent,
	}, nil
}

func (h *HostSource) Disk(ctx context.Context, path string) (Usage, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Usage{}, collectErr("disk", err)
	}

	return Usage{
		Total:   usage.Total,
		Used:    usage.Used,
		Free:    usage.Free,
		Percent: usage.UsedPercent,
	}, nil
}

func (h *HostSource) Network(ctx context.Context) (Counters, error) {
	stats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return Counters{}, collectErr("network", err)
	}
	if len(stats) == 0 {
		return Counters{}, nil
	}

	return Counters{Out: stats[0].BytesSent, In: stats[0].BytesRecv}, nil
}

// DiskIO sums whole block devices only; partitions would be counted twice.
func (h *HostSource) DiskIO(ctx context.Context) (Counters, error) {
	stats, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return Counters{}, collectErr("disk_io", err)
	}

	var all, whole Counters
	wholeSeen := false
	for name, s := range stats {
		all.In += s.ReadBytes
		all.Out += s.WriteBytes
		if _, err := os.Stat(filepath.Join(sysBlockDir, name)); err == nil {
			whole.In += s.ReadBytes
			whole.Out += s.WriteBytes
			wholeSeen = true
		}
	}

	if wholeSeen {
		return whole, nil
	}

	return all, nil
}

func (h *HostSource) Uptime(ctx context.Context) (time.Duration, error) {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return 0, collectErr("uptime", err)
	}

	return h.now().Sub(time.Unix(int64(boot), 0)), nil
}

func (h *HostSource) System(ctx context.Context) (SystemInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return SystemInfo{}, collectErr("system", err)
	}

	sys := SystemInfo{
		System:  capitalize(info.OS),
		Release: info.KernelVersion,
		Version: unknownModel,
		Machine: info.KernelArch,
	}

	if raw, err := os.ReadFile(kernelVersionPath); err == nil {
		sys.Version = strings.TrimSpace(string(raw))
	}

	return sys, nil
}

func capitalize(s string) string {
	if s == "" {
		return unknownModel
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func collectErr(what string, err error) error {
	return errors.New().Wrap(ErrCollectFailed, err).WithMessage("Failed to collect " + what)
}
