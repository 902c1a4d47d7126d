package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "PIFAN"
	DefaultConfigName = "pifan"
	DefaultConfigDir  = "/etc"

	DefaultLogLevel = "info"

	// Thermal controller
	DefaultGPIOPin         = 14
	DefaultHighThreshold   = 40.0
	DefaultPollInterval    = time.Second
	DefaultRunningDuration = 300 * time.Second
	DefaultStopDuration    = 300 * time.Second
	DefaultSyncURL         = "http://localhost:9001/api/fan/control_event"
	DefaultSyncTimeout     = 5 * time.Second
	DefaultTemperaturePath = "/sys/class/thermal/thermal_zone0/temp"
	DefaultSensorTimeout   = 5 * time.Second
	DefaultHistoryWindow   = 5

	// Telemetry service
	DefaultListenAddr      = ":9001"
	DefaultSampleInterval  = time.Second
	DefaultThermalInterval = 2 * time.Second
	DefaultCacheTTL        = 60 * time.Second
	DefaultTargetTemp      = DefaultHighThreshold
	DefaultIdleWatts       = 2.5
	DefaultMaxWatts        = 7.0
	DefaultDiskPath        = "/"
	DefaultVoltageCommand  = "vcgencmd"
	DefaultCPUInfoPath     = "/proc/cpuinfo"
	DefaultJournalCapacity = 1000
	DefaultControlRate     = 5.0
	DefaultControlBurst    = 10

	maxGPIOPin     = 27
	maxTemperature = 150.0
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	GPIOPin         int           `mapstructure:"gpio_pin"`
	HighThreshold   float64       `mapstructure:"high_threshold"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RunningDuration time.Duration `mapstructure:"running_duration"`
	StopDuration    time.Duration `mapstructure:"stop_duration"`
	SyncURL         string        `mapstructure:"sync_url"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	TemperaturePath string        `mapstructure:"temperature_path"`
	SensorTimeout   time.Duration `mapstructure:"sensor_timeout"`
	HistoryWindow   int           `mapstructure:"history_window"`
	Monitor         bool          `mapstructure:"monitor"`

	ListenAddr      string        `mapstructure:"listen_addr"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	ThermalInterval time.Duration `mapstructure:"thermal_interval"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	TargetTemp      float64       `mapstructure:"target_temp"`
	IdleWatts       float64       `mapstructure:"idle_watts"`
	MaxWatts        float64       `mapstructure:"max_watts"`
	DiskPath        string        `mapstructure:"disk_path"`
	VoltageCommand  string        `mapstructure:"voltage_command"`
	CPUInfoPath     string        `mapstructure:"cpuinfo_path"`
	PowerPath       string        `mapstructure:"power_path"`
	JournalCapacity int           `mapstructure:"journal_capacity"`
	ControlRate     float64       `mapstructure:"control_rate"`
	ControlBurst    int           `mapstructure:"control_burst"`
}

var defaults = map[string]any{
	"log_level":        DefaultLogLevel,
	"gpio_pin":         DefaultGPIOPin,
	"high_threshold":   DefaultHighThreshold,
	"poll_interval":    DefaultPollInterval,
	"running_duration": DefaultRunningDuration,
	"stop_duration":    DefaultStopDuration,
	"sync_url":         DefaultSyncURL,
	"sync_timeout":     DefaultSyncTimeout,
	"temperature_path": DefaultTemperaturePath,
	"sensor_timeout":   DefaultSensorTimeout,
	"history_window":   DefaultHistoryWindow,
	"monitor":          false,
	"listen_addr":      DefaultListenAddr,
	"sample_interval":  DefaultSampleInterval,
	"thermal_interval": DefaultThermalInterval,
	"cache_ttl":        DefaultCacheTTL,
	"target_temp":      DefaultTargetTemp,
	"idle_watts":       DefaultIdleWatts,
	"max_watts":        DefaultMaxWatts,
	"disk_path":        DefaultDiskPath,
	"voltage_command":  DefaultVoltageCommand,
	"cpuinfo_path":     DefaultCPUInfoPath,
	"power_path":       "",
	"journal_capacity": DefaultJournalCapacity,
	"control_rate":     DefaultControlRate,
	"control_burst":    DefaultControlBurst,
}

// Load reads configuration from defaults, the TOML config file, PIFAN_*
// environment variables and command line flags, in increasing precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.hasArgs {
		o.args = os.Args[1:]
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Define flags
	fs := newFlagSet(filepath.Base(os.Args[0]))
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Name == "config" {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Load configuration from file
	configPath := o.configPath
	if flagPath, _ := fs.GetString("config"); flagPath != "" {
		configPath = flagPath
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	// Unmarshal the configuration
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.String("config", "", "Path to the TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")

	fs.Int("gpio-pin", DefaultGPIOPin, "BCM number of the fan GPIO pin")
	fs.Float64("high-threshold", DefaultHighThreshold, "Temperature (°C) at or above which the fan runs continuously")
	fs.Duration("poll-interval", DefaultPollInterval, "Controller temperature poll interval")
	fs.Duration("running-duration", DefaultRunningDuration, "Duty cycle running phase length")
	fs.Duration("stop-duration", DefaultStopDuration, "Duty cycle stopped phase length")
	fs.String("sync-url", DefaultSyncURL, "Telemetry endpoint notified of fan transitions")
	fs.Duration("sync-timeout", DefaultSyncTimeout, "Timeout for state sync notifications")
	fs.String("temperature-path", DefaultTemperaturePath, "Thermal zone sysfs file")
	fs.Duration("sensor-timeout", DefaultSensorTimeout, "Timeout for sensor reads and subprocesses")
	fs.Int("history-window", DefaultHistoryWindow, "Number of readings in the rolling temperature average")
	fs.Bool("monitor", false, "Only monitor temperature, never drive the fan pin")

	fs.String("listen-addr", DefaultListenAddr, "Telemetry HTTP listen address")
	fs.Duration("sample-interval", DefaultSampleInterval, "Metrics sampling interval")
	fs.Duration("thermal-interval", DefaultThermalInterval, "Temperature and voltage subsampling interval")
	fs.Duration("cache-ttl", DefaultCacheTTL, "Refresh interval of slow-changing host facts")
	fs.Float64("target-temp", DefaultTargetTemp, "Shadow auto-mode target temperature (°C)")
	fs.Float64("idle-watts", DefaultIdleWatts, "Estimated board power at 0% CPU")
	fs.Float64("max-watts", DefaultMaxWatts, "Estimated board power at 100% CPU")
	fs.String("disk-path", DefaultDiskPath, "Mount point reported in disk usage")
	fs.String("voltage-command", DefaultVoltageCommand, "Vendor utility used to query core voltage")
	fs.String("cpuinfo-path", DefaultCPUInfoPath, "cpuinfo file used for CPU model identification")
	fs.String("power-path", "", "Optional hwmon power1_input file; the utilization model is used otherwise")
	fs.Int("journal-capacity", DefaultJournalCapacity, "Fan events retained in the in-memory journal")
	fs.Float64("control-rate", DefaultControlRate, "Control API requests per second")
	fs.Int("control-burst", DefaultControlBurst, "Control API burst size")

	return fs
}

// Validate checks the loaded values and returns a coded error for the first
// invalid field.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, FieldError{
			Field: "log_level", Value: c.LogLevel, Reason: "must be one of debug, info, warning, error",
		})
	}

	intervals := []struct {
		field string
		value time.Duration
	}{
		{"poll_interval", c.PollInterval},
		{"running_duration", c.RunningDuration},
		{"stop_duration", c.StopDuration},
		{"sync_timeout", c.SyncTimeout},
		{"sensor_timeout", c.SensorTimeout},
		{"sample_interval", c.SampleInterval},
		{"thermal_interval", c.ThermalInterval},
		{"cache_ttl", c.CacheTTL},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, FieldError{
				Field: iv.field, Value: iv.value, Reason: "must be positive",
			})
		}
	}

	if c.GPIOPin < 0 || c.GPIOPin > maxGPIOPin {
		return invalid("gpio_pin", c.GPIOPin, "must be a BCM pin between 0 and 27")
	}
	if c.HighThreshold <= 0 || c.HighThreshold >= maxTemperature {
		return invalid("high_threshold", c.HighThreshold, "must be within (0, 150)")
	}
	if c.TargetTemp <= 0 || c.TargetTemp >= maxTemperature {
		return invalid("target_temp", c.TargetTemp, "must be within (0, 150)")
	}
	if u, err := url.Parse(c.SyncURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("sync_url", c.SyncURL, "must be an absolute http(s) URL")
	}
	if c.TemperaturePath == "" {
		return invalid("temperature_path", c.TemperaturePath, "must not be empty")
	}
	if c.HistoryWindow <= 0 {
		return invalid("history_window", c.HistoryWindow, "must be positive")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return invalid("listen_addr", c.ListenAddr, "must not be empty")
	}
	if c.IdleWatts < 0 || c.MaxWatts < c.IdleWatts {
		return invalid("max_watts", c.MaxWatts, "must be greater than or equal to idle_watts")
	}
	if c.JournalCapacity <= 0 {
		return invalid("journal_capacity", c.JournalCapacity, "must be positive")
	}
	if c.ControlRate <= 0 || c.ControlBurst <= 0 {
		return invalid("control_rate", c.ControlRate, "rate and burst must be positive")
	}

	return nil
}

func invalid(field string, value any, reason string) error {
	return errors.New().WithData(errors.ErrInvalidConfig, FieldError{
		Field: field, Value: value, Reason: reason,
	})
}
