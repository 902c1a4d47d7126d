// Command sysmon serves host metrics and the shadow fan state to dashboards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/pifan/internal/api"
	"codeberg.org/mutker/pifan/internal/config"
	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/journal"
	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/metrics"
	"codeberg.org/mutker/pifan/internal/pid"
	"codeberg.org/mutker/pifan/internal/sensor"
	"codeberg.org/mutker/pifan/internal/shadow"
	"codeberg.org/mutker/pifan/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := run(cfg); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("sysmon stopped")
		}
		logger.Fatal().Err(err).Msg("sysmon stopped")
	}
}

func run(cfg *config.Config) error {
	pidPath := pid.Path("sysmon")
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	paths := sensor.ThermalPaths(cfg.TemperaturePath)

	sampler, err := metrics.NewSampler(metrics.Config{
		CacheTTL:        cfg.CacheTTL,
		ThermalInterval: cfg.ThermalInterval,
		DiskPath:        cfg.DiskPath,
		IdleWatts:       cfg.IdleWatts,
		MaxWatts:        cfg.MaxWatts,
		PowerPath:       cfg.PowerPath,
	},
		metrics.NewHostSource(cfg.CPUInfoPath),
		sensor.NewThermalZone(cfg.SensorTimeout, paths...),
		sensor.NewVoltageReader(cfg.VoltageCommand, cfg.SensorTimeout),
	)
	if err != nil {
		return err
	}

	tracker, err := shadow.New(shadow.Config{
		TargetTemp:      cfg.TargetTemp,
		RunningDuration: cfg.RunningDuration,
		StopDuration:    cfg.StopDuration,
	})
	if err != nil {
		return err
	}

	journalCfg := journal.DefaultConfig()
	journalCfg.Capacity = cfg.JournalCapacity
	events, err := journal.New(journalCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close fan event journal")
		}
	}()

	svc, err := telemetry.NewService(telemetry.Config{SampleInterval: cfg.SampleInterval}, sampler, tracker,
		telemetry.WithJournal(events))
	if err != nil {
		return err
	}

	server := api.NewServer(svc, rate.NewLimiter(rate.Limit(cfg.ControlRate), cfg.ControlBurst))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})

	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.ListenAddr)
	})

	err = g.Wait()
	logger.Info().Msg("Exiting...")

	return err
}
