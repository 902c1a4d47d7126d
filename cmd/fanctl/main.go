// Command fanctl drives a GPIO fan from the SoC temperature and notifies the
// telemetry service of every on/off transition.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/pifan/internal/config"
	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/fan"
	"codeberg.org/mutker/pifan/internal/gpio"
	"codeberg.org/mutker/pifan/internal/logger"
	"codeberg.org/mutker/pifan/internal/notify"
	"codeberg.org/mutker/pifan/internal/pid"
	"codeberg.org/mutker/pifan/internal/sensor"
	"golang.org/x/sync/errgroup"
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
			logger.FatalWithCode(appErr).Msg("fanctl stopped")
		}
		logger.Fatal().Err(err).Msg("fanctl stopped")
	}
}

func run(cfg *config.Config) error {
	pidPath := pid.Path("fanctl")
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	paths := sensor.ThermalPaths(cfg.TemperaturePath)
	thermal := sensor.NewThermalZone(cfg.SensorTimeout, paths...)

	var pin gpio.Pin
	if !cfg.Monitor {
		var err error
		pin, err = gpio.Open(cfg.GPIOPin)
		if err != nil {
			return err
		}
	}

	dispatcher := notify.NewDispatcher(notify.NewClient(cfg.SyncURL, cfg.SyncTimeout), notify.DefaultQueueSize)

	controller, err := fan.New(fan.Config{
		HighThreshold:   cfg.HighThreshold,
		RunningDuration: cfg.RunningDuration,
		StopDuration:    cfg.StopDuration,
		PollInterval:    cfg.PollInterval,
		SensorTimeout:   cfg.SensorTimeout,
		HistoryWindow:   cfg.HistoryWindow,
		Monitor:         cfg.Monitor,
	}, thermal, pin, fan.WithNotifier(dispatcher))
	if err != nil {
		if pin != nil {
			_ = pin.Close()
		}
		return err
	}
	defer func() {
		if err := controller.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Failed to switch fan off on exit")
		}
		logger.Info().Msg("Exiting...")
	}()

	logger.Info().
		Int("gpio_pin", cfg.GPIOPin).
		Float64("high_threshold", cfg.HighThreshold).
		Dur("running_duration", cfg.RunningDuration).
		Dur("stop_duration", cfg.StopDuration).
		Bool("monitor", cfg.Monitor).
		Msg("Fan controller starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})

	g.Go(func() error {
		defer dispatcher.Stop()
		return controller.Run(gctx)
	})

	err = g.Wait()

	if dropped := dispatcher.Dropped(); dropped > 0 {
		logger.Warn().Uint64("dropped", dropped).Msg("Sync notifications dropped during run")
	}

	return err
}
