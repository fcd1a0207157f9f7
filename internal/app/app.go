package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
	"github.com/komcat/SiphogAdapter/internal/chart"
	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/control"
	"github.com/komcat/SiphogAdapter/internal/httpapi"
	"github.com/komcat/SiphogAdapter/internal/transport"
	"github.com/komcat/SiphogAdapter/internal/uplink"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// hardware holds the pieces Run normally builds from real devices.
type hardware struct {
	opener transport.Opener
	listen transport.ListenFunc
}

func Run(ctx context.Context, cfg config.Config) error {
	return run(ctx, cfg, hardware{
		opener: transport.SerialOpener{ReadTimeout: cfg.SerialReadTimeout},
	})
}

func run(ctx context.Context, cfg config.Config, hw hardware) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"serialPort", cfg.SerialPort,
		"serialBaud", cfg.SerialBaud,
		"sledCurrentMA", cfg.SledCurrentMA,
		"temperatureC", cfg.TemperatureC,
		"broadcastEnabled", cfg.BroadcastEnabled,
		"broadcastAddr", cfg.BroadcastHost,
		"broadcastPort", cfg.BroadcastPort,
		"chartMaxPoints", cfg.ChartMaxPoints,
		"exportDir", cfg.ExportDir,
		"uplink", cfg.Uplink,
		"deviceID", cfg.DeviceID,
	)
	logger := slog.Default()

	pub, err := uplink.New(cfg, logger)
	if err != nil {
		return err
	}

	serverOpts := []broadcast.Option{broadcast.WithLogger(logger)}
	if hw.listen != nil {
		serverOpts = append(serverOpts, broadcast.WithListen(hw.listen))
	}

	ctrlOpts := []control.Option{
		control.WithLogger(logger),
		control.WithChart(chart.NewBuffer(cfg.ChartMaxPoints)),
		control.WithServer(broadcast.NewServer(serverOpts...)),
		control.WithSettings(control.Settings{
			SledCurrentMA: cfg.SledCurrentMA,
			TemperatureC:  cfg.TemperatureC,
			Baud:          cfg.SerialBaud,
		}),
	}

	var sampler *uplink.Sampler
	if pub != nil {
		sampler = uplink.NewSampler(pub, cfg.UplinkInterval, logger)
		ctrlOpts = append(ctrlOpts, control.WithSink(sampler))
	}

	ctrl := control.New(hw.opener, ctrlOpts...)
	defer func() {
		if err := ctrl.Close(); err != nil {
			slog.Error("controller close", "error", err)
		}
	}()

	bgCtx, cancelBg := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelBg()
		wg.Wait()
	}()

	if sampler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("uplink starting", "publisher", pub.Name(), "interval", cfg.UplinkInterval)
			if err := sampler.Run(bgCtx); err != nil {
				slog.Error("uplink stopped", "error", err)
			}
		}()
	}

	if cfg.BroadcastEnabled {
		if err := ctrl.StartServer(cfg.BroadcastHost, cfg.BroadcastPort); err != nil {
			slog.Warn("broadcast server failed to start (continuing without it)", "error", err)
		}
	}

	// A missing device must not keep the HTTP surface down; POST /api/v1/connect retries.
	if cfg.SerialPort != "" {
		connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
		err := ctrl.Connect(connectCtx, cfg.SerialPort)
		connectCancel()
		if err != nil {
			slog.Warn("serial connect failed (continuing without device)", "port", cfg.SerialPort, "error", err)
		}
	}

	srv := httpapi.NewServer(cfg, httpapi.NewMux(ctrl, cfg, sampler))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
