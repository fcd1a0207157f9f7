package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/komcat/SiphogAdapter/internal/broadcast"
	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/logging"
	"github.com/komcat/SiphogAdapter/internal/monitor"
	"github.com/komcat/SiphogAdapter/internal/uplink"
)

var version = "dev"
var appName = "siphog-monitor"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	host := flag.String("host", broadcast.DefaultHost, "broadcast server host")
	port := flag.Int("port", broadcast.DefaultPort, "broadcast server port")
	every := flag.Duration("every", time.Second, "interval between status lines")
	source := flag.String("source", "tcp", "sample source: tcp or mqtt")
	flag.Parse()

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(time.Now())

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		switch *source {
		case "tcp":
			c := &monitor.Client{
				Addr:    net.JoinHostPort(*host, strconv.Itoa(*port)),
				Logger:  logger,
				Monitor: mon,
			}
			runErr = c.Run(ctx)
		case "mqtt":
			runErr = runMQTT(ctx, cfg, logger, mon)
		default:
			runErr = fmt.Errorf("unknown source %q (allowed: tcp, mqtt)", *source)
		}
	}()

	report(ctx, done, *every, mon)

	s := mon.Snapshot()
	now := time.Now()
	slog.Info("session summary",
		"messages", humanize.Comma(int64(s.Messages)),
		"malformed", s.Malformed,
		"average_rate_hz", fmt.Sprintf("%.1f", s.AverageRate(now)),
		"duration", now.Sub(s.Started).Round(100*time.Millisecond).String(),
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("monitor failed", "err", runErr)
		os.Exit(1)
	}
}

func runMQTT(ctx context.Context, cfg config.Config, logger *slog.Logger, mon *monitor.Monitor) error {
	// Publisher and monitor share MQTT_CLIENT_ID by default; the broker would kick one of them.
	cfg.MQTTClientID += "-monitor"
	sub := uplink.NewSubscriber(cfg, logger)
	sub.MessageHandler = func(env uplink.Envelope) error {
		mon.Observe(broadcast.SampleOf(env.Telemetry), time.Now())
		return nil
	}
	defer sub.Disconnect()

	if err := sub.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func report(ctx context.Context, done <-chan struct{}, every time.Duration, mon *monitor.Monitor) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-done:
			return
		case <-t.C:
			s := mon.Snapshot()
			if s.Messages == 0 {
				slog.Info("waiting for data")
				continue
			}
			l := s.Latest
			slog.Info("siphog",
				"messages", s.Messages,
				"rate_hz", fmt.Sprintf("%.1f", s.Rate),
				"quality", s.Quality,
				"sled_current_ma", fmt.Sprintf("%.2f", l.SledCurrent),
				"sled_temp_c", fmt.Sprintf("%.2f", l.SledTemp),
				"tec_current_ma", fmt.Sprintf("%.2f", l.TECCurrent),
				"photo_current_ua", fmt.Sprintf("%.2f", l.PhotoCurrent),
				"sag_power_v", fmt.Sprintf("%.4f", l.SagPower),
				"target_sag_power_v", fmt.Sprintf("%.4f", l.TargetSagPower),
			)
		}
	}
}
