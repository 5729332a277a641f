package main

import (
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"soclite-backend/internal/bus"
	"soclite-backend/internal/config"
	"soclite-backend/internal/scan"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(getenv("CONFIG_PATH", ""))
	if err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	spoolDir := getenv("SPOOL_DIR", cfg.ScanSpoolDir)
	interval := time.Duration(getenvInt("SCANSIM_INTERVAL_SECONDS", cfg.ScanIntervalSeconds)) * time.Second
	seed := uint64(getenvInt("SCANSIM_SEED", 1))
	targetCount := getenvInt("SCANSIM_TARGETS", 3)
	burstEvery := getenvInt("SCANSIM_BURST_EVERY", 12)
	limit := getenvInt("SCANSIM_COUNT", 0)
	natsURL := getenv("NATS_URL", "")

	var publisher *bus.Publisher
	if natsURL != "" {
		publisher, err = bus.NewPublisher(natsURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer publisher.Close()
	}

	sim := scan.NewSimulator(seed, targetCount, burstEvery)
	logger.Info("scan simulator running",
		slog.String("spool_dir", spoolDir),
		slog.Any("targets", sim.Targets()),
		slog.Int("burst_every", burstEvery),
		slog.String("interval", interval.String()),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	emitted := 0
	for {
		obs := sim.Next(time.Now())
		if _, err := scan.WriteSpool(spoolDir, obs); err != nil {
			logger.Error("failed to write spool record",
				slog.String("target", obs.Target),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		if publisher != nil {
			if err := publisher.Publish(bus.SubjectObservation, obs); err != nil {
				logger.Warn("failed to publish observation",
					slog.String("target", obs.Target),
					slog.String("error", err.Error()),
				)
			}
		}
		logger.Info("scan emitted",
			slog.String("target", obs.Target),
			slog.Float64("open_ports", obs.Metrics["open_ports"]),
		)

		emitted++
		if limit > 0 && emitted >= limit {
			logger.Info("scan simulator done", slog.Int("emitted", emitted))
			return
		}
		select {
		case <-shutdown:
			logger.Info("scan simulator stopping", slog.Int("emitted", emitted))
			return
		case <-ticker.C:
		}
	}
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return fallback
}
