package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/config"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/consumer"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/events"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence"
)

func main() {
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelInfo)

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal(context.Background(), "invalid configuration", slog.Error(err))
	}
	if !cfg.EventsEnabled() {
		logger.Fatal(context.Background(), "KAFKA_BROKERS must be set for the snapshot consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := domain.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal(ctx, "failed to load timezone", slog.Error(err))
	}

	store, closeStore, err := persistence.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to open store", slog.Error(err))
	}
	defer closeStore()

	producer := events.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	tracker := domain.NewTracker(store, domain.NewCalendar(quartz.NewReal(), loc),
		domain.WithLogger(logger),
		domain.WithPublisher(events.NewPublisher(producer, cfg.EventsTopic)),
	)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info(ctx, "consumer metrics listening", slog.F("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server error", slog.Error(err))
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.SnapshotTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	proc := consumer.NewProcessor(reader, consumer.NewTrackHandler(tracker), consumer.WithLogger(logger))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()

		logger.Info(ctx, "consumer started", slog.F("topic", cfg.SnapshotTopic), slog.F("group", cfg.ConsumerGroupID))
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "consumer stopped with error", slog.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info(ctx, "consumer shutdown requested")
	case <-done:
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "metrics server shutdown error", slog.Error(err))
	}

	<-done
}
