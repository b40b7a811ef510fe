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
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/activitylog"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/api"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/config"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/events"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/fetch"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence"
	httptransport "github.com/insomniacmonkey/Team-Tree-House-Profile/internal/transport/http"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/upstream"
)

func main() {
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelInfo)

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal(context.Background(), "invalid configuration", slog.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := domain.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal(ctx, "failed to load timezone", slog.Error(err))
	}
	clock := quartz.NewReal()
	calendar := domain.NewCalendar(clock, loc)

	store, closeStore, err := persistence.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to open store", slog.Error(err))
	}
	defer closeStore()

	trackerOpts := []domain.Option{domain.WithLogger(logger)}
	if cfg.EventsEnabled() {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		trackerOpts = append(trackerOpts, domain.WithPublisher(events.NewPublisher(producer, cfg.EventsTopic)))
	}
	tracker := domain.NewTracker(store, calendar, trackerOpts...)

	activity := activitylog.New(cfg.LogDir, clock, loc)
	defer activity.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL:       cfg.UpstreamBaseURL,
		Timeout:       cfg.UpstreamTimeout,
		MaxRetries:    cfg.UpstreamMaxRetries,
		RatePerSecond: cfg.UpstreamRatePerSecond,
		Logger:        logger,
	})
	cycle := fetch.NewCycle(client, tracker,
		fetch.WithSink(activity),
		fetch.WithLogger(logger),
		fetch.WithConcurrency(cfg.FetchConcurrency),
		fetch.WithUserTimeout(cfg.FetchUserTimeout),
	)
	scheduler, err := fetch.NewScheduler(cycle, fetch.SchedulerConfig{
		Spec:       cfg.FetchSchedule,
		Usernames:  cfg.Profiles,
		RunOnStart: cfg.FetchOnStart,
		Location:   loc,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal(ctx, "invalid fetch schedule", slog.Error(err))
	}

	handler := api.NewHandler(tracker, cycle, api.Config{
		Profiles:       cfg.Profiles,
		DefaultProfile: cfg.Default(),
		MaxBodyBytes:   cfg.MaxBodyBytes,
		TrackRateLimit: cfg.TrackRateLimit,
		Logger:         logger,
	})
	router := chi.NewRouter()
	router.Use(httptransport.RequestLogger(logger), httptransport.CORS(cfg.CORSOrigins))
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info(ctx, "points api listening", slog.F("address", cfg.HTTPAddress), slog.F("profiles", cfg.Profiles))
		if err := activity.Append("Server started."); err != nil {
			logger.Warn(ctx, "failed to append activity log", slog.Error(err))
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		scheduler.Start(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error(context.Background(), "server stopped with error", slog.Error(err))
		os.Exit(1)
	}
	scheduler.Wait()
	logger.Info(context.Background(), "shutdown complete")
}
