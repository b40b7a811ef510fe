package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/urfave/cli/v2"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/activitylog"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/chart"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/config"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/events"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/fetch"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/upstream"
)

// env bundles the dependencies shared by every subcommand.
type env struct {
	cfg      config.Config
	logger   slog.Logger
	calendar *domain.Calendar
	tracker  *domain.Tracker
	close    func()
}

func main() {
	app := &cli.App{
		Name:  "pointsctl",
		Usage: "inspect and update tracked profile points",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log at debug level",
			},
		},
		Commands: []*cli.Command{
			fetchCommand(),
			usersCommand(),
			showCommand(),
			summaryCommand(),
			chartCommand(),
			enqueueCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*env, error) {
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelWarn)
	if c.Bool("verbose") {
		logger = logger.Leveled(slog.LevelDebug)
	}
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}
	loc, err := domain.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := persistence.Open(c.Context, cfg, logger)
	if err != nil {
		return nil, err
	}
	calendar := domain.NewCalendar(quartz.NewReal(), loc)
	return &env{
		cfg:      cfg,
		logger:   logger,
		calendar: calendar,
		tracker:  domain.NewTracker(store, calendar, domain.WithLogger(logger)),
		close:    closeStore,
	}, nil
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "run one fetch cycle for the given users, or every configured profile",
		ArgsUsage: "[username...]",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			activity := activitylog.New(e.cfg.LogDir, quartz.NewReal(), e.calendar.Location())
			defer activity.Close()

			client := upstream.NewClient(upstream.Config{
				BaseURL:       e.cfg.UpstreamBaseURL,
				Timeout:       e.cfg.UpstreamTimeout,
				MaxRetries:    e.cfg.UpstreamMaxRetries,
				RatePerSecond: e.cfg.UpstreamRatePerSecond,
				Logger:        e.logger,
			})
			cycle := fetch.NewCycle(client, e.tracker,
				fetch.WithSink(activity),
				fetch.WithLogger(e.logger),
				fetch.WithConcurrency(e.cfg.FetchConcurrency),
				fetch.WithUserTimeout(e.cfg.FetchUserTimeout),
			)

			usernames := c.Args().Slice()
			if len(usernames) == 0 {
				usernames = e.cfg.Profiles
			}
			outcomes := cycle.RunOnce(c.Context, usernames)
			if err := printJSON(c.App.Writer, outcomes); err != nil {
				return err
			}
			for _, outcome := range outcomes {
				if outcome.Kind == fetch.KindFailed {
					return cli.Exit("one or more fetches failed", 2)
				}
			}
			return nil
		},
	}
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "list usernames with a stored record",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			names, err := e.tracker.Usernames(c.Context)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(c.App.Writer, name)
			}
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "print the stored record for a user",
		ArgsUsage: "<username>",
		Action: func(c *cli.Context) error {
			username, err := requireArg(c, 0, "username")
			if err != nil {
				return err
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			record, err := e.tracker.Record(c.Context, username)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, record)
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "summarise gains over a range",
		ArgsUsage: "<username>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "range",
				Usage: "today, week, month, year or all",
				Value: string(domain.RangeAll),
			},
		},
		Action: func(c *cli.Context) error {
			username, err := requireArg(c, 0, "username")
			if err != nil {
				return err
			}
			rng, err := domain.ParseRange(c.String("range"))
			if err != nil {
				return err
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			summary, err := e.tracker.Summary(c.Context, username, rng)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, summary)
		},
	}
}

func chartCommand() *cli.Command {
	return &cli.Command{
		Name:      "chart",
		Usage:     "render daily gains as a PNG bar chart",
		ArgsUsage: "<username>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "range", Value: string(domain.RangeMonth)},
			&cli.StringFlag{Name: "out", Usage: "output file; stdout when empty"},
		},
		Action: func(c *cli.Context) error {
			username, err := requireArg(c, 0, "username")
			if err != nil {
				return err
			}
			rng, err := domain.ParseRange(c.String("range"))
			if err != nil {
				return err
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			record, err := e.tracker.Record(c.Context, username)
			if err != nil {
				return err
			}
			entries := domain.FilterHistory(record.History, rng, e.calendar.Today())

			var out io.Writer = c.App.Writer
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return chart.RenderDailyGains(out, fmt.Sprintf("%s (%s)", username, rng), entries)
		},
	}
}

func enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "submit a profile JSON document to the snapshot topic",
		ArgsUsage: "<username> <file>",
		Action: func(c *cli.Context) error {
			username, err := requireArg(c, 0, "username")
			if err != nil {
				return err
			}
			path, err := requireArg(c, 1, "file")
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(c.String("config"))
			if err != nil {
				return err
			}
			if !cfg.EventsEnabled() {
				return errors.New("KAFKA_BROKERS must be set to enqueue snapshots")
			}
			body, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			// Reject bodies the consumer would drop anyway.
			if _, err := domain.ParseSnapshot(body); err != nil {
				return err
			}

			producer := events.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()
			if err := events.NewSnapshotPublisher(producer, cfg.SnapshotTopic).Submit(c.Context, username, body); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "queued snapshot for %s on %s\n", username, cfg.SnapshotTopic)
			return nil
		},
	}
}

func requireArg(c *cli.Context, index int, name string) (string, error) {
	value := c.Args().Get(index)
	if value == "" {
		return "", cli.Exit(fmt.Sprintf("missing <%s> argument", name), 1)
	}
	return value, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
