package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/tapewatch/internal/bus"
	"github.com/sawpanic/tapewatch/internal/config"
	"github.com/sawpanic/tapewatch/internal/execution"
	"github.com/sawpanic/tapewatch/internal/feed"
	"github.com/sawpanic/tapewatch/internal/features"
	"github.com/sawpanic/tapewatch/internal/journal"
	"github.com/sawpanic/tapewatch/internal/monitor"
	"github.com/sawpanic/tapewatch/internal/notify"
	"github.com/sawpanic/tapewatch/internal/pipeline"
	"github.com/sawpanic/tapewatch/internal/scarcity"
	"github.com/sawpanic/tapewatch/internal/telemetry"
	"github.com/sawpanic/tapewatch/internal/validator"
)

var (
	configPath   string
	logLevelFlag string
	symbolsFlag  []string
)

func main() {
	root := &cobra.Command{
		Use:   "tapewatch",
		Short: "Order-flow signal gating from live depth and tape",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override configured log level")
	root.PersistentFlags().StringSliceVar(&symbolsFlag, "symbols", nil, "override configured symbol list")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline against the configured feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if len(symbolsFlag) > 0 {
		cfg.Pipeline.Symbols = symbolsFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	metrics := telemetry.NewMetrics()

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var store scarcity.Store
	var publisher *bus.Publisher
	if redisClient != nil {
		store = scarcity.NewRedisStore(redisClient)
		publisher = bus.NewPublisher(redisClient, 500*time.Millisecond)
	}

	var journalQueue *journal.Queue
	if cfg.Journal.DSN != "" {
		repo, err := journal.NewPostgresRepo(cfg.Journal.DSN, time.Duration(cfg.Journal.InsertTimeoutMs)*time.Millisecond)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		journalQueue = journal.NewQueue(repo, cfg.Journal.QueueSize,
			time.Duration(cfg.Journal.InsertTimeoutMs)*time.Millisecond,
			metrics.JournalDrops.Inc)
	}

	var notifier notify.Notifier
	if cfg.Notify.URL != "" {
		notifier = notify.NewWebhook(cfg.Notify)
	}

	var exec monitor.CancelClient
	if cfg.Execution.BaseURL != "" {
		exec = execution.NewHTTPClient(cfg.Execution)
	}

	admission := scarcity.New(cfg.Scarcity, store)
	defer admission.Close()

	engine := features.NewEngine(cfg.Features)
	pipe := pipeline.New(cfg.Pipeline, pipeline.Deps{
		BookConfig: cfg.Book,
		Engine:     engine,
		Validator:  validator.New(cfg.Validator, engine),
		Scarcity:   admission,
		MonitorCfg: cfg.Monitor,
		Exec:       exec,
		Journal:    journalQueue,
		Publisher:  publisher,
		Notifier:   notifier,
		Metrics:    metrics,
	})

	feedClient := feed.NewClient(cfg.Feed, cfg.Pipeline.Symbols)

	server := telemetry.NewServer(cfg.Telemetry.Addr, metrics, func() map[string]any {
		return map[string]any{
			"tracked_signals": pipe.Monitor().TrackedCount(),
			"journal_drops":   journalDrops(journalQueue),
		}
	})

	log.Info().Strs("symbols", cfg.Pipeline.Symbols).Str("feed", cfg.Feed.URL).Msg("tapewatch starting")

	var wg sync.WaitGroup
	start := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	start(func() { pipe.Run(ctx) })
	start(func() { pipe.Consume(ctx, feedClient) })
	start(func() { feedClient.Run(ctx) })
	if journalQueue != nil {
		start(func() { journalQueue.Run(ctx) })
	}
	start(func() {
		if err := server.Run(ctx); err != nil {
			log.Error().Err(err).Msg("telemetry server failed")
		}
	})

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")
	wg.Wait()
	return nil
}

func journalDrops(q *journal.Queue) int64 {
	if q == nil {
		return 0
	}
	return q.Dropped()
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}
