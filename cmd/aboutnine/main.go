package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/aboutnine/internal/api"
	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
	"github.com/MikeSquared-Agency/aboutnine/internal/config"
	"github.com/MikeSquared-Agency/aboutnine/internal/hermes"
	"github.com/MikeSquared-Agency/aboutnine/internal/observe"
	"github.com/MikeSquared-Agency/aboutnine/internal/processor"
	"github.com/MikeSquared-Agency/aboutnine/internal/record"
	"github.com/MikeSquared-Agency/aboutnine/internal/session"
	sig "github.com/MikeSquared-Agency/aboutnine/internal/signal"
	"github.com/MikeSquared-Agency/aboutnine/internal/store"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "score") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "score":
		err = runScore(args)
	default:
		err = runServe()
	}
	if err != nil {
		slog.Error("aboutnine failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// runScore scores a JSONL transcript file and prints the record.
func runScore(args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	file := fs.String("file", "", "JSONL transcript, one entry per line")
	sortTS := fs.Bool("sort", false, "score in timestamp order instead of file order")
	noData := fs.String("no-data", chemistry.NoDataNeutral.String(), "latency score without speaker switches: neutral or zero")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("score: -file is required")
	}
	setupLogging("warn", os.Stderr)

	policy, err := chemistry.ParseNoDataPolicy(*noData)
	if err != nil {
		return err
	}
	res, err := transcript.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	if res.Skipped > 0 {
		slog.Warn("skipped malformed lines", "file", *file, "skipped", res.Skipped)
	}

	scorer := chemistry.NewScorer(chemistry.WithNoDataPolicy(policy), chemistry.WithTimestampOrder(*sortTS))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(record.New("", scorer.Score(res.Entries)))
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, os.Stdout)
	slog.Info("aboutnine starting", "port", cfg.Port, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	mp, shutdownMetrics, err := observe.InitProvider(ctx, "aboutnine", version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("create instruments: %w", err)
	}

	// Storage
	db, backend, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("store ready", "backend", backend)

	// NATS/Hermes (optional; the HTTP and websocket surfaces work without it)
	var (
		bus       sig.Bus
		publisher processor.Publisher
		natsState api.Connectivity
		hermesCl  *hermes.Client
	)
	if cfg.NatsURL != "" {
		hermesCl, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer hermesCl.Close()
		bus, publisher, natsState = hermesCl, hermesCl, hermesCl
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, event ingestion disabled")
	}

	scorer := chemistry.NewScorer(cfg.ScorerOptions()...)
	proc := processor.New(session.NewManager(scorer), db, publisher, bus, metrics, slog.Default())
	defer proc.Close()

	if hermesCl != nil {
		subs := []struct {
			subject string
			handler func(string, []byte)
		}{
			{hermes.SubjectSessionStarted, proc.HandleSessionStarted},
			{hermes.SubjectTranscriptChunk, proc.HandleTranscriptChunk},
			{hermes.SubjectSessionEnded, proc.HandleSessionEnded},
		}
		for _, s := range subs {
			if _, err := hermesCl.Subscribe(s.subject, s.handler); err != nil {
				return err
			}
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Processor: proc,
		Scorer:    scorer,
		Hub:       sig.NewHub(),
		Metrics:   metrics,
		Logger:    slog.Default(),
		NATS:      natsState,
	})
	httpSrv := &http.Server{
		Addr:              srv.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	// Announce registration
	if hermesCl != nil {
		if err := hermesCl.Publish(hermes.SubjectRegistered, hermes.RegisteredEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Port:      cfg.Port,
			Store:     backend,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("aboutnine ready", "port", cfg.Port)
	err = g.Wait()
	slog.Info("aboutnine stopped")
	return err
}

// openStore prefers Postgres when DATABASE_URL is set and falls back to a
// local SQLite file.
func openStore(ctx context.Context, cfg config.Config) (store.Results, string, error) {
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("connect to database: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, "", fmt.Errorf("migrate database: %w", err)
		}
		return pg, "postgres", nil
	}
	db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
	}
	return db, "sqlite", nil
}

// setupLogging installs a JSON handler. The score command logs to stderr so
// stdout carries only the record.
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
