// Command bot posts a persona quote to Bluesky and Twitter/X on a fixed
// interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cpunion/quote-bot/pkg/bot"
	"github.com/cpunion/quote-bot/pkg/config"
	"github.com/cpunion/quote-bot/pkg/eventlog"
	"github.com/cpunion/quote-bot/pkg/generator"
	"github.com/cpunion/quote-bot/pkg/history"
	"github.com/cpunion/quote-bot/pkg/llm"
	"github.com/cpunion/quote-bot/pkg/logging"
	"github.com/cpunion/quote-bot/pkg/metrics"
	"github.com/cpunion/quote-bot/pkg/ops"
	"github.com/cpunion/quote-bot/pkg/persona"
	"github.com/cpunion/quote-bot/pkg/publisher"
	"github.com/cpunion/quote-bot/pkg/schedule"
)

type options struct {
	envFile     string
	interval    time.Duration
	once        bool
	postOnStart bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "bot",
		Short:         "Post a generated quote to Bluesky and Twitter/X on a schedule",
		Version:       versioninfo.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "time between posts (overrides POST_INTERVAL)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&opts.postOnStart, "post-on-start", true, "post immediately at startup (overrides POST_ON_START)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts options) error {
	// The configured logger needs the environment, so .env problems go to a
	// bootstrap logger.
	config.LoadEnv(logrus.New(), opts.envFile)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.interval > 0 {
		cfg.Interval = opts.interval
	}
	if cmd.Flags().Changed("post-on-start") {
		cfg.PostOnStart = opts.postOnStart
	}

	logger, closer, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		logger.WithError(err).Warn("Logging to stderr only")
	}
	defer closer.Close()

	logger.WithFields(logrus.Fields{
		"version":  versioninfo.Short(),
		"model":    cfg.Gemini.Model,
		"interval": cfg.Interval,
		"twitter":  cfg.Twitter.Status(),
	}).Info("Starting quote bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return err
	}
	prompt, err := p.RenderPrompt(cfg.MaxPostLength)
	if err != nil {
		return err
	}

	gen, err := buildGenerator(ctx, cfg, p, prompt, logger)
	if err != nil {
		return err
	}

	store := history.Open(cfg.CachePath, cfg.CacheSize, logger)
	logger.WithFields(logrus.Fields{"path": store.Path(), "entries": store.Len()}).Info("Loaded recent posts")

	bsky, tw := publisher.FromConfig(cfg, logger)
	if bsky == nil {
		return errors.New("bluesky credentials are required")
	}
	loginCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	if err := bsky.Login(loginCtx); err != nil {
		logger.WithError(err).Error("Bluesky login failed; will retry on the next post")
	}
	cancel()

	publishers := []publisher.Publisher{bsky}
	switch {
	case tw != nil:
		publishers = append(publishers, tw)
		logger.Info("Twitter client initialized")
	case cfg.Twitter.Status() == config.TwitterPartial:
		logger.WithField("missing", cfg.Twitter.MissingVars()).Warn("Twitter partially configured; tweeting disabled")
	default:
		logger.Info("Twitter not configured; posting to Bluesky only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg, versioninfo.Short())

	var events eventlog.Logger
	if cfg.EventLog != "" {
		jl, err := eventlog.Open(cfg.EventLog)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer jl.Close()
		events = jl
	}

	b, err := bot.New(bot.Config{
		Generator:  gen,
		History:    store,
		Publishers: publishers,
		Logger:     logger,
		Metrics:    collector,
		Events:     events,
	})
	if err != nil {
		return err
	}

	if opts.once {
		_, err := b.RunCycle(ctx)
		return err
	}

	sched, err := schedule.New(schedule.Config{
		Interval:   cfg.Interval,
		RunOnStart: cfg.PostOnStart,
		Logger:     logger,
	}, func(ctx context.Context) error {
		_, err := b.RunCycle(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if cfg.OpsAddr != "" {
		health := ops.NewHealthChecker("quote-bot", versioninfo.Short())
		health.AddCheck("scheduler", ops.SchedulerCheck(time.Now(), sched.Interval(), cfg.RequestTimeout*time.Duration(cfg.MaxAttempts+2), sched.LastRun))
		health.AddCheck("history", ops.HistoryCheck(b.HistorySize, store.Capacity()))
		router := ops.NewRouter(health, reg, logger)
		go func() {
			if err := ops.Serve(ctx, cfg.OpsAddr, router, logger); err != nil {
				logger.WithError(err).Error("Ops server failed")
			}
		}()
	}

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Bot stopped by user")
	return nil
}

func buildGenerator(ctx context.Context, cfg *config.Config, p *persona.Persona, prompt string, logger logrus.FieldLogger) (*generator.Generator, error) {
	provider, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.Model,
	})
	if err != nil {
		return nil, err
	}
	logger.WithField("model", provider.Model()).Info("Gemini client initialized")

	return generator.New(generator.Config{
		LLM:            provider,
		Prompt:         prompt,
		FallbackQuotes: p.FallbackQuotes,
		MaxAttempts:    cfg.MaxAttempts,
		MaxLength:      cfg.MaxPostLength,
		Timeout:        cfg.RequestTimeout,
		Logger:         logger,
	})
}
