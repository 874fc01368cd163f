// Command verify checks configuration, the persona and every external
// credential without posting anything.
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
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cpunion/quote-bot/pkg/config"
	"github.com/cpunion/quote-bot/pkg/llm"
	"github.com/cpunion/quote-bot/pkg/logging"
	"github.com/cpunion/quote-bot/pkg/persona"
	"github.com/cpunion/quote-bot/pkg/publisher"
	"github.com/cpunion/quote-bot/pkg/verify"
)

var errChecksFailed = errors.New("verification failed")

func main() {
	var (
		envFile  string
		skipLive bool
	)
	cmd := &cobra.Command{
		Use:           "verify",
		Short:         "Check configuration and credentials without posting",
		Version:       versioninfo.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, envFile, skipLive)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().BoolVar(&skipLive, "skip-live", false, "skip checks that call external APIs")

	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, envFile string, skipLive bool) error {
	config.LoadEnv(logrus.New(), envFile)
	cfg := config.FromEnv()
	// Missing variables are reported by the env check rather than aborting.
	cfg.Normalize()

	logger, closer, err := logging.NewLogger(logging.Options{Level: "warn", Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	in := verify.Input{
		Config:    cfg,
		MaxLength: cfg.MaxPostLength,
		SkipLive:  skipLive,
	}
	in.Persona, in.PersonaErr = persona.Load(cfg.PersonaFile)

	if cfg.Gemini.APIKey != "" && !skipLive {
		provider, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model})
		if err != nil {
			in.LLMErr = err
		} else {
			in.LLM = provider
		}
	}

	bsky, tw := publisher.FromConfig(cfg, logger)
	if bsky != nil {
		in.Bluesky = bsky
	}
	if tw != nil {
		in.Twitter = tw
	}

	report := verify.Run(ctx, in)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "quote-bot %s\n\n", versioninfo.Short())
	if err := report.Write(out); err != nil {
		return err
	}
	if report.Failed() {
		return errChecksFailed
	}
	return nil
}
