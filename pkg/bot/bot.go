// Package bot runs one post cycle: pick a quote, publish it everywhere, then
// remember it.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cpunion/quote-bot/pkg/eventlog"
	"github.com/cpunion/quote-bot/pkg/generator"
	"github.com/cpunion/quote-bot/pkg/metrics"
	"github.com/cpunion/quote-bot/pkg/publisher"
	"github.com/cpunion/quote-bot/pkg/types"
)

// ErrNothingPublished is returned when every publisher failed.
var ErrNothingPublished = errors.New("quote was not published to any platform")

// QuoteSource produces the cycle's quote.
type QuoteSource interface {
	Next(ctx context.Context, dups generator.DuplicateChecker) types.Quote
}

// History is the recent-post cache.
type History interface {
	generator.DuplicateChecker
	Record(text string) error
	Len() int
}

// Config wires a Bot.
type Config struct {
	Generator  QuoteSource
	History    History
	Publishers []publisher.Publisher
	Logger     logrus.FieldLogger
	Metrics    *metrics.Collector // optional
	Events     eventlog.Logger    // optional
}

// Bot holds the per-process state for posting cycles.
type Bot struct {
	gen        QuoteSource
	history    History
	publishers []publisher.Publisher
	logger     logrus.FieldLogger
	metrics    *metrics.Collector
	events     eventlog.Logger

	mu   sync.RWMutex
	last *types.CycleReport
}

// New creates a Bot.
func New(cfg Config) (*Bot, error) {
	if cfg.Generator == nil {
		return nil, errors.New("bot: generator is required")
	}
	if cfg.History == nil {
		return nil, errors.New("bot: history is required")
	}
	if len(cfg.Publishers) == 0 {
		return nil, errors.New("bot: at least one publisher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Bot{
		gen:        cfg.Generator,
		history:    cfg.History,
		publishers: cfg.Publishers,
		logger:     logger,
		metrics:    cfg.Metrics,
		events:     cfg.Events,
	}
	b.metrics.SetHistorySize(b.history.Len())
	return b, nil
}

// RunCycle generates one quote and publishes it to every platform. The quote
// is recorded in history only when at least one platform accepted it. The
// report is returned even when nothing was published.
func (b *Bot) RunCycle(ctx context.Context) (*types.CycleReport, error) {
	report := &types.CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := b.logger.WithField("cycle_id", report.CycleID)

	report.Quote = b.gen.Next(ctx, b.history)
	log.WithFields(logrus.Fields{
		"source":     report.Quote.Source,
		"attempts":   report.Quote.Attempts,
		"duplicates": report.Quote.Duplicates,
	}).Infof("Selected quote: %s", report.Quote.Text)

	for _, p := range b.publishers {
		report.Results = append(report.Results, b.publish(ctx, log, p, report.Quote.Text))
	}

	if report.Published() {
		if err := b.history.Record(report.Quote.Text); err != nil {
			log.WithError(err).Warn("Failed to save recent posts")
		}
		report.Recorded = true
	}
	report.Duration = time.Since(report.StartedAt)

	b.metrics.ObserveCycle(report)
	b.metrics.SetHistorySize(b.history.Len())
	if b.events != nil {
		if err := b.events.LogEvent(eventlog.FromReport(report)); err != nil {
			log.WithError(err).Warn("Failed to write cycle event")
		}
	}

	b.mu.Lock()
	b.last = report
	b.mu.Unlock()

	if !report.Published() {
		return report, ErrNothingPublished
	}
	return report, nil
}

func (b *Bot) publish(ctx context.Context, log logrus.FieldLogger, p publisher.Publisher, text string) types.PublishResult {
	res := types.PublishResult{Platform: p.Platform()}
	log = log.WithField("platform", res.Platform)

	ref, err := p.Publish(ctx, text)
	if err != nil {
		res.Error = err.Error()
		var apiErr *publisher.APIError
		if errors.As(err, &apiErr) {
			res.StatusCode = apiErr.StatusCode
			log = log.WithField("status", apiErr.StatusCode)
		}
		log.WithError(err).Error("Publish failed")
		return res
	}

	res.OK = true
	res.PostID = ref.ID
	res.URL = ref.URL
	log.WithFields(logrus.Fields{"post_id": ref.ID, "url": ref.URL}).Info("Published quote")
	return res
}

// LastReport returns the most recent cycle report, or nil before the first.
func (b *Bot) LastReport() *types.CycleReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// HistorySize returns the number of cached recent posts.
func (b *Bot) HistorySize() int {
	return b.history.Len()
}
