// Package generator produces publishable quotes: it asks the text model for a
// candidate, falls back to hand-written quotes when the model fails, enforces
// the length limit and retries duplicates a bounded number of times.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/cpunion/quote-bot/pkg/textutil"
	"github.com/cpunion/quote-bot/pkg/types"
)

// TextGenerator produces raw text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DuplicateChecker answers whether a text was posted recently.
type DuplicateChecker interface {
	IsDuplicate(text string) bool
}

// Config configures a Generator.
type Config struct {
	LLM            TextGenerator
	Prompt         string
	FallbackQuotes []string
	MaxAttempts    int           // total generation attempts per quote
	MaxLength      int           // grapheme limit
	Timeout        time.Duration // per generation call; 0 disables
	Logger         logrus.FieldLogger
	Rand           *rand.Rand
}

// Generator produces one quote per call to Next.
type Generator struct {
	llm         TextGenerator
	prompt      string
	fallbacks   []string
	maxAttempts int
	maxLength   int
	timeout     time.Duration
	logger      logrus.FieldLogger

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates a generator.
func New(cfg Config) (*Generator, error) {
	if len(cfg.FallbackQuotes) == 0 {
		return nil, errors.New("at least one fallback quote is required")
	}
	if cfg.LLM != nil && strings.TrimSpace(cfg.Prompt) == "" {
		return nil, errors.New("prompt is empty")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = types.MaxPostLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	fallbacks := make([]string, len(cfg.FallbackQuotes))
	copy(fallbacks, cfg.FallbackQuotes)

	return &Generator{
		llm:         cfg.LLM,
		prompt:      cfg.Prompt,
		fallbacks:   fallbacks,
		maxAttempts: maxAttempts,
		maxLength:   maxLength,
		timeout:     cfg.Timeout,
		logger:      logger,
		rand:        r,
	}, nil
}

// Next returns a quote that is not a duplicate under dups, if one can be found
// within the attempt ceiling. It never returns an empty quote and never blocks
// beyond MaxAttempts generation calls.
func (g *Generator) Next(ctx context.Context, dups DuplicateChecker) types.Quote {
	isDup := func(text string) bool {
		return dups != nil && dups.IsDuplicate(text)
	}

	duplicates := 0
	policy := retrypolicy.NewBuilder[types.Quote]().
		HandleIf(func(q types.Quote, err error) bool {
			return err == nil && isDup(q.Text)
		}).
		WithMaxAttempts(g.maxAttempts).
		OnRetry(func(e failsafe.ExecutionEvent[types.Quote]) {
			duplicates++
			g.logger.WithFields(logrus.Fields{
				"attempt": e.Attempts(),
				"source":  e.LastResult().Source,
			}).Info("Generated duplicate quote, trying again")
		}).
		Build()

	var last types.Quote
	_, err := failsafe.With[types.Quote](policy).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[types.Quote]) (types.Quote, error) {
			last = g.attempt(ctx, exec.Attempts(), isDup)
			return last, nil
		})
	q := last
	if err != nil || q.Text == "" || isDup(q.Text) {
		if isDup(last.Text) {
			duplicates++
		}
		g.logger.WithFields(logrus.Fields{
			"attempts": last.Attempts,
		}).Warn("Could not generate unique quote after max attempts, using fallback")
		q = g.fallbackAvoiding(isDup)
		q.Attempts = last.Attempts
	}
	q.Duplicates = duplicates
	return q
}

// attempt makes one generation call. Any model failure yields a fallback quote,
// preferring one that is not a duplicate.
func (g *Generator) attempt(ctx context.Context, n int, isDup func(string) bool) types.Quote {
	if g.llm == nil {
		q := g.fallbackAvoiding(isDup)
		q.Attempts = n
		return q
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.llm.Generate(callCtx, g.prompt)
	if err == nil {
		raw = Clean(raw)
		if raw == "" {
			err = errors.New("model returned an empty quote")
		}
	}
	if err != nil {
		g.logger.WithError(err).WithField("attempt", n).Error("Error generating quote; using fallback")
		q := g.fallbackAvoiding(isDup)
		q.Attempts = n
		return q
	}

	q := g.fit(types.Quote{Text: raw, Source: types.SourceGenerated})
	q.Attempts = n
	return q
}

// Fallback returns a random fallback quote within the length limit.
func (g *Generator) Fallback() types.Quote {
	return g.fallbackAvoiding(nil)
}

// fallbackAvoiding picks uniformly among fallback quotes that are not
// duplicates, or among all of them when every one is a duplicate.
func (g *Generator) fallbackAvoiding(isDup func(string) bool) types.Quote {
	candidates := g.fallbacks
	if isDup != nil {
		fresh := make([]string, 0, len(g.fallbacks))
		for _, f := range g.fallbacks {
			if !isDup(f) {
				fresh = append(fresh, f)
			}
		}
		if len(fresh) > 0 {
			candidates = fresh
		}
	}

	g.randMu.Lock()
	text := candidates[g.rand.Intn(len(candidates))]
	g.randMu.Unlock()

	return g.fit(types.Quote{Text: text, Source: types.SourceFallback})
}

// fit truncates the quote to the length limit.
func (g *Generator) fit(q types.Quote) types.Quote {
	if textutil.Length(q.Text) > g.maxLength {
		q.Text = textutil.Truncate(q.Text, g.maxLength)
		q.Truncated = true
	}
	return q
}

// Clean trims whitespace and one pair of surrounding double quotation marks.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	pairs := [][2]string{{`"`, `"`}, {"“", "”"}}
	for _, p := range pairs {
		if len(s) >= len(p[0])+len(p[1]) && strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			s = strings.TrimSpace(s[len(p[0]) : len(s)-len(p[1])])
			break
		}
	}
	return s
}

// String describes the generator for logs.
func (g *Generator) String() string {
	return fmt.Sprintf("generator(max_attempts=%d, max_length=%d, fallbacks=%d)", g.maxAttempts, g.maxLength, len(g.fallbacks))
}
