package generator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	ailibmodel "github.com/cpunion/ailib/adk/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cpunion/quote-bot/pkg/history"
	"github.com/cpunion/quote-bot/pkg/llm"
	"github.com/cpunion/quote-bot/pkg/logging"
	"github.com/cpunion/quote-bot/pkg/textutil"
	"github.com/cpunion/quote-bot/pkg/types"
)

// scriptedLLM returns the next scripted reply on each call. Once the script is
// exhausted it repeats the last entry.
type scriptedLLM struct {
	replies []reply
	calls   int
	prompts []string
}

type reply struct {
	text string
	err  error
	wait bool // block until the context is done
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	r := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		r = s.replies[s.calls]
	}
	s.calls++
	if r.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

type dupSet map[string]bool

func (d dupSet) IsDuplicate(text string) bool { return d[text] }

var fallbacks = []string{"fallback one", "fallback two", "fallback three"}

func newGenerator(t *testing.T, model TextGenerator, opts ...func(*Config)) *Generator {
	t.Helper()
	cfg := Config{
		LLM:            model,
		Prompt:         "be Larry",
		FallbackQuotes: fallbacks,
		MaxAttempts:    10,
		MaxLength:      types.MaxPostLength,
		Logger:         logging.Discard(),
		Rand:           rand.New(rand.NewSource(1)),
	}
	for _, o := range opts {
		o(&cfg)
	}
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func TestNext_GeneratedQuote(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{text: "  \"Sporks, Jeff. Sporks!\"\n"}}}
	g := newGenerator(t, m)

	q := g.Next(context.Background(), nil)
	assert.Equal(t, "Sporks, Jeff. Sporks!", q.Text)
	assert.Equal(t, types.SourceGenerated, q.Source)
	assert.Equal(t, 1, q.Attempts)
	assert.Equal(t, 0, q.Duplicates)
	assert.Equal(t, []string{"be Larry"}, m.prompts)
}

func TestNext_FallbackOnModelError(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{err: errors.New("503 unavailable")}}}
	g := newGenerator(t, m)

	for i := 0; i < 20; i++ {
		q := g.Next(context.Background(), nil)
		assert.Equal(t, types.SourceFallback, q.Source)
		assert.Contains(t, fallbacks, q.Text)
		assert.NotEmpty(t, q.Text)
	}
}

func TestNext_FallbackOnEmptyReply(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{text: `""`}}}
	g := newGenerator(t, m)

	q := g.Next(context.Background(), nil)
	assert.Equal(t, types.SourceFallback, q.Source)
	assert.Contains(t, fallbacks, q.Text)
}

func TestNext_RetriesDuplicates(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{text: "A"}, {text: "a!"}, {text: "D"}}}
	g := newGenerator(t, m)
	store := history.Open("", 3, logging.Discard())
	for _, p := range []string{"A", "B", "C"} {
		require.NoError(t, store.Record(p))
	}

	q := g.Next(context.Background(), store)
	assert.Equal(t, "D", q.Text)
	assert.Equal(t, types.SourceGenerated, q.Source)
	assert.Equal(t, 3, q.Attempts)
	assert.Equal(t, 2, q.Duplicates)
	assert.Equal(t, 3, m.calls)
}

func TestNext_CeilingFallsBackToFreshQuote(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{text: "same old thing"}}}
	g := newGenerator(t, m, func(c *Config) { c.MaxAttempts = 4 })
	dups := dupSet{"same old thing": true, "fallback one": true, "fallback two": true}

	q := g.Next(context.Background(), dups)
	assert.Equal(t, 4, m.calls, "generation stops at the attempt ceiling")
	assert.Equal(t, "fallback three", q.Text)
	assert.Equal(t, types.SourceFallback, q.Source)
	assert.Equal(t, 4, q.Duplicates)
}

func TestNext_CeilingAcceptsDuplicateWhenNothingFresh(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{text: "same old thing"}}}
	g := newGenerator(t, m, func(c *Config) { c.MaxAttempts = 2 })
	dups := dupSet{"same old thing": true}
	for _, f := range fallbacks {
		dups[f] = true
	}

	q := g.Next(context.Background(), dups)
	assert.Equal(t, 2, m.calls)
	assert.Contains(t, fallbacks, q.Text)
}

func TestNext_TimeoutEveryAttemptUsesFallback(t *testing.T) {
	m := &scriptedLLM{replies: []reply{{wait: true}}}
	g := newGenerator(t, m, func(c *Config) {
		c.Timeout = 10 * time.Millisecond
		c.MaxAttempts = 3
	})
	dups := dupSet{"fallback one": true}

	start := time.Now()
	q := g.Next(context.Background(), dups)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, types.SourceFallback, q.Source)
	assert.Contains(t, []string{"fallback two", "fallback three"}, q.Text)
	assert.Equal(t, 1, m.calls, "a fresh fallback ends the cycle")
}

func TestNext_TruncatesOverLength(t *testing.T) {
	long := strings.Repeat("Why do people say you'll love this show like it's a threat? ", 10)
	m := &scriptedLLM{replies: []reply{{text: long}}}
	g := newGenerator(t, m)

	q := g.Next(context.Background(), nil)
	assert.True(t, q.Truncated)
	assert.NotEqual(t, long, q.Text)
	assert.LessOrEqual(t, textutil.Length(q.Text), types.MaxPostLength)
	assert.True(t, strings.HasSuffix(q.Text, textutil.Ellipsis))
}

func TestNext_LongFallbackIsTruncated(t *testing.T) {
	long := strings.Repeat("x", 400)
	g := newGenerator(t, nil, func(c *Config) { c.FallbackQuotes = []string{long} })

	q := g.Next(context.Background(), nil)
	assert.Equal(t, types.SourceFallback, q.Source)
	assert.LessOrEqual(t, textutil.Length(q.Text), types.MaxPostLength)
}

func TestNext_CancelledContextStillReturnsQuote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &scriptedLLM{replies: []reply{{wait: true}}}
	g := newGenerator(t, m)

	q := g.Next(ctx, nil)
	assert.NotEmpty(t, q.Text)
	assert.Equal(t, types.SourceFallback, q.Source)
}

func TestNext_WithGeminiProviderMock(t *testing.T) {
	mock := ailibmodel.NewMockLLM(&adkmodel.LLMResponse{
		Content: &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: "“The minute you say take your time, you've started a countdown.”"}},
		},
	})
	g := newGenerator(t, llm.NewProvider(mock, llm.GeminiConfig{}))

	q := g.Next(context.Background(), nil)
	assert.Equal(t, "The minute you say take your time, you've started a countdown.", q.Text)
	assert.Equal(t, types.SourceGenerated, q.Source)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Prompt: "x"})
	assert.Error(t, err)

	_, err = New(Config{LLM: &scriptedLLM{}, FallbackQuotes: fallbacks})
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "hi", Clean(`"hi"`))
	assert.Equal(t, "hi", Clean("“hi”"))
	assert.Equal(t, `He said "no" and "yes`, Clean(`He said "no" and "yes`))
	assert.Equal(t, "'quoted' word", Clean("  'quoted' word  "))
	assert.Equal(t, `"`, Clean(`"`))
}
