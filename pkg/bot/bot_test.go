package bot

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/quote-bot/pkg/eventlog"
	"github.com/cpunion/quote-bot/pkg/generator"
	"github.com/cpunion/quote-bot/pkg/history"
	"github.com/cpunion/quote-bot/pkg/logging"
	"github.com/cpunion/quote-bot/pkg/metrics"
	"github.com/cpunion/quote-bot/pkg/publisher"
	"github.com/cpunion/quote-bot/pkg/types"
)

type replies []string

// Generate returns the replies in order, then repeats the last one.
func (r *replies) Generate(ctx context.Context, prompt string) (string, error) {
	out := (*r)[0]
	if len(*r) > 1 {
		*r = (*r)[1:]
	}
	return out, nil
}

type failingLLM struct{}

func (failingLLM) Generate(context.Context, string) (string, error) {
	return "", errors.New("quota exceeded")
}

type fakePublisher struct {
	platform types.Platform
	err      error
	posts    []string
}

func (f *fakePublisher) Platform() types.Platform { return f.platform }

func (f *fakePublisher) Publish(ctx context.Context, text string) (*types.PostRef, error) {
	f.posts = append(f.posts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &types.PostRef{ID: string(f.platform) + "-1", URL: "https://example.com/" + string(f.platform)}, nil
}

func (f *fakePublisher) Verify(context.Context) error { return f.err }

type memEvents struct{ events []eventlog.Event }

func (m *memEvents) LogEvent(ev eventlog.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) Close() error { return nil }

func newGen(t *testing.T, llm generator.TextGenerator) *generator.Generator {
	t.Helper()
	g, err := generator.New(generator.Config{
		LLM:            llm,
		Prompt:         "be Larry",
		FallbackQuotes: []string{"fallback one", "fallback two"},
		MaxAttempts:    10,
		Logger:         logging.Discard(),
		Rand:           rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	return g
}

func TestRunCycle_DuplicateRejectedAndHistoryRotates(t *testing.T) {
	store := history.Open(filepath.Join(t.TempDir(), "recent_posts.json"), 3, logging.Discard())
	for _, p := range []string{"A", "B", "C"} {
		require.NoError(t, store.Record(p))
	}
	llm := &replies{"A", "D"}
	bsky := &fakePublisher{platform: types.PlatformBluesky}
	b, err := New(Config{
		Generator:  newGen(t, llm),
		History:    store,
		Publishers: []publisher.Publisher{bsky},
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)

	report, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "D", report.Quote.Text)
	assert.Equal(t, 1, report.Quote.Duplicates)
	assert.True(t, report.Recorded)
	assert.Equal(t, []string{"D"}, bsky.posts)
	assert.Equal(t, []string{"B", "C", "D"}, store.Posts())
	assert.Equal(t, 3, b.HistorySize())
}

func TestRunCycle_PartialFailureStillRecords(t *testing.T) {
	store := history.Open("", 10, logging.Discard())
	bsky := &fakePublisher{platform: types.PlatformBluesky}
	tw := &fakePublisher{platform: types.PlatformTwitter, err: &publisher.APIError{
		Platform: types.PlatformTwitter, StatusCode: 429, Detail: "rate limit exceeded",
	}}
	events := &memEvents{}
	reg := prometheus.NewRegistry()
	b, err := New(Config{
		Generator:  newGen(t, &replies{"Sporks."}),
		History:    store,
		Publishers: []publisher.Publisher{bsky, tw},
		Logger:     logging.Discard(),
		Metrics:    metrics.New(reg, "test"),
		Events:     events,
	})
	require.NoError(t, err)

	report, err := b.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].OK)
	assert.Equal(t, "bluesky-1", report.Results[0].PostID)
	assert.False(t, report.Results[1].OK)
	assert.Equal(t, 429, report.Results[1].StatusCode)
	assert.Contains(t, report.Results[1].Error, "rate limit")
	assert.Equal(t, []string{"Sporks."}, tw.posts, "twitter attempted even though it fails")
	assert.True(t, store.IsDuplicate("Sporks."))

	require.Len(t, events.events, 1)
	assert.Equal(t, report.CycleID, events.events[0].CycleID)
	assert.Same(t, report, b.LastReport())

	// the next cycle proceeds normally
	_, err = b.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, bsky.posts, 2)
}

func TestRunCycle_AllFailedDoesNotRecord(t *testing.T) {
	store := history.Open("", 10, logging.Discard())
	b, err := New(Config{
		Generator: newGen(t, failingLLM{}),
		History:   store,
		Publishers: []publisher.Publisher{
			&fakePublisher{platform: types.PlatformBluesky, err: errors.New("connection refused")},
			&fakePublisher{platform: types.PlatformTwitter, err: errors.New("connection refused")},
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	report, err := b.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrNothingPublished)
	require.NotNil(t, report)
	assert.Equal(t, types.SourceFallback, report.Quote.Source)
	assert.NotEmpty(t, report.Quote.Text)
	assert.False(t, report.Recorded)
	assert.Equal(t, 0, store.Len())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Generator: newGen(t, nil), History: history.Open("", 1, logging.Discard())})
	assert.Error(t, err)
}
