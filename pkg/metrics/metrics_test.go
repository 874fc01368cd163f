package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/quote-bot/pkg/types"
)

func TestObserveCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, "test")

	c.ObserveCycle(&types.CycleReport{
		StartedAt: time.Unix(1700000000, 0),
		Duration:  2 * time.Second,
		Quote:     types.Quote{Text: "x", Source: types.SourceGenerated, Duplicates: 2, Truncated: true},
		Results: []types.PublishResult{
			{Platform: types.PlatformBluesky, OK: true},
			{Platform: types.PlatformTwitter, OK: false, StatusCode: 429},
		},
	})
	c.ObserveCycle(&types.CycleReport{
		Quote:   types.Quote{Text: "y", Source: types.SourceFallback},
		Results: []types.PublishResult{{Platform: types.PlatformBluesky, OK: false}},
	})
	c.SetHistorySize(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotes.WithLabelValues("generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quotes.WithLabelValues("fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.truncated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("bluesky", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("bluesky", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("twitter", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.historySize))
	assert.Equal(t, 1700000002.0, testutil.ToFloat64(c.lastPublishTime))

	n, err := testutil.GatherAndCount(reg, "quote_bot_cycle_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveCycle(&types.CycleReport{})
	c.SetHistorySize(3)
}

func TestNewWithoutRegistry(t *testing.T) {
	c := New(nil, "dev")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.buildInfo.WithLabelValues("dev")))
}
