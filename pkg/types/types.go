// Package types defines core types shared by the quote bot packages.
package types

import "time"

// MaxPostLength is the character limit shared by every target platform.
const MaxPostLength = 280

// QuoteSource records where a quote came from.
type QuoteSource string

const (
	SourceGenerated QuoteSource = "generated" // Produced by the generative API
	SourceFallback  QuoteSource = "fallback"  // Picked from the pre-written list
)

// Quote is a candidate text for publication. It only lives for one cycle.
type Quote struct {
	Text       string      `json:"text"`
	Source     QuoteSource `json:"source"`
	Attempts   int         `json:"attempts"`   // generation calls made
	Duplicates int         `json:"duplicates"` // candidates rejected as duplicates
	Truncated  bool        `json:"truncated,omitempty"`
}

// Platform identifies a social network.
type Platform string

const (
	PlatformBluesky Platform = "bluesky"
	PlatformTwitter Platform = "twitter"
)

// PostRef points at a post created on a platform.
type PostRef struct {
	ID  string `json:"id"`
	CID string `json:"cid,omitempty"`
	URL string `json:"url,omitempty"`
}

// PublishResult is the per-platform outcome of one publish attempt.
type PublishResult struct {
	Platform   Platform `json:"platform"`
	OK         bool     `json:"ok"`
	PostID     string   `json:"post_id,omitempty"`
	URL        string   `json:"url,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// CycleReport summarizes one post cycle.
type CycleReport struct {
	CycleID   string          `json:"cycle_id"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Quote     Quote           `json:"quote"`
	Results   []PublishResult `json:"results"`
	Recorded  bool            `json:"recorded"`
}

// Published reports whether at least one platform accepted the post.
func (r *CycleReport) Published() bool {
	for _, res := range r.Results {
		if res.OK {
			return true
		}
	}
	return false
}
