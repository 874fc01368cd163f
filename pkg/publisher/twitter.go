package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dghubble/oauth1"
	"github.com/rivo/uniseg"
	"github.com/sirupsen/logrus"

	"github.com/cpunion/quote-bot/pkg/httpclient"
	"github.com/cpunion/quote-bot/pkg/textutil"
	"github.com/cpunion/quote-bot/pkg/types"
)

// TwitterConfig configures a Twitter/X publisher. Posting requires OAuth 1.0a
// user context: both consumer and access credentials.
type TwitterConfig struct {
	APIURL       string
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
	// HTTP shapes the signing client: timeout and transport retries.
	HTTP   httpclient.Config
	Logger logrus.FieldLogger
}

// Twitter posts tweets through the v2 API.
type Twitter struct {
	baseURL      string
	client       *http.Client
	createClient *http.Client // no retries: a resent create is a second tweet or a 403
	logger       logrus.FieldLogger
}

var _ Publisher = (*Twitter)(nil)

// NewTwitter creates a Twitter publisher.
func NewTwitter(cfg TwitterConfig) *Twitter {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// The signing client sits under the retrying client so every retry gets a
	// fresh nonce and timestamp.
	oauthCfg := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
	signer := oauthCfg.Client(oauth1.NoContext, oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret))
	httpCfg := cfg.HTTP
	httpCfg.Base = signer
	if httpCfg.Logger == nil {
		httpCfg.Logger = logger
	}

	createCfg := httpCfg
	createCfg.RetryMax = 0

	return &Twitter{
		baseURL:      strings.TrimRight(cfg.APIURL, "/"),
		client:       httpclient.New(httpCfg),
		createClient: httpclient.New(createCfg),
		logger:       logger.WithField("platform", types.PlatformTwitter),
	}
}

func (t *Twitter) Platform() types.Platform { return types.PlatformTwitter }

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type userResponse struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

type apiErrorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Publish creates a tweet. Text over the platform's weighted limit is
// truncated.
func (t *Twitter) Publish(ctx context.Context, text string) (*types.PostRef, error) {
	text = fitTweet(text)

	body, err := json.Marshal(tweetRequest{Text: text})
	if err != nil {
		return nil, err
	}

	var out tweetResponse
	if err := t.do(ctx, t.createClient, http.MethodPost, "/2/tweets", body, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("twitter create tweet: response has no tweet id")
	}
	return &types.PostRef{
		ID:  out.Data.ID,
		URL: "https://x.com/i/web/status/" + out.Data.ID,
	}, nil
}

// Verify fetches the authenticated user.
func (t *Twitter) Verify(ctx context.Context) error {
	var out userResponse
	if err := t.do(ctx, t.client, http.MethodGet, "/2/users/me", nil, &out); err != nil {
		return err
	}
	t.logger.WithField("username", out.Data.Username).Info("Twitter credentials verified")
	return nil
}

func (t *Twitter) do(ctx context.Context, client *http.Client, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("twitter %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("twitter %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Platform:   types.PlatformTwitter,
			StatusCode: resp.StatusCode,
			Detail:     twitterDetail(resp.StatusCode, data),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("twitter %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func twitterDetail(status int, body []byte) string {
	switch status {
	case http.StatusUnauthorized:
		return "invalid or expired credentials; check the API keys and access tokens"
	case http.StatusForbidden:
		msg := "authentication or permission error; check the API keys and app permissions"
		if d := bodyDetail(body); d != "" {
			msg += ": " + d
		}
		return msg
	case http.StatusTooManyRequests:
		return "rate limit exceeded; will try again next cycle"
	}
	return bodyDetail(body)
}

func bodyDetail(body []byte) string {
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body))
	}
	if eb.Detail != "" {
		return eb.Detail
	}
	if len(eb.Errors) > 0 {
		return eb.Errors[0].Message
	}
	return eb.Title
}

// tweetURLLength is the weight X gives every link after t.co wrapping.
const tweetURLLength = 23

// tweetLength approximates X's weighted character count: links count 23,
// code points in the Latin and general punctuation ranges count 1, emoji
// sequences count 2 and every other code point counts 2.
func tweetLength(text string) int {
	n, last := 0, 0
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		n += weightedLength(text[last:loc[0]]) + tweetURLLength
		last = loc[1]
	}
	return n + weightedLength(text[last:])
}

func weightedLength(s string) int {
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		runes := gr.Runes()
		if emojiCluster(runes) {
			n += 2
			continue
		}
		for _, r := range runes {
			if lightRune(r) {
				n++
			} else {
				n += 2
			}
		}
	}
	return n
}

func lightRune(r rune) bool {
	return r <= 0x10FF ||
		(r >= 0x2000 && r <= 0x200D) ||
		(r >= 0x2010 && r <= 0x201F) ||
		(r >= 0x2032 && r <= 0x2037)
}

func emojiCluster(runes []rune) bool {
	for _, r := range runes {
		switch {
		case r == 0x200D, r == 0xFE0F, r == 0x20E3:
			return len(runes) > 1
		case r >= 0x1F000 && r <= 0x1FAFF:
			return true
		}
	}
	return false
}

// fitTweet shortens text until its weighted length fits the tweet limit.
func fitTweet(text string) string {
	out := text
	limit := textutil.Length(text)
	for limit > 1 {
		excess := tweetLength(out) - types.MaxPostLength
		if excess <= 0 {
			break
		}
		limit -= (excess + 1) / 2
		if limit < 1 {
			limit = 1
		}
		out = textutil.Truncate(text, limit)
	}
	return out
}
