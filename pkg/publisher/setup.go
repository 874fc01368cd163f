package publisher

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cpunion/quote-bot/pkg/config"
	"github.com/cpunion/quote-bot/pkg/httpclient"
)

// FromConfig builds the configured publishers. Bluesky is nil when its
// credentials are missing; Twitter is nil unless all four OAuth 1.0a values
// are set.
func FromConfig(cfg *config.Config, logger logrus.FieldLogger) (*Bluesky, *Twitter) {
	httpCfg := httpclient.Config{
		Timeout:      cfg.RequestTimeout,
		RetryMax:     cfg.HTTPRetries,
		RetryWaitMin: time.Second,
		RetryWaitMax: 5 * time.Second,
		Logger:       logger,
	}

	var bsky *Bluesky
	if cfg.Bluesky.Handle != "" && cfg.Bluesky.AppPassword != "" {
		bsky = NewBluesky(BlueskyConfig{
			Host:        cfg.Bluesky.Host,
			Handle:      cfg.Bluesky.Handle,
			AppPassword: cfg.Bluesky.AppPassword,
			HTTPClient:  httpclient.New(httpCfg),
			Logger:      logger,
		})
	}

	var tw *Twitter
	if cfg.Twitter.CanPost() {
		tw = NewTwitter(TwitterConfig{
			APIURL:       cfg.Twitter.APIURL,
			APIKey:       cfg.Twitter.APIKey,
			APISecret:    cfg.Twitter.APISecret,
			AccessToken:  cfg.Twitter.AccessToken,
			AccessSecret: cfg.Twitter.AccessSecret,
			HTTP:         httpCfg,
			Logger:       logger,
		})
	}
	return bsky, tw
}
