// Package httpclient builds the HTTP clients used for outbound API calls.
package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Config configures New.
type Config struct {
	Timeout      time.Duration // whole request including retries
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Base carries the transport to retry over, e.g. an OAuth-signing client.
	// Defaults to a cleanhttp pooled client.
	Base   *http.Client
	Logger logrus.FieldLogger
}

// leveledLogrus adapts logrus to retryablehttp.LeveledLogger.
type leveledLogrus struct {
	inner logrus.FieldLogger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(fields(keysAndValues)).Warn(msg)
}

func (l leveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(fields(keysAndValues)).Warn(msg)
}

func (l leveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(fields(keysAndValues)).Info(msg)
}

func (l leveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.WithFields(fields(keysAndValues)).Debug(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}

// New returns a standard *http.Client with retryablehttp logic inside. It
// retries connection errors and 5xx responses (except 501). 429 responses are
// returned to the caller untouched: a rate-limited post waits for the next
// cycle instead of sleeping inside this one.
func New(cfg Config) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Base != nil {
		retryClient.HTTPClient = cfg.Base
	}
	if cfg.Logger != nil {
		retryClient.Logger = retryablehttp.LeveledLogger(leveledLogrus{cfg.Logger})
	} else {
		retryClient.Logger = nil
	}
	retryClient.CheckRetry = CheckRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := retryClient.StandardClient()
	client.Timeout = cfg.Timeout
	return client
}

// CheckRetry is retryablehttp.DefaultRetryPolicy without 429 retries.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
