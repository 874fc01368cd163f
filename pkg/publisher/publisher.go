// Package publisher sends quotes to social platforms.
package publisher

import (
	"context"
	"fmt"

	"github.com/cpunion/quote-bot/pkg/types"
)

// Publisher posts text to one platform.
type Publisher interface {
	// Platform returns the platform identifier.
	Platform() types.Platform

	// Publish posts text and returns a reference to the created post.
	Publish(ctx context.Context, text string) (*types.PostRef, error)

	// Verify checks the credentials without posting anything.
	Verify(ctx context.Context) error
}

// APIError is a non-successful platform response.
type APIError struct {
	Platform   types.Platform
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s API error (HTTP %d)", e.Platform, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Platform, e.StatusCode, e.Detail)
}
