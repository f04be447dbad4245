// Package enrich adapts the vendor clients in pkg/ to the collaborator
// interfaces of the pipeline: Tavily for product URLs, Firecrawl for page
// images and Claude for product content.
package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/pkg/anthropic"
	"github.com/sells-group/catalog-cli/pkg/firecrawl"
	"github.com/sells-group/catalog-cli/pkg/tavily"
)

// NewLimiter returns a limiter allowing perSecond calls with a burst of one,
// or nil (unlimited) when perSecond is not positive.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// classifyStatus tags err with the retry class implied by an HTTP status.
// Every 5xx is transient, including vendor-specific codes such as 529.
func classifyStatus(status int, retryAfter time.Duration, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return resilience.NewRateLimitError(err, retryAfter)
	case status >= 500:
		return resilience.NewTransientError(err, status)
	default:
		return resilience.ClassifyHTTPStatus(status, err)
	}
}

// classifyVendorError maps the API errors of all three vendor clients.
// Errors without an HTTP status are returned unchanged so the invoker's
// network heuristics still apply.
func classifyVendorError(err error) error {
	if err == nil {
		return nil
	}
	var tErr *tavily.APIError
	if errors.As(err, &tErr) {
		return classifyStatus(tErr.StatusCode, tErr.RetryAfter, err)
	}
	var fErr *firecrawl.APIError
	if errors.As(err, &fErr) {
		return classifyStatus(fErr.StatusCode, fErr.RetryAfter, err)
	}
	if code := anthropic.StatusCode(err); code != 0 {
		return classifyStatus(code, 0, err)
	}
	return err
}

// slug lower-cases s and joins its words with hyphens.
func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
