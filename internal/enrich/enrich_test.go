package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/pipeline"
	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/pkg/firecrawl"
	"github.com/sells-group/catalog-cli/pkg/tavily"
)

// Compile-time interface checks.
var (
	_ pipeline.URLResolver     = (*TavilyResolver)(nil)
	_ pipeline.ImageExtractor  = (*FirecrawlExtractor)(nil)
	_ pipeline.ContentEnricher = (*ClaudeEnricher)(nil)
	_ pipeline.URLResolver     = OfflineResolver{}
	_ pipeline.ImageExtractor  = OfflineExtractor{}
	_ pipeline.ContentEnricher = OfflineEnricher{}
)

func TestClassifyVendorError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class resilience.Class
	}{
		{"tavily 429", eris.Wrap(&tavily.APIError{StatusCode: 429}, "search"), resilience.ClassRateLimited},
		{"tavily 401", &tavily.APIError{StatusCode: 401}, resilience.ClassPermanent},
		{"tavily 408", &tavily.APIError{StatusCode: 408}, resilience.ClassTransient},
		{"firecrawl 503", eris.Wrap(&firecrawl.APIError{StatusCode: 503}, "scrape"), resilience.ClassTransient},
		{"firecrawl 529", &firecrawl.APIError{StatusCode: 529}, resilience.ClassTransient},
		{"firecrawl 404", &firecrawl.APIError{StatusCode: 404}, resilience.ClassPermanent},
		{"plain error", errors.New("boom"), resilience.ClassPermanent},
		{"timeout", context.DeadlineExceeded, resilience.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, resilience.Classify(classifyVendorError(tt.err)))
		})
	}
	assert.NoError(t, classifyVendorError(nil))
}

func TestClassifyVendorError_KeepsRetryAfter(t *testing.T) {
	err := classifyVendorError(&firecrawl.APIError{StatusCode: 429, RetryAfter: 4 * time.Second})
	var rle *resilience.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 4*time.Second, rle.RetryAfter)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	assert.Nil(t, NewLimiter(-1))
	l := NewLimiter(5)
	require.NotNil(t, l)
	assert.InDelta(t, 5.0, float64(l.Limit()), 1e-9)
	assert.Equal(t, 1, l.Burst())
}

func TestWait_CancelledContext(t *testing.T) {
	l := NewLimiter(0.001)
	require.NoError(t, wait(context.Background(), l)) // consumes the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, wait(ctx, l))
	assert.NoError(t, wait(ctx, nil))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "hair-care", slug("  Hair   Care "))
	assert.Equal(t, "", slug(""))
}
