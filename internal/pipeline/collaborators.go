package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-cli/internal/model"
)

// MaxImages is the most image URLs kept per group.
const MaxImages = 3

// ErrNoResult marks a collaborator call that completed but had nothing to
// return. It is treated as permanent and never cached.
var ErrNoResult = eris.New("pipeline: collaborator returned no result")

// URLResolver finds the product page for a brand and product name.
// An empty URL with a nil error means nothing was found.
type URLResolver interface {
	ResolveURL(ctx context.Context, brand, name string) (string, error)
}

// ImageExtractor returns product image URLs found on a page, best first.
type ImageExtractor interface {
	ExtractImages(ctx context.Context, pageURL, name string) ([]string, error)
}

// ContentEnricher generates catalog copy for a group.
type ContentEnricher interface {
	EnrichContent(ctx context.Context, g *model.ProductGroup) (*model.Content, error)
}

// Collaborators bundles the three enrichment back-ends.
type Collaborators struct {
	Resolver  URLResolver
	Extractor ImageExtractor
	Enricher  ContentEnricher
}

func (c Collaborators) validate() error {
	switch {
	case c.Resolver == nil:
		return eris.New("pipeline: missing URL resolver")
	case c.Extractor == nil:
		return eris.New("pipeline: missing image extractor")
	case c.Enricher == nil:
		return eris.New("pipeline: missing content enricher")
	}
	return nil
}
