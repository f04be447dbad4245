package enrich

import (
	"context"
	"fmt"

	"github.com/sells-group/catalog-cli/internal/model"
)

// Offline collaborators answer deterministically without network access.
// They back `run --offline` and make dry runs reproducible.

// OfflineResolver derives a product URL from the brand domain.
type OfflineResolver struct{}

// ResolveURL implements the pipeline's URL resolver.
func (OfflineResolver) ResolveURL(_ context.Context, brand, name string) (string, error) {
	bd := brandDomain(brand)
	if bd == "" || slug(name) == "" {
		return "", nil
	}
	return fmt.Sprintf("https://www.%s.com/products/%s", bd, slug(name)), nil
}

// OfflineExtractor returns placeholder images under the page URL.
type OfflineExtractor struct{}

// ExtractImages implements the pipeline's image extractor.
func (OfflineExtractor) ExtractImages(_ context.Context, pageURL, _ string) ([]string, error) {
	out := make([]string, maxImages)
	for i := range out {
		out[i] = fmt.Sprintf("%s/image-%d.jpg", pageURL, i+1)
	}
	return out, nil
}

// OfflineEnricher builds content from the group alone.
type OfflineEnricher struct {
	Taxonomy []string
}

// EnrichContent implements the pipeline's content enricher.
func (o OfflineEnricher) EnrichContent(_ context.Context, g *model.ProductGroup) (*model.Content, error) {
	taxonomy := o.Taxonomy
	if len(taxonomy) == 0 {
		taxonomy = DefaultTaxonomy
	}
	raw := model.Content{
		Title:       g.BaseName,
		Description: fmt.Sprintf("<p>%s by <strong>%s</strong>, available in %d variants.</p>", g.BaseName, g.Brand, len(g.Variants)),
		Category:    OtherCategory,
		Tags:        []string{g.Brand, g.BaseName},
	}
	return Normalize(raw, g, taxonomy), nil
}
