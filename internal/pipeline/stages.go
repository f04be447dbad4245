package pipeline

import (
	"context"
	"strconv"

	"github.com/sells-group/catalog-cli/internal/cache"
	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/internal/scheduler"
)

// URLKey is the cache key of a URL resolution request.
func URLKey(g *model.ProductGroup) string {
	return cache.Key(g.Brand, g.BaseName)
}

// ImagesKey is the cache key of an image extraction request.
func ImagesKey(pageURL string) string {
	return cache.Key(pageURL)
}

// ContentKey is the cache key of a content generation request. It covers
// everything the prompt is built from: brand, name, price and the variant
// names of a multi-variant group.
func ContentKey(g *model.ProductGroup) string {
	parts := []string{g.Brand, g.BaseName, strconv.FormatFloat(g.Primary().Price, 'f', 2, 64)}
	if len(g.Variants) > 1 {
		for _, v := range g.Variants {
			parts = append(parts, v.Row.Name)
		}
	}
	return cache.Key(parts...)
}

func (p *Pipeline) stages() []scheduler.Stage {
	return []scheduler.Stage{
		{Name: model.StageResolveURL, Run: p.resolveURL},
		{Name: model.StageExtractImages, Run: p.extractImages},
		{Name: model.StageGenerateContent, Run: p.generateContent},
	}
}

func (p *Pipeline) resolveURL(ctx context.Context, g *model.ProductGroup) scheduler.Result {
	url, out := resilience.InvokeOutcome(ctx, p.invoker, cache.NamespaceURL, URLKey(g),
		func(ctx context.Context) (string, error) {
			u, err := p.collab.Resolver.ResolveURL(ctx, g.Brand, g.BaseName)
			if err != nil {
				return "", err
			}
			if u == "" {
				return "", resilience.NewPermanentError(ErrNoResult)
			}
			return u, nil
		})
	if !out.OK() {
		return scheduler.Fail(out.Err)
	}
	g.Enrichment.URL = url
	return scheduler.OK(out.Hit)
}

func (p *Pipeline) extractImages(ctx context.Context, g *model.ProductGroup) scheduler.Result {
	if g.Enrichment.URL == "" {
		return scheduler.Skip()
	}
	pageURL := g.Enrichment.URL
	images, out := resilience.InvokeOutcome(ctx, p.invoker, cache.NamespaceImages, ImagesKey(pageURL),
		func(ctx context.Context) ([]string, error) {
			imgs, err := p.collab.Extractor.ExtractImages(ctx, pageURL, g.BaseName)
			if err != nil {
				return nil, err
			}
			if imgs == nil {
				imgs = []string{}
			}
			if len(imgs) > MaxImages {
				imgs = imgs[:MaxImages]
			}
			return imgs, nil
		})
	if !out.OK() {
		return scheduler.Fail(out.Err)
	}
	g.Enrichment.Images = images
	return scheduler.OK(out.Hit)
}

func (p *Pipeline) generateContent(ctx context.Context, g *model.ProductGroup) scheduler.Result {
	content, out := resilience.InvokeOutcome(ctx, p.invoker, cache.NamespaceContent, ContentKey(g),
		func(ctx context.Context) (*model.Content, error) {
			c, err := p.collab.Enricher.EnrichContent(ctx, g)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, resilience.NewPermanentError(ErrNoResult)
			}
			return c, nil
		})
	if !out.OK() {
		return scheduler.Fail(out.Err)
	}
	content.Apply(&g.Enrichment)
	return scheduler.OK(out.Hit)
}
