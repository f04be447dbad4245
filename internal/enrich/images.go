package enrich

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/pkg/firecrawl"
)

// maxImages is the number of images kept per product page.
const maxImages = 3

// skipPatterns mark decorative or navigation images, matched against both
// the image URL and its alt text.
var skipPatterns = []string{
	"logo", "icon", "badge", "button", "arrow", "star", "rating",
	"banner", "header", "footer", "nav", "menu", "social",
	"facebook", "twitter", "instagram", "checkout", "cart", "search",
}

var skipSuffixes = []string{"gif", "webp", "1x1", "pixel"}

var cdnHints = []string{"cdn", "images", "assets", "s3", "cloudfront", "media"}

// ImageCandidate is an <img> found on a product page.
type ImageCandidate struct {
	Src string
	Alt string
}

// FirecrawlExtractor scrapes a product page with Firecrawl and ranks its
// images by relevance to the product.
type FirecrawlExtractor struct {
	client  firecrawl.Client
	limiter *rate.Limiter
	waitFor int
}

// NewFirecrawlExtractor creates an extractor. A nil limiter disables
// throttling.
func NewFirecrawlExtractor(client firecrawl.Client, limiter *rate.Limiter) *FirecrawlExtractor {
	return &FirecrawlExtractor{client: client, limiter: limiter, waitFor: 2000}
}

// ExtractImages returns up to three image URLs from pageURL, best first.
func (e *FirecrawlExtractor) ExtractImages(ctx context.Context, pageURL, name string) ([]string, error) {
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	resp, err := e.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             pageURL,
		Formats:         []string{"html"},
		OnlyMainContent: true,
		IncludeTags:     []string{"img"},
		WaitFor:         e.waitFor,
	})
	if err != nil {
		return nil, classifyVendorError(err)
	}
	if !resp.Success {
		return nil, resilience.NewPermanentError(eris.Errorf("enrich: firecrawl scrape of %s failed: %s", pageURL, resp.Error))
	}

	base, _ := url.Parse(pageURL)
	return RankImages(ParseImages(resp.Data.HTML, base), name, maxImages), nil
}

// ParseImages returns the src and data-src images of every <img> tag in
// doc, in document order. Relative URLs are resolved against base when it is
// non-nil.
func ParseImages(doc string, base *url.URL) []ImageCandidate {
	var out []ImageCandidate
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom != atom.Img {
				continue
			}
			var srcs []string
			var alt string
			for _, a := range tok.Attr {
				switch a.Key {
				case "src", "data-src":
					if v := strings.TrimSpace(a.Val); v != "" {
						srcs = append(srcs, v)
					}
				case "alt":
					alt = strings.TrimSpace(a.Val)
				}
			}
			for _, s := range srcs {
				out = append(out, ImageCandidate{Src: resolve(base, s), Alt: alt})
			}
		}
	}
}

func resolve(base *url.URL, src string) string {
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	if base == nil || strings.HasPrefix(src, "data:") {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

// RankImages filters out decorative and non-HTTPS images, scores the rest
// and returns the top limit URLs. Ties keep document order and duplicate
// URLs are dropped.
func RankImages(cands []ImageCandidate, name string, limit int) []string {
	type scored struct {
		url   string
		score int
	}
	keywords := strings.Fields(strings.ToLower(name))
	seen := make(map[string]bool)
	var ranked []scored
	for _, c := range cands {
		if seen[c.Src] || !keepImage(c) {
			continue
		}
		seen[c.Src] = true
		ranked = append(ranked, scored{url: c.Src, score: scoreImage(c, keywords)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]string, 0, limit)
	for _, r := range ranked {
		if len(out) == limit {
			break
		}
		out = append(out, r.url)
	}
	return out
}

func keepImage(c ImageCandidate) bool {
	if !strings.HasPrefix(c.Src, "https://") {
		return false
	}
	src, alt := strings.ToLower(c.Src), strings.ToLower(c.Alt)
	for _, p := range skipPatterns {
		if strings.Contains(src, p) || strings.Contains(alt, p) {
			return false
		}
	}
	for _, s := range skipSuffixes {
		if strings.HasSuffix(src, s) {
			return false
		}
	}
	return true
}

func scoreImage(c ImageCandidate, keywords []string) int {
	score := 0
	alt := strings.ToLower(c.Alt)
	if alt != "" {
		for _, kw := range keywords {
			if strings.Contains(alt, kw) {
				score += 5
			}
		}
		if strings.Contains(alt, "product") {
			score += 3
		}
	}

	src := strings.ToLower(c.Src)
	switch {
	case strings.HasSuffix(src, ".jpg"), strings.HasSuffix(src, ".jpeg"):
		score += 3
	case strings.HasSuffix(src, ".png"):
		score += 2
	}
	for _, h := range cdnHints {
		if strings.Contains(src, h) {
			score += 2
			break
		}
	}
	if strings.Contains(src, "product") {
		score += 3
	}
	return score
}
