package enrich

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-cli/pkg/tavily"
)

// brandTLDs are tried on the brand's own domain before any retailer.
var brandTLDs = []string{".com", ".sa", ".ae", ".co"}

// retailerDomains are searched after the brand's own sites, in order.
var retailerDomains = []string{
	"iherb.sa",
	"sa.iherb.com",
	"iherb.com",
	"amazon.sa",
	"noon.com",
	"namshi.com",
	"amazon.ae",
}

// nonProductPaths mark search hits that are account or checkout pages.
var nonProductPaths = []string{"login", "signin", "account", "cart", "checkout", "register"}

// TavilyResolver finds a product page URL with a Tavily web search.
type TavilyResolver struct {
	client     tavily.Client
	limiter    *rate.Limiter
	depth      string
	maxResults int
}

// ResolverOption configures a TavilyResolver.
type ResolverOption func(*TavilyResolver)

// WithSearchDepth sets the Tavily search depth ("basic" or "advanced").
func WithSearchDepth(depth string) ResolverOption {
	return func(r *TavilyResolver) {
		if depth != "" {
			r.depth = depth
		}
	}
}

// WithMaxResults sets the number of search hits requested.
func WithMaxResults(n int) ResolverOption {
	return func(r *TavilyResolver) {
		if n > 0 {
			r.maxResults = n
		}
	}
}

// NewTavilyResolver creates a resolver. A nil limiter disables throttling.
func NewTavilyResolver(client tavily.Client, limiter *rate.Limiter, opts ...ResolverOption) *TavilyResolver {
	r := &TavilyResolver{
		client:     client,
		limiter:    limiter,
		depth:      "advanced",
		maxResults: 10,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveURL returns the best product page for brand and name, or "" when
// the search found nothing usable.
func (r *TavilyResolver) ResolveURL(ctx context.Context, brand, name string) (string, error) {
	if err := wait(ctx, r.limiter); err != nil {
		return "", err
	}
	resp, err := r.client.Search(ctx, tavily.SearchRequest{
		Query:          SearchQuery(brand, name),
		SearchDepth:    r.depth,
		MaxResults:     r.maxResults,
		IncludeDomains: PriorityDomains(brand),
	})
	if err != nil {
		return "", classifyVendorError(err)
	}

	u := pickResult(resp.Results)
	if u == "" {
		zap.L().Debug("enrich: no product url", zap.String("brand", brand), zap.String("name", name))
	}
	return u, nil
}

// SearchQuery builds the search text for a product.
func SearchQuery(brand, name string) string {
	return strings.TrimSpace(brand+" "+name) + " buy product page"
}

// PriorityDomains lists the domains searched for brand, brand sites first.
func PriorityDomains(brand string) []string {
	bd := brandDomain(brand)
	domains := make([]string, 0, len(brandTLDs)+len(retailerDomains))
	if bd != "" {
		for _, tld := range brandTLDs {
			domains = append(domains, bd+tld)
		}
	}
	return append(domains, retailerDomains...)
}

// brandDomain lower-cases brand and drops spaces and hyphens, e.g.
// "Beauty System" -> "beautysystem".
func brandDomain(brand string) string {
	r := strings.NewReplacer(" ", "", "-", "")
	return r.Replace(strings.ToLower(strings.TrimSpace(brand)))
}

// pickResult returns the first hit that is not an account page, falling
// back to the first hit, and validates it.
func pickResult(results []tavily.Result) string {
	if len(results) == 0 {
		return ""
	}
	chosen := results[0].URL
	for _, res := range results {
		if !isAccountPage(res.URL) {
			chosen = res.URL
			break
		}
	}
	if !validURL(chosen) {
		return ""
	}
	return chosen
}

func isAccountPage(u string) bool {
	lower := strings.ToLower(u)
	for _, p := range nonProductPaths {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func validURL(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
