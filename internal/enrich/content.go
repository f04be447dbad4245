package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/resilience"
	"github.com/sells-group/catalog-cli/pkg/anthropic"
)

// Content limits.
const (
	MinTags           = 6
	MaxTags           = 10
	MaxTagLength      = 50
	MaxTitleLength    = 255
	MaxDescriptionLen = 500

	// OtherCategory is assigned when the model picks no listed category.
	OtherCategory = "Other"
)

// DefaultModel is the model used for content generation.
const DefaultModel = "claude-haiku-4-5-20251001"

// DefaultTaxonomy is the category list offered to the model.
var DefaultTaxonomy = []string{
	"Health & Beauty > Hair Care",
	"Health & Beauty > Skin Care",
	"Health & Beauty > Makeup",
	"Health & Beauty > Bath & Body",
	"Health & Beauty > Oral Care",
	"Health & Beauty > Fragrance",
	"Health & Beauty > Nail Care",
	"Health & Beauty > Personal Care",
	"Home & Garden > Home Decor",
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

const systemPrompt = `You write e-commerce product listings. Answer with a single JSON object and nothing else:
{"cleaned_name": string, "description": string, "category": string, "tags": [string]}

Rules:
- cleaned_name: human-readable product name without brand codes or SKU noise, at most 7 words.
- description: 2-3 sentences highlighting benefits, professional tone. Basic HTML (<p>, <strong>, <em>) is allowed. No markdown, no asterisks, no backticks, no calls to action.
- category: exactly one entry from the category list, or "Other" if none fits.
- tags: 6-10 lower-case search tags, multi-word tags hyphenated (e.g. "hair-care"). Include brand, product type and benefits.
- Describe only what the product name supports. Do not invent variants.`

// ClaudeEnricher generates listing content for a product group with one
// Claude message per group.
type ClaudeEnricher struct {
	client    anthropic.Client
	limiter   *rate.Limiter
	model     string
	maxTokens int64
	taxonomy  []string
	system    []anthropic.SystemBlock
}

// NewClaudeEnricher creates an enricher. An empty model uses DefaultModel
// and an empty taxonomy uses DefaultTaxonomy.
func NewClaudeEnricher(client anthropic.Client, limiter *rate.Limiter, model string, taxonomy []string) *ClaudeEnricher {
	if model == "" {
		model = DefaultModel
	}
	if len(taxonomy) == 0 {
		taxonomy = DefaultTaxonomy
	}
	return &ClaudeEnricher{
		client:    client,
		limiter:   limiter,
		model:     model,
		maxTokens: 1024,
		taxonomy:  taxonomy,
		system:    anthropic.BuildCachedSystemBlocks(systemPrompt + "\n\nCategories:\n" + strings.Join(taxonomy, "\n")),
	}
}

// EnrichContent asks the model for the group's listing content. A reply that
// is not the expected JSON is a permanent error.
func (e *ClaudeEnricher) EnrichContent(ctx context.Context, g *model.ProductGroup) (*model.Content, error) {
	if err := wait(ctx, e.limiter); err != nil {
		return nil, err
	}
	temp := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      e.system,
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt(g)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, classifyVendorError(err)
	}
	resp.Usage.LogCost(e.model, "content")

	var raw model.Content
	if err := parseJSON(resp.Text(), &raw); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrapf(err, "enrich: content for %q", g.BaseName))
	}
	return Normalize(raw, g, e.taxonomy), nil
}

func userPrompt(g *model.ProductGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brand: %s\nProduct: %s\n", g.Brand, g.BaseName)
	if p := g.Primary(); p.Price > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", p.Price)
	}
	if len(g.Variants) > 1 {
		b.WriteString("Variants:\n")
		for _, v := range g.Variants {
			fmt.Fprintf(&b, "- %s\n", v.Row.Name)
		}
	}
	return b.String()
}

// parseJSON decodes text directly, then retries on the outermost {...} to
// tolerate code fences and surrounding prose.
func parseJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}
	m := jsonObject.FindString(text)
	if m == "" {
		return eris.New("enrich: no json object in reply")
	}
	if err := json.Unmarshal([]byte(m), out); err != nil {
		return eris.Wrap(err, "enrich: decode reply")
	}
	return nil
}

// Normalize applies the listing rules to raw model output: the title falls
// back to the base name, the description loses markdown and is capped, the
// category must come from taxonomy and tags are cleaned and padded.
func Normalize(raw model.Content, g *model.ProductGroup, taxonomy []string) *model.Content {
	title := strings.Trim(strings.TrimSpace(raw.Title), `"'`)
	if title == "" {
		title = g.BaseName
	}
	category := matchCategory(raw.Category, taxonomy)
	return &model.Content{
		Title:       truncate(title, MaxTitleLength),
		Description: cleanDescription(raw.Description),
		Category:    category,
		Tags:        NormalizeTags(raw.Tags, g.Brand, category),
	}
}

var markdownReplacer = strings.NewReplacer("```", "", "**", "", "*", "", "`", "")

func cleanDescription(s string) string {
	return truncate(strings.TrimSpace(markdownReplacer.Replace(s)), MaxDescriptionLen)
}

// truncate caps s at n runes, ending in "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func matchCategory(got string, taxonomy []string) string {
	got = strings.ToLower(strings.TrimSpace(got))
	if got == "" {
		return OtherCategory
	}
	for _, c := range taxonomy {
		if strings.ToLower(c) == got {
			return c
		}
	}
	for _, c := range taxonomy {
		if strings.Contains(got, strings.ToLower(c)) {
			return c
		}
	}
	// Accept the leaf alone, e.g. "Hair Care" for "Health & Beauty > Hair Care".
	for _, c := range taxonomy {
		if strings.ToLower(leaf(c)) == got {
			return c
		}
	}
	return OtherCategory
}

func leaf(category string) string {
	if i := strings.LastIndex(category, ">"); i >= 0 {
		return strings.TrimSpace(category[i+1:])
	}
	return category
}

// NormalizeTags lower-cases and hyphenates tags, drops invalid or duplicate
// ones and pads the list from brand and category to at least MinTags,
// keeping at most MaxTags.
func NormalizeTags(tags []string, brand, category string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, MaxTags)
	add := func(t string) {
		t = slug(t)
		if len(out) == MaxTags || seen[t] || !validTag(t) {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range tags {
		add(t)
	}
	if len(out) < MinTags {
		for _, t := range []string{brand, leaf(category), "product", "beauty", "shop", "online"} {
			add(t)
		}
	}
	return out
}

func validTag(t string) bool {
	if len(t) < 2 || len(t) > MaxTagLength {
		return false
	}
	for _, r := range t {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}
