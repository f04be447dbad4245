package model

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// VariantRow is one parsed input record (one SKU). Rows are immutable once
// constructed; grouping attaches attributes on the owning ProductGroup.
type VariantRow struct {
	Brand    string  `json:"brand"`
	UPC      string  `json:"upc"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`

	Tax           float64 `json:"tax,omitempty"`
	VATPercentage float64 `json:"vat_percentage,omitempty"`
	TotalWithVAT  float64 `json:"total_with_vat,omitempty"`
}

// NewVariantRow validates the required fields of a row.
func NewVariantRow(brand, upc, name string, quantity int, price float64) (VariantRow, error) {
	brand = strings.TrimSpace(brand)
	upc = strings.TrimSpace(upc)
	name = strings.TrimSpace(name)
	switch {
	case brand == "":
		return VariantRow{}, eris.New("model: variant row missing brand")
	case upc == "":
		return VariantRow{}, eris.New("model: variant row missing upc")
	case name == "":
		return VariantRow{}, eris.Errorf("model: variant row %s missing name", upc)
	case quantity < 0:
		return VariantRow{}, eris.Errorf("model: variant row %s has negative quantity", upc)
	case price < 0:
		return VariantRow{}, eris.Errorf("model: variant row %s has negative price", upc)
	}
	return VariantRow{
		Brand:    brand,
		UPC:      upc,
		Name:     name,
		Quantity: quantity,
		Price:    price,
	}, nil
}

// VariantAttribute is a name/value pair derived from a row's display name,
// e.g. {"Size", "50ml"}.
type VariantAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Variant is a member row of a group together with the attributes the
// grouper stripped from its name.
type Variant struct {
	Row        VariantRow         `json:"row"`
	Attributes []VariantAttribute `json:"attributes,omitempty"`
}

// Attribute returns the value of the named attribute, if present.
func (v Variant) Attribute(name string) (string, bool) {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Enrichment is the bag of fields filled in by pipeline stages. Each field
// keeps its zero value when the corresponding stage produced no result.
type Enrichment struct {
	URL         string   `json:"url,omitempty"`
	Images      []string `json:"images,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ProductGroup is the aggregate of all variant rows sharing brand and
// canonical base name.
type ProductGroup struct {
	BaseName   string     `json:"base_name"`
	Brand      string     `json:"brand"`
	Variants   []Variant  `json:"variants"`
	Enrichment Enrichment `json:"enrichment"`
}

// ID returns a stable lower_snake handle for the group, e.g. "acme_shampoo".
func (g *ProductGroup) ID() string {
	return snake(g.Brand + " " + g.BaseName)
}

// Primary returns the first member row. Groups always have at least one.
func (g *ProductGroup) Primary() VariantRow {
	if len(g.Variants) == 0 {
		return VariantRow{}
	}
	return g.Variants[0].Row
}

// Rows returns the member rows in insertion order.
func (g *ProductGroup) Rows() []VariantRow {
	rows := make([]VariantRow, len(g.Variants))
	for i, v := range g.Variants {
		rows[i] = v.Row
	}
	return rows
}

// AttributeNames returns the distinct attribute names used by the group's
// variants in first-seen order.
func (g *ProductGroup) AttributeNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range g.Variants {
		for _, a := range v.Attributes {
			if !seen[a.Name] {
				seen[a.Name] = true
				names = append(names, a.Name)
			}
		}
	}
	return names
}

// Content is the output of the content generation stage.
type Content struct {
	Title       string   `json:"cleaned_name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

// Apply copies non-empty content fields into the enrichment bag.
func (c *Content) Apply(e *Enrichment) {
	if c == nil {
		return
	}
	if c.Title != "" {
		e.Title = c.Title
	}
	if c.Description != "" {
		e.Description = c.Description
	}
	if c.Category != "" {
		e.Category = c.Category
	}
	if len(c.Tags) > 0 {
		e.Tags = append([]string(nil), c.Tags...)
	}
}

func snake(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
