// Package export writes the enriched catalog as Shopify product CSV files
// or as JSON.
package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/catalog-cli/internal/model"
)

// Columns is the Shopify product import header.
var Columns = []string{
	"Handle", "Title", "Body (HTML)", "Vendor", "Product Category",
	"Type", "Tags", "Published", "Option1 Name", "Option1 Value",
	"Option2 Name", "Option2 Value", "Option3 Name", "Option3 Value",
	"Variant Price", "Variant Compare At Price", "Variant Requires Shipping",
	"Variant Taxable", "Image Src", "Image Position", "Image Alt Text",
	"SKU", "Variant Barcode", "Variant Fulfillment Service",
	"Variant Inventory Tracker", "Variant Inventory Qty",
	"Variant Inventory Policy", "Status",
}

const (
	colHandle = iota
	colTitle
	colBody
	colVendor
	colCategory
	colType
	colTags
	colPublished
	colOption1Name
	colOption1Value
	colOption2Name
	colOption2Value
	colOption3Name
	colOption3Value
	colPrice
	colCompareAt
	colRequiresShipping
	colTaxable
	colImageSrc
	colImagePosition
	colImageAlt
	colSKU
	colBarcode
	colFulfillment
	colTracker
	colQty
	colPolicy
	colStatus
)

const (
	maxOptions      = 3
	maxHandleLength = 255
	defaultCategory = "Other"
)

var (
	nonHandle  = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	hyphenRuns = regexp.MustCompile(`-+`)
	stripMarks = runes.Remove(runes.In(unicode.Mn))
)

// Handle converts text to a Shopify handle: lower-case ASCII letters,
// digits and single hyphens, e.g. "Café Crème" -> "cafe-creme".
func Handle(text string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	s, _, err := transform.String(t, strings.ToLower(text))
	if err != nil {
		s = strings.ToLower(text)
	}
	s = nonHandle.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxHandleLength {
		s = strings.TrimRight(s[:maxHandleLength], "-")
	}
	if s == "" {
		return "product"
	}
	return s
}

// handles assigns unique handles across a run.
type handles map[string]bool

// assign returns the group's handle, disambiguated with the last four
// digits of its first UPC, then the full UPC, then a counter.
func (h handles) assign(g *model.ProductGroup) string {
	base := Handle(g.Brand + " " + g.BaseName)
	candidates := []string{base}
	if upc := g.Primary().UPC; upc != "" {
		suffix := upc
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
		candidates = append(candidates, base+"-"+Handle(suffix), base+"-"+Handle(upc))
	}
	for _, c := range candidates {
		if !h[c] {
			h[c] = true
			return c
		}
	}
	for n := 1; ; n++ {
		c := fmt.Sprintf("%s-%d", base, n)
		if !h[c] {
			h[c] = true
			return c
		}
	}
}

// Rows returns the CSV records of each group, header excluded. Every group
// yields one row per variant plus one row per additional image. The first
// row carries the product-level fields.
func Rows(groups []*model.ProductGroup) [][][]string {
	seen := handles{}
	out := make([][][]string, 0, len(groups))
	for _, g := range groups {
		if len(g.Variants) == 0 {
			continue
		}
		out = append(out, groupRows(g, seen.assign(g)))
	}
	return out
}

func groupRows(g *model.ProductGroup, handle string) [][]string {
	e := g.Enrichment
	options := g.AttributeNames()
	if len(options) > maxOptions {
		options = options[:maxOptions]
	}

	rows := make([][]string, 0, len(g.Variants)+len(e.Images))
	for i, v := range g.Variants {
		row := make([]string, len(Columns))
		row[colHandle] = handle
		setOptions(row, options, v)
		setVariant(row, v.Row)

		if i == 0 {
			row[colTitle] = firstNonEmpty(e.Title, g.BaseName)
			row[colBody] = e.Description
			row[colVendor] = g.Brand
			row[colCategory] = firstNonEmpty(e.Category, defaultCategory)
			row[colType] = leaf(e.Category)
			row[colTags] = strings.Join(e.Tags, ", ")
			row[colPublished] = "TRUE"
			row[colStatus] = "active"
			if len(e.Images) > 0 {
				setImage(row, g, e.Images[0], 1)
			}
		}
		rows = append(rows, row)
	}

	for i := 1; i < len(e.Images); i++ {
		row := make([]string, len(Columns))
		row[colHandle] = handle
		setImage(row, g, e.Images[i], i+1)
		rows = append(rows, row)
	}
	return rows
}

// setOptions fills the option columns. A product without attributes gets
// Shopify's "Title / Default Title" placeholder.
func setOptions(row []string, names []string, v model.Variant) {
	if len(names) == 0 {
		row[colOption1Name] = "Title"
		row[colOption1Value] = "Default Title"
		return
	}
	for i, name := range names {
		value, _ := v.Attribute(name)
		row[colOption1Name+2*i] = name
		row[colOption1Value+2*i] = value
	}
}

func setVariant(row []string, r model.VariantRow) {
	row[colPrice] = strconv.FormatFloat(r.Price, 'f', 2, 64)
	row[colRequiresShipping] = "TRUE"
	row[colTaxable] = "TRUE"
	row[colSKU] = r.UPC
	row[colBarcode] = r.UPC
	row[colFulfillment] = "manual"
	row[colTracker] = "shopify"
	row[colQty] = strconv.Itoa(r.Quantity)
	row[colPolicy] = "continue"
}

func setImage(row []string, g *model.ProductGroup, src string, pos int) {
	row[colImageSrc] = src
	row[colImagePosition] = strconv.Itoa(pos)
	row[colImageAlt] = strings.TrimSpace(g.Brand + " " + g.BaseName)
}

func leaf(category string) string {
	if i := strings.LastIndex(category, ">"); i >= 0 {
		return strings.TrimSpace(category[i+1:])
	}
	return category
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
