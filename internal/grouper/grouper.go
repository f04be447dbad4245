// Package grouper clusters variant rows into product groups by brand and
// canonical base name.
package grouper

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/catalog-cli/internal/model"
)

// Grouper derives canonical base names with a Classifier and groups rows
// sharing (brand, base name). It holds no mutable state.
type Grouper struct {
	classifier Classifier
}

// New creates a Grouper. A nil classifier selects the default lexicon.
func New(c Classifier) *Grouper {
	if c == nil {
		c = DefaultLexicon()
	}
	return &Grouper{classifier: c}
}

// Canonical is the result of canonicalizing one display name.
type Canonical struct {
	BaseName   string
	Attributes []model.VariantAttribute
	// Fallback is set when stripping attributes left nothing.
	Fallback bool
}

// Canonicalize strips variant-attribute spans from name and normalizes the
// remainder into a title-cased base name.
func (g *Grouper) Canonicalize(name string) Canonical {
	return g.canonicalize(name, cases.Title(language.Und))
}

func (g *Grouper) canonicalize(name string, caser cases.Caser) Canonical {
	matches := g.classifier.Match(name)

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if m.Start < last {
			continue
		}
		b.WriteString(name[last:m.Start])
		b.WriteByte(' ')
		last = m.End
	}
	b.WriteString(name[last:])

	base := normalize(b.String())
	if base == "" {
		return Canonical{BaseName: strings.Join(strings.Fields(name), " "), Fallback: true}
	}
	return Canonical{
		BaseName:   caser.String(base),
		Attributes: attributes(matches),
	}
}

// Group partitions rows into product groups. Groups appear in the order of
// their first member row and members keep input order. Every row lands in
// exactly one group.
func (g *Grouper) Group(rows []model.VariantRow) []*model.ProductGroup {
	caser := cases.Title(language.Und)
	index := make(map[string]*model.ProductGroup)
	var groups []*model.ProductGroup
	fallbacks := 0

	for _, row := range rows {
		c := g.canonicalize(row.Name, caser)
		brand := strings.TrimSpace(row.Brand)

		key := identity(brand, c.BaseName)
		if c.Fallback {
			fallbacks++
			key = identity(brand, "\x00raw\x00"+row.Name)
		}

		grp, ok := index[key]
		if !ok {
			grp = &model.ProductGroup{BaseName: c.BaseName, Brand: brand}
			index[key] = grp
			groups = append(groups, grp)
		}
		grp.Variants = append(grp.Variants, model.Variant{Row: row, Attributes: c.Attributes})
	}

	zap.L().Debug("grouper: grouped rows",
		zap.Int("rows", len(rows)),
		zap.Int("groups", len(groups)),
		zap.Int("fallback_rows", fallbacks),
	)
	return groups
}

// Group groups rows with the default lexicon.
func Group(rows []model.VariantRow) []*model.ProductGroup {
	return New(nil).Group(rows)
}

func identity(brand, base string) string {
	return strings.ToLower(brand) + "\x00" + strings.ToLower(strings.TrimSpace(base))
}

// attributes folds matches into one attribute per name, keeping the position
// of the first occurrence and joining repeated values with a space.
func attributes(matches []Match) []model.VariantAttribute {
	if len(matches) == 0 {
		return nil
	}
	var attrs []model.VariantAttribute
	pos := make(map[string]int)
	for _, m := range matches {
		if i, ok := pos[m.Attribute]; ok {
			attrs[i].Value += " " + m.Value
			continue
		}
		pos[m.Attribute] = len(attrs)
		attrs = append(attrs, model.VariantAttribute{Name: m.Attribute, Value: m.Value})
	}
	return attrs
}

// normalize drops apostrophes, turns other punctuation into spaces and
// collapses whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '’':
			return -1
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
