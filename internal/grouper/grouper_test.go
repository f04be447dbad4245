package grouper

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/model"
)

func row(brand, upc, name string) model.VariantRow {
	return model.VariantRow{Brand: brand, UPC: upc, Name: name, Quantity: 1, Price: 10}
}

func TestGroup_ShampooScenario(t *testing.T) {
	rows := []model.VariantRow{
		row("Acme", "UPC1", "Shampoo Black 50ml"),
		row("Acme", "UPC2", "Shampoo Red 50ml"),
		row("Acme", "UPC3", "Shampoo Black 100ml"),
	}

	groups := Group(rows)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "Shampoo", g.BaseName)
	assert.Equal(t, "Acme", g.Brand)
	assert.Equal(t, "acme_shampoo", g.ID())
	require.Len(t, g.Variants, 3)

	want := [][]model.VariantAttribute{
		{{Name: AttrColor, Value: "Black"}, {Name: AttrSize, Value: "50ml"}},
		{{Name: AttrColor, Value: "Red"}, {Name: AttrSize, Value: "50ml"}},
		{{Name: AttrColor, Value: "Black"}, {Name: AttrSize, Value: "100ml"}},
	}
	for i, v := range g.Variants {
		assert.Equal(t, rows[i].UPC, v.Row.UPC)
		assert.Equal(t, want[i], v.Attributes)
	}
}

func TestGroup_SeparatesBrandsAndBases(t *testing.T) {
	rows := []model.VariantRow{
		row("Acme", "1", "Shampoo 50ml"),
		row("Other", "2", "Shampoo 50ml"),
		row("Acme", "3", "Conditioner 50ml"),
		row("acme ", "4", "SHAMPOO 200ml"),
	}

	groups := Group(rows)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"1", "4"}, upcs(groups[0]))
	assert.Equal(t, []string{"2"}, upcs(groups[1]))
	assert.Equal(t, []string{"3"}, upcs(groups[2]))
	assert.Equal(t, "Conditioner", groups[2].BaseName)
}

func TestGroup_NoRemovableToken(t *testing.T) {
	groups := Group([]model.VariantRow{row("Acme", "1", "Hydrating Face Serum")})
	require.Len(t, groups, 1)
	assert.Equal(t, "Hydrating Face Serum", groups[0].BaseName)
	assert.Empty(t, groups[0].Variants[0].Attributes)
}

func TestGroup_EmptyBaseFallsBackToFullName(t *testing.T) {
	rows := []model.VariantRow{
		row("Acme", "1", "Black 50ml"),
		row("Acme", "2", "Red 50ml"),
		row("Acme", "3", "black 50ml"),
	}

	groups := Group(rows)
	require.Len(t, groups, 2)
	assert.Equal(t, "Black 50ml", groups[0].BaseName)
	assert.Equal(t, []string{"1", "3"}, upcs(groups[0]))
	assert.Empty(t, groups[0].Variants[0].Attributes)
	assert.Equal(t, "Red 50ml", groups[1].BaseName)
}

func TestGroup_Determinism(t *testing.T) {
	rows := sampleRows()
	first := Group(rows)
	second := Group(rows)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID())
		assert.Equal(t, first[i].Variants, second[i].Variants)
	}
}

func TestGroup_RowCoverage(t *testing.T) {
	rows := sampleRows()
	rows = append(rows, row("Acme", "E1", "   "), row("Acme", "E2", "(50ml)"), row("", "E3", "#12"))

	seen := make(map[string]int)
	for _, g := range Group(rows) {
		require.NotEmpty(t, g.Variants)
		for _, v := range g.Variants {
			seen[v.Row.UPC]++
		}
	}
	require.Len(t, seen, len(rows))
	for upc, n := range seen {
		assert.Equal(t, 1, n, "row %s grouped %d times", upc, n)
	}
}

func TestGroup_Empty(t *testing.T) {
	assert.Empty(t, Group(nil))
}

func TestCanonicalize(t *testing.T) {
	g := New(nil)
	tests := []struct {
		name  string
		base  string
		attrs []model.VariantAttribute
	}{
		{"Lipstick Red #45", "Lipstick", []model.VariantAttribute{{Name: AttrColor, Value: "Red"}, {Name: AttrShade, Value: "#45"}}},
		{"Cream 100g Vanilla", "Cream", []model.VariantAttribute{{Name: AttrSize, Value: "100g"}, {Name: AttrScent, Value: "Vanilla"}}},
		{"Sunscreen SPF 50 (Tinted)", "Sunscreen", []model.VariantAttribute{{Name: AttrStrength, Value: "SPF 50"}, {Name: AttrOption, Value: "Tinted"}}},
		{"Wipes 12 Pack", "Wipes", []model.VariantAttribute{{Name: AttrPack, Value: "12 Pack"}}},
		{"Lip Gloss Rose Gold", "Lip", []model.VariantAttribute{{Name: AttrFinish, Value: "Gloss"}, {Name: AttrScent, Value: "Rose"}, {Name: AttrColor, Value: "Gold"}}},
		{"Men's Deodorant 1.7 fl oz", "Deodorant", []model.VariantAttribute{{Name: AttrGender, Value: "Men's"}, {Name: AttrSize, Value: "1.7 fl oz"}}},
		{"T-Shirt Navy Blue XL", "T Shirt", []model.VariantAttribute{{Name: AttrColor, Value: "Navy Blue"}, {Name: AttrSize, Value: "XL"}}},
		{"L'Oreal Elvive Total Repair 5", "Loreal Elvive Total Repair 5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := g.Canonicalize(tt.name)
			assert.False(t, c.Fallback)
			assert.Equal(t, tt.base, c.BaseName)
			assert.Equal(t, tt.attrs, c.Attributes)
		})
	}
}

func TestGroup_CustomClassifier(t *testing.T) {
	l := NewLexicon()
	l.AddKeywords("Edition", "limited")
	g := New(l)

	groups := g.Group([]model.VariantRow{
		row("Acme", "1", "Perfume Limited"),
		row("Acme", "2", "Perfume Black"),
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "Perfume", groups[0].BaseName)
	assert.Equal(t, []model.VariantAttribute{{Name: "Edition", Value: "Limited"}}, groups[0].Variants[0].Attributes)
	assert.Equal(t, "Perfume Black", groups[1].BaseName)
}

func upcs(g *model.ProductGroup) []string {
	out := make([]string, len(g.Variants))
	for i, v := range g.Variants {
		out[i] = v.Row.UPC
	}
	return out
}

func sampleRows() []model.VariantRow {
	names := []string{
		"Shampoo Black 50ml", "Conditioner 250ml", "Shampoo Red 50ml",
		"Lipstick Matte #12", "Lipstick Glossy #14", "Face Cream",
		"Body Lotion Vanilla 400ml", "Body Lotion Coconut 400ml", "Deodorant Men",
	}
	var rows []model.VariantRow
	for i, n := range names {
		brand := "Acme"
		if i%3 == 0 {
			brand = "Globex"
		}
		rows = append(rows, row(brand, fmt.Sprintf("U%02d", i), n))
	}
	return rows
}
