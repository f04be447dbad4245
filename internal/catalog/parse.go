package catalog

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
)

// UnknownBrand replaces an empty brand cell.
const UnknownBrand = "Unknown"

type column int

const (
	colBrand column = iota
	colUPC
	colName
	colQty
	colPrice
	colTax
	colVAT
	colTotal
	numColumns
)

// columnAliases maps normalized header text to a column. Headers are
// lower-cased with runs of whitespace collapsed before lookup.
var columnAliases = map[string]column{
	"pim | brand":    colBrand,
	"brand":          colBrand,
	"upc code":       colUPC,
	"upc":            colUPC,
	"name":           colName,
	"product name":   colName,
	"qty":            colQty,
	"quantity":       colQty,
	"price":          colPrice,
	"tax":            colTax,
	"vat%":           colVAT,
	"vat %":          colVAT,
	"total with vat": colTotal,
}

var requiredColumns = []column{colBrand, colUPC, colName, colQty, colPrice}

var columnNames = [numColumns]string{"PIM | Brand", "UPC Code", "Name", "qty", "PRICE", "TAX", "VAT%", "Total with VAT"}

// Stats counts what happened to each input row.
type Stats struct {
	Encoding          string `json:"encoding"`
	RowsRead          int    `json:"rows_read"`
	Valid             int    `json:"valid"`
	SkippedDuplicates int    `json:"skipped_duplicates"`
	SkippedIncomplete int    `json:"skipped_incomplete"`
	ParseErrors       int    `json:"parse_errors"`
}

// Skipped is the number of rows that did not produce a variant.
func (s Stats) Skipped() int {
	return s.SkippedDuplicates + s.SkippedIncomplete + s.ParseErrors
}

// Result is a parsed catalog.
type Result struct {
	Rows  []model.VariantRow
	Stats Stats
}

// ParseFile reads and parses a catalog file. A missing file, an unreadable
// format or missing required columns are errors; bad rows are only counted.
func ParseFile(path string) (*Result, error) {
	records, enc, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	res, err := ParseRecords(records)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	res.Stats.Encoding = enc

	zap.L().Info("catalog: parsed input",
		zap.String("path", path),
		zap.String("encoding", enc),
		zap.Int("rows_read", res.Stats.RowsRead),
		zap.Int("valid", res.Stats.Valid),
		zap.Int("skipped_duplicates", res.Stats.SkippedDuplicates),
		zap.Int("skipped_incomplete", res.Stats.SkippedIncomplete),
		zap.Int("parse_errors", res.Stats.ParseErrors),
	)
	return res, nil
}

// ParseRecords parses a header row followed by data rows. Blank rows are
// ignored. The first occurrence of a UPC wins.
func ParseRecords(records [][]string) (*Result, error) {
	if len(records) == 0 {
		return nil, eris.New("catalog: empty input")
	}
	idx, err := mapHeader(records[0])
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seen := make(map[string]bool)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		res.Stats.RowsRead++
		line := i + 2

		get := func(c column) string {
			if idx[c] < 0 || idx[c] >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx[c]])
		}

		upc, name := get(colUPC), get(colName)
		if upc == "" || name == "" {
			res.Stats.SkippedIncomplete++
			zap.L().Debug("catalog: incomplete row", zap.Int("line", line))
			continue
		}
		if seen[upc] {
			res.Stats.SkippedDuplicates++
			zap.L().Debug("catalog: duplicate upc", zap.Int("line", line), zap.String("upc", upc))
			continue
		}
		seen[upc] = true

		brand := get(colBrand)
		if brand == "" {
			brand = UnknownBrand
		}
		qty := int(parseNumber(get(colQty), 1))
		if qty <= 0 {
			qty = 1
		}
		price := parseNumber(get(colPrice), 0)
		if price < 0 {
			zap.L().Warn("catalog: negative price, using 0", zap.Int("line", line), zap.String("upc", upc))
			price = 0
		}

		row, err := model.NewVariantRow(brand, upc, name, qty, price)
		if err != nil {
			res.Stats.ParseErrors++
			zap.L().Warn("catalog: invalid row", zap.Int("line", line), zap.Error(err))
			continue
		}
		row.Tax = parseNumber(get(colTax), 0)
		row.VATPercentage = parseNumber(strings.TrimSuffix(get(colVAT), "%"), 0)
		row.TotalWithVAT = parseNumber(get(colTotal), 0)

		res.Rows = append(res.Rows, row)
		res.Stats.Valid++
	}
	return res, nil
}

func mapHeader(header []string) ([numColumns]int, error) {
	var idx [numColumns]int
	for i := range idx {
		idx[i] = -1
	}
	for i, h := range header {
		key := strings.ToLower(strings.Join(strings.Fields(strings.TrimPrefix(h, "\ufeff")), " "))
		if c, ok := columnAliases[key]; ok && idx[c] < 0 {
			idx[c] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if idx[c] < 0 {
			missing = append(missing, columnNames[c])
		}
	}
	if len(missing) > 0 {
		return idx, eris.Errorf("catalog: missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

// parseNumber parses s as a float, ignoring thousands separators and a
// currency prefix. It returns def when s is empty or not a number.
func parseNumber(s string, def float64) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimLeft(s, "$€£ ")
	if s == "" || strings.EqualFold(s, "nan") {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
