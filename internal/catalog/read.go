// Package catalog reads supplier catalog exports (CSV or XLSX) into
// validated variant rows.
package catalog

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
)

// Encoding names reported in Stats.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF8BOM = "utf-8-sig"
	EncodingCP1252  = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadFile returns the records of a .csv or .xlsx file, header first, and the
// detected text encoding.
func ReadFile(path string) ([][]string, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err := ReadXLSX(path, 0)
		return records, EncodingUTF8, err
	case ".csv", ".txt", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", eris.Wrapf(err, "catalog: read %s", path)
		}
		return ReadCSV(data)
	default:
		return nil, "", eris.Errorf("catalog: unsupported input format %q", filepath.Ext(path))
	}
}

// ReadCSV decodes data as UTF-8 (with or without BOM), falling back to
// Windows-1252 for legacy exports, and returns its records.
func ReadCSV(data []byte) ([][]string, string, error) {
	text, enc, err := decode(data)
	if err != nil {
		return nil, "", err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, enc, eris.Wrap(err, "catalog: read csv row")
		}
		records = append(records, rec)
	}
	return records, enc, nil
}

func decode(data []byte) (string, string, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return string(data[len(utf8BOM):]), EncodingUTF8BOM, nil
	}
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", eris.Wrap(err, "catalog: decode windows-1252")
	}
	return string(out), EncodingCP1252, nil
}

// ReadXLSX returns the rows of the sheet at index as string records.
func ReadXLSX(path string, index int) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open xlsx")
	}
	if index >= len(f.Sheets) {
		return nil, eris.Errorf("catalog: sheet index %d out of range (file has %d sheets)", index, len(f.Sheets))
	}

	sheet := f.Sheets[index]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			records = append(records, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return records, nil
}
