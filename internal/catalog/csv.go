package catalog

import (
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

const listSeparator = "|"

type csvRow struct {
	ID          string `csv:"id"`
	Name        string `csv:"name"`
	Category    string `csv:"category"`
	Description string `csv:"description"`
	Image       string `csv:"image"`
	Features    string `csv:"features"`
	Images      string `csv:"images"`
}

// WriteCSV exports products as a spreadsheet-friendly table. List fields are
// joined with "|".
func WriteCSV(w io.Writer, products []Product) error {
	rows := make([]*csvRow, 0, len(products))
	for _, p := range products {
		rows = append(rows, &csvRow{
			ID:          p.ID,
			Name:        p.Name,
			Category:    p.Category,
			Description: p.Description,
			Image:       p.Image,
			Features:    strings.Join(p.Features, listSeparator),
			Images:      strings.Join(p.Images, listSeparator),
		})
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return errors.Wrap(err, "write catalog csv")
	}
	return nil
}

func ReadCSV(r io.Reader) ([]Product, error) {
	var rows []*csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "read catalog csv")
	}
	products := make([]Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, Normalize(Product{
			ID:          strings.TrimSpace(row.ID),
			Name:        row.Name,
			Category:    row.Category,
			Description: row.Description,
			Image:       row.Image,
			Features:    splitList(row.Features),
			Images:      splitList(row.Images),
		}))
	}
	if err := ValidateProducts(products); err != nil {
		return nil, err
	}
	return products, nil
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, listSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
