package series

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

var (
	baseColumns = []string{"ID", "NAME", "LAT", "LONG", "ELEVATION"}
	linkColumns = []string{"CloseTRMMIndex", "TRMMlONG", "TRMMlAT", "TRMMrow", "TRMMcol"}
)

// WriteMetadata writes the station table for locs. withLinks adds the
// historical-grid link columns used by point precipitation.
func WriteMetadata(path string, locs []domain.Location, withLinks bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	w := csv.NewWriter(f)

	header := baseColumns
	if withLinks {
		header = append(append([]string{}, baseColumns...), linkColumns...)
	}
	_ = w.Write(header)
	for _, l := range locs {
		row := []string{
			strconv.Itoa(l.ID),
			l.Name,
			formatCoord(l.Lat),
			formatCoord(l.Lon),
			formatCoord(l.Elevation),
		}
		if withLinks {
			if l.Link == nil {
				_ = f.Close()
				return fmt.Errorf("location %s has no grid link", l.Name)
			}
			row = append(row,
				strconv.Itoa(l.Link.Index),
				formatCoord(l.Link.Lon),
				formatCoord(l.Link.Lat),
				strconv.Itoa(l.Link.Row),
				strconv.Itoa(l.Link.Col),
			)
		}
		_ = w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	return f.Close()
}

// ReadMetadata parses a station table written by WriteMetadata.
func ReadMetadata(path string) ([]domain.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("metadata %s is empty", path)
	}
	header := records[0]
	if len(header) < len(baseColumns) {
		return nil, fmt.Errorf("metadata header has %d columns", len(header))
	}
	for i, col := range baseColumns {
		if header[i] != col {
			return nil, fmt.Errorf("metadata column %d is %q, want %q", i, header[i], col)
		}
	}
	withLinks := len(header) == len(baseColumns)+len(linkColumns)

	locs := make([]domain.Location, 0, len(records)-1)
	for n, rec := range records[1:] {
		var p rowParser
		l := domain.Location{
			ID:        p.int(rec[0]),
			Name:      rec[1],
			Lat:       p.float(rec[2]),
			Lon:       p.float(rec[3]),
			Elevation: p.float(rec[4]),
		}
		if withLinks {
			l.Link = &domain.GridLink{
				Index: p.int(rec[5]),
				Lon:   p.float(rec[6]),
				Lat:   p.float(rec[7]),
				Row:   p.int(rec[8]),
				Col:   p.int(rec[9]),
			}
		}
		if p.err != nil {
			return nil, fmt.Errorf("metadata row %d: %w", n+2, p.err)
		}
		locs = append(locs, l)
	}
	return locs, nil
}

// rowParser keeps the first conversion error of a row.
type rowParser struct{ err error }

func (p *rowParser) int(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *rowParser) float(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
