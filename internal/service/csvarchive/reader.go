package csvarchive

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"copperwatch/internal/domain/models"
)

// seriesDefaults carries the display metadata attached to indicators read
// from the archive.
type seriesDefaults struct {
	Name      string
	Units     string
	Frequency string
}

var knownSeries = map[string]seriesDefaults{
	"lme_copper_usd": {Name: "LME銅", Units: "USD/mt", Frequency: models.FrequencyDaily},
	"usd_jpy":        {Name: "USD/JPY 為替レート", Units: "JPY/USD", Frequency: models.FrequencyDaily},
	"usd_cny":        {Name: "USD/CNY 為替レート", Units: "CNY/USD", Frequency: models.FrequencyDaily},
}

// Reader performs point-in-time lookups over year-partitioned CSV archives:
// one file per series per year named <series>_<year>.csv with a header row
// and date,value columns. Historical coverage is sparse, so a missing file
// is an expected outcome, not an error.
type Reader struct {
	dir string
}

func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

type row struct {
	date  string
	value string
}

// ReadAtOrBefore returns the indicator for the newest row at or before
// targetDate (YYYY-MM-DD). When the target year's file has no qualifying row
// the prior year's file is consulted. The nearest earlier non-empty row
// supplies the change-percent denominator. Returns nil when no qualifying
// row exists anywhere.
func (r *Reader) ReadAtOrBefore(seriesID, targetDate string) *models.Indicator {
	if len(targetDate) < 4 {
		return nil
	}
	year := targetDate[:4]

	rows := r.load(seriesID, year)
	idx := chooseAtOrBefore(rows, targetDate)
	if idx < 0 {
		// Early-January targets usually land in the prior year's file.
		rows = r.load(seriesID, prevYear(year))
		idx = chooseAtOrBefore(rows, targetDate)
		if idx < 0 {
			return nil
		}
	}

	chosen := rows[idx]
	prev := prevNonEmpty(rows, idx-1)
	if prev == nil {
		// The chosen row may be the first of its year; look one year back.
		older := r.load(seriesID, prevYear(chosen.date[:4]))
		prev = prevNonEmpty(older, len(older)-1)
	}

	def, ok := knownSeries[seriesID]
	if !ok {
		def = seriesDefaults{Name: seriesID}
	}
	ind := &models.Indicator{
		ID:          seriesID,
		Name:        def.Name,
		Value:       chosen.value,
		Date:        chosen.date,
		LastUpdated: chosen.date,
		Units:       def.Units,
		Frequency:   def.Frequency,
		Source:      models.SourceCSV,
	}
	if prev != nil {
		ind.ChangePercent = models.FormatChangePercent(chosen.value, prev.value)
	}
	return ind
}

// load reads and sorts one year file. Malformed rows are skipped. Any read
// failure yields an empty slice.
func (r *Reader) load(seriesID, year string) []row {
	path := filepath.Join(r.dir, fmt.Sprintf("%s_%s.csv", seriesID, year))
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil || len(records) < 2 {
		return nil
	}

	// Header row first; exported files may carry a UTF-8 BOM.
	rows := make([]row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			continue
		}
		date := strings.TrimSpace(strings.TrimPrefix(rec[0], "\uFEFF"))
		if len(date) < 10 {
			continue
		}
		rows = append(rows, row{date: date[:10], value: strings.TrimSpace(rec[1])})
	}
	sortRows(rows)
	return rows
}

func sortRows(rows []row) {
	// Insertion sort keeps already-ordered archives cheap.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].date < rows[j-1].date; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

// chooseAtOrBefore returns the index of the newest row with date <= target
// and a usable value, or -1. Rows must be date-ascending.
func chooseAtOrBefore(rows []row, target string) int {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].date > target {
			continue
		}
		if rows[i].value == "" || rows[i].value == "." {
			continue
		}
		return i
	}
	return -1
}

// prevNonEmpty scans backward from idx for a row with a usable value.
func prevNonEmpty(rows []row, idx int) *row {
	for i := idx; i >= 0; i-- {
		if rows[i].value != "" && rows[i].value != "." {
			return &rows[i]
		}
	}
	return nil
}

func prevYear(year string) string {
	var y int
	if _, err := fmt.Sscanf(year, "%d", &y); err != nil {
		return ""
	}
	return fmt.Sprintf("%d", y-1)
}
