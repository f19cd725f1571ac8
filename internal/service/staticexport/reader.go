package staticexport

import (
	"encoding/json"
	"os"
	"strconv"

	"copperwatch/internal/domain/models"
)

// FileName is the curated series bundle dropped into the data directory at
// build time. When present it outranks every network source.
const FileName = "selected_series_bundle.json"

// Series aliases inside the export.
const (
	AliasWarrantDaily      = "warrant_copper_daily_t"
	AliasOffWarrantMonthly = "offwarrant_copper_monthly_t"
	AliasReferencePrice    = "japan_tatene_jpy_t"
	AliasCopperUSD         = "lme_copper_cash_usd_t"
	AliasUSDJPY            = "america_dexjpus"
	AliasUSDCNY            = "america_dexchus"
)

// indicatorAliases maps bundle indicator ids to export aliases.
var indicatorAliases = map[string]string{
	"lme_copper_usd": AliasCopperUSD,
	"usd_jpy":        AliasUSDJPY,
	"usd_cny":        AliasUSDCNY,
}

type point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type bundle struct {
	GeneratedAt string             `json:"generated_at"`
	Series      map[string][]point `json:"series"`
}

// Reader loads the curated static export. Every method degrades to an empty
// result when the file is absent or malformed.
type Reader struct {
	path string
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

func (r *Reader) read() *bundle {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

// DaySeries returns the date-ascending daily points for an alias.
func (r *Reader) DaySeries(alias string) []models.DayPoint {
	b := r.read()
	if b == nil {
		return nil
	}
	pts := b.Series[alias]
	out := make([]models.DayPoint, 0, len(pts))
	for _, p := range pts {
		if len(p.Date) < 10 {
			continue
		}
		out = append(out, models.DayPoint{Date: p.Date[:10], Value: p.Value})
	}
	sortDayPoints(out)
	return out
}

// MonthSeries returns month-ascending points for an alias, with months keyed
// YYYY_MM in archive-file form.
func (r *Reader) MonthSeries(alias string) []models.MonthPoint {
	b := r.read()
	if b == nil {
		return nil
	}
	pts := b.Series[alias]
	out := make([]models.MonthPoint, 0, len(pts))
	for _, p := range pts {
		if len(p.Date) < 7 {
			continue
		}
		month := p.Date[:4] + "_" + p.Date[5:7]
		out = append(out, models.MonthPoint{Month: month, Value: p.Value})
	}
	sortMonthPoints(out)
	return out
}

// RecentIndicatorValues returns up to limit newest-first indicator records
// for a bundle indicator id backed by the export. Unknown ids yield nil.
func (r *Reader) RecentIndicatorValues(indicatorID string, limit int) []models.Indicator {
	alias, ok := indicatorAliases[indicatorID]
	if !ok {
		return nil
	}
	b := r.read()
	if b == nil {
		return nil
	}
	pts := b.Series[alias]
	if len(pts) == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}
	if len(pts) > limit {
		pts = pts[len(pts)-limit:]
	}

	def := exportDefaults(indicatorID)
	out := make([]models.Indicator, 0, len(pts))
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		out = append(out, models.Indicator{
			ID:          indicatorID,
			Name:        def.name,
			Value:       formatValue(p.Value),
			Date:        p.Date,
			LastUpdated: b.GeneratedAt,
			Units:       def.units,
			Frequency:   def.frequency,
			Source:      models.SourceCSV,
		})
	}
	return out
}

type defaults struct {
	name      string
	units     string
	frequency string
}

func exportDefaults(indicatorID string) defaults {
	switch indicatorID {
	case "lme_copper_usd":
		return defaults{name: "LME銅", units: "USD/mt", frequency: models.FrequencyDaily}
	case "usd_jpy":
		return defaults{name: "USD/JPY 為替レート", units: "JPY/USD", frequency: models.FrequencyDaily}
	case "usd_cny":
		return defaults{name: "USD/CNY 為替レート", units: "CNY/USD", frequency: models.FrequencyDaily}
	default:
		return defaults{name: indicatorID}
	}
}

func formatValue(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortDayPoints(pts []models.DayPoint) {
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && pts[j].Date < pts[j-1].Date; j-- {
			pts[j], pts[j-1] = pts[j-1], pts[j]
		}
	}
}

func sortMonthPoints(pts []models.MonthPoint) {
	for i := 1; i < len(pts); i++ {
		for j := i; j > 0 && pts[j].Month < pts[j-1].Month; j-- {
			pts[j], pts[j-1] = pts[j-1], pts[j]
		}
	}
}
