package usecase

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"copperwatch/internal/domain/models"
	"copperwatch/internal/service/staticexport"
	"copperwatch/pkg/logger"
)

// SeriesExport is the slice of the static export the aggregator consumes.
type SeriesExport interface {
	DaySeries(alias string) []models.DayPoint
	MonthSeries(alias string) []models.MonthPoint
}

var (
	warrantFileRe   = regexp.MustCompile(`^warrant_\d{4}_\d{2}\.csv$`)
	offFileRe       = regexp.MustCompile(`^offwarrant_\d{4}_\d{2}\.csv$`)
	referenceFileRe = regexp.MustCompile(`^copper_tate_ne.*\.csv$`)
)

const missingDataDirMessage = "データフォルダが見つかりません。"

// WarrantAggregator builds the inventory dashboard from the local archives:
// daily registered-inventory CSVs, monthly unregistered-inventory CSVs and
// the domestic reference-price CSV. When the curated static export is
// present its series take precedence over re-parsing the raw files.
type WarrantAggregator struct {
	dataDir string
	export  SeriesExport
	// ceiling guards monthly dedup: a conflicting value above it is taken
	// for an annual or cumulative figure and the lower value wins. Zero
	// disables the guard (first value wins).
	ceiling float64
	log     *logger.Logger
}

func NewWarrantAggregator(dataDir string, export SeriesExport, ceiling float64, log *logger.Logger) *WarrantAggregator {
	return &WarrantAggregator{dataDir: dataDir, export: export, ceiling: ceiling, log: log}
}

// Build aggregates every available source into one dashboard. Missing or
// unreadable inputs degrade to empty sections; the only hard failure is a
// missing data directory.
func (a *WarrantAggregator) Build() *models.WarrantDashboard {
	entries, err := os.ReadDir(a.dataDir)
	if err != nil {
		return models.EmptyWarrantDashboard(missingDataDirMessage)
	}

	var warrantFiles, offFiles, refFiles []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case warrantFileRe.MatchString(name):
			warrantFiles = append(warrantFiles, name)
		case offFileRe.MatchString(name):
			offFiles = append(offFiles, name)
		case referenceFileRe.MatchString(name):
			refFiles = append(refFiles, name)
		}
	}
	sort.Strings(warrantFiles)
	sort.Strings(offFiles)
	sort.Strings(refFiles)

	daySeries, offSeries, refSeries := a.loadSeries(warrantFiles, offFiles, refFiles)
	offSeries = dedupMonths(offSeries, a.ceiling)

	d := &models.WarrantDashboard{}
	d.ReferencePrice = priceStats(refSeries)
	d.Warrant = dailyStats(daySeries)
	d.OffWarrant = monthlyStats(offSeries)

	if d.Warrant.Latest != nil && d.OffWarrant.Latest != nil {
		total := d.Warrant.Latest.Value + d.OffWarrant.Latest.Value
		if total > 0 {
			r := d.Warrant.Latest.Value / total
			d.Ratio = &r
		}
	}

	d.Alerts = a.alerts(d)
	d.Charts = models.WarrantCharts{
		WarrantDaily:      tailDays(daySeries, 30),
		OffWarrantMonthly: tailMonths(offSeries, 12),
		ReferenceDaily:    tailDays(refSeries, 365),
	}
	d.Breakdown = models.WarrantBreak{
		WarrantByLocation: a.warrantByLocation(warrantFiles),
		OffWarrantByPoint: a.offWarrantByPoint(offFiles),
	}
	return d
}

// loadSeries prefers the curated export and falls back to re-parsing the raw
// archives when the export has nothing.
func (a *WarrantAggregator) loadSeries(warrantFiles, offFiles, refFiles []string) (day []models.DayPoint, off []models.MonthPoint, ref []models.DayPoint) {
	if a.export != nil {
		day = a.export.DaySeries(staticexport.AliasWarrantDaily)
		off = a.export.MonthSeries(staticexport.AliasOffWarrantMonthly)
		ref = a.export.DaySeries(staticexport.AliasReferencePrice)
		if len(day) > 0 || len(off) > 0 || len(ref) > 0 {
			return day, off, ref
		}
	}

	dayTotals := map[string]float64{}
	for _, f := range warrantFiles {
		for _, row := range a.readRows(f) {
			if strings.TrimSpace(row["Metal"]) != "Copper" {
				continue
			}
			date := row["Date"]
			if len(date) > 10 {
				date = date[:10]
			}
			if date == "" {
				continue
			}
			dayTotals[date] += toNum(row["Closing Stock"])
		}
	}
	day = make([]models.DayPoint, 0, len(dayTotals))
	for date, value := range dayTotals {
		day = append(day, models.DayPoint{Date: date, Value: value})
	}
	sort.Slice(day, func(i, j int) bool { return day[i].Date < day[j].Date })

	for _, f := range offFiles {
		month := strings.TrimSuffix(strings.TrimPrefix(f, "offwarrant_"), ".csv")
		var total float64
		for _, row := range a.readRows(f) {
			total += toNum(row["CU"])
		}
		off = append(off, models.MonthPoint{Month: month, Value: total})
	}
	sort.Slice(off, func(i, j int) bool { return off[i].Month < off[j].Month })

	if len(refFiles) > 0 {
		for _, row := range a.readRows(refFiles[len(refFiles)-1]) {
			date := row["date"]
			if len(date) > 10 {
				date = date[:10]
			}
			value := toNum(row["price_jpy_per_ton"])
			if date == "" || value == 0 {
				continue
			}
			ref = append(ref, models.DayPoint{Date: date, Value: value})
		}
		sort.Slice(ref, func(i, j int) bool { return ref[i].Date < ref[j].Date })
	}
	return day, off, ref
}

func (a *WarrantAggregator) alerts(d *models.WarrantDashboard) []string {
	var alerts []string
	w := d.Warrant
	if w.Latest != nil && w.MA20 != nil && w.Latest.Value < *w.MA20 {
		alerts = append(alerts, "Warrant銅在庫が20日平均を下回りました（需給緩和シグナル）。")
	}
	if w.Latest != nil && w.MA20 != nil && w.Latest.Value > *w.MA20*1.05 {
		alerts = append(alerts, "Warrant銅在庫が20日平均を5%以上上回りました（需給逼迫シグナル）。")
	}
	if d.Ratio != nil && *d.Ratio < 0.75 {
		alerts = append(alerts, "Warrant比率が75%を下回っています。off-warrant比重の上昇に注意。")
	}
	if w.DiffPct7d != nil && absFloat(*w.DiffPct7d) >= 5 {
		alerts = append(alerts, fmt.Sprintf("Warrant銅在庫の7日変化が%+.2f%%です。", *w.DiffPct7d))
	}
	if d.OffWarrant.DiffPctMoM != nil && *d.OffWarrant.DiffPctMoM >= 20 {
		alerts = append(alerts, fmt.Sprintf("off-warrant銅在庫が前月比+%.2f%%で増加しました。", *d.OffWarrant.DiffPctMoM))
	}
	if len(alerts) == 0 {
		alerts = append(alerts, "重大なアラートはありません。通常監視モードです。")
	}
	return alerts
}

// warrantByLocation groups the newest registered-inventory file by warehouse
// location and returns the top five by value. Zero totals are dropped.
func (a *WarrantAggregator) warrantByLocation(warrantFiles []string) []models.LocationBreakdown {
	if len(warrantFiles) == 0 {
		return []models.LocationBreakdown{}
	}
	totals := map[string]*models.LocationBreakdown{}
	for _, row := range a.readRows(warrantFiles[len(warrantFiles)-1]) {
		if strings.TrimSpace(row["Metal"]) != "Copper" {
			continue
		}
		country := strings.TrimSpace(row["Country/Region"])
		location := strings.TrimSpace(row["Location"])
		key := country + "__" + location
		if totals[key] == nil {
			totals[key] = &models.LocationBreakdown{Country: country, Location: location}
		}
		totals[key].Value += toNum(row["Closing Stock"])
	}
	out := make([]models.LocationBreakdown, 0, len(totals))
	for _, b := range totals {
		if b.Value > 0 {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// offWarrantByPoint groups the newest unregistered-inventory file by delivery
// point and returns the top five by value.
func (a *WarrantAggregator) offWarrantByPoint(offFiles []string) []models.PointBreakdown {
	if len(offFiles) == 0 {
		return []models.PointBreakdown{}
	}
	totals := map[string]*models.PointBreakdown{}
	for _, row := range a.readRows(offFiles[len(offFiles)-1]) {
		region := strings.TrimSpace(row["REGION"])
		country := strings.TrimSpace(row["COUNTRY/REGION"])
		point := strings.TrimSpace(row["DELIVERY POINT"])
		value := toNum(row["CU"])
		if value == 0 {
			continue
		}
		key := region + "__" + country + "__" + point
		if totals[key] == nil {
			totals[key] = &models.PointBreakdown{Region: region, Country: country, Point: point}
		}
		totals[key].Value += value
	}
	out := make([]models.PointBreakdown, 0, len(totals))
	for _, b := range totals {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// readRows parses one archive CSV into header-keyed rows. Unreadable files
// yield no rows.
func (a *WarrantAggregator) readRows(name string) []map[string]string {
	f, err := os.Open(filepath.Join(a.dataDir, name))
	if err != nil {
		if a.log != nil {
			a.log.Warn("archive file unreadable", logger.String("file", name), logger.Error(err))
		}
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		return nil
	}
	headers := records[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := map[string]string{}
		for i, h := range headers {
			if i < len(rec) {
				row[strings.TrimSpace(h)] = strings.TrimSpace(rec[i])
			} else {
				row[strings.TrimSpace(h)] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func dailyStats(day []models.DayPoint) models.DailyStats {
	var s models.DailyStats
	if len(day) >= 1 {
		s.Latest = &day[len(day)-1]
	}
	if len(day) >= 2 {
		s.Prev = &day[len(day)-2]
		s.DiffPct1d = models.PercentChange(s.Latest.Value, s.Prev.Value)
	}
	if len(day) >= 8 {
		s.DiffPct7d = models.PercentChange(s.Latest.Value, day[len(day)-8].Value)
	}

	window := day
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	values := make([]float64, len(window))
	for i, p := range window {
		values[i] = p.Value
	}
	s.MA20 = models.Mean(values)

	// Monthly view of the daily series: the last observation in each month
	// stands for the month.
	monthly := map[string]float64{}
	for _, p := range day {
		if len(p.Date) < 7 {
			continue
		}
		monthly[p.Date[:4]+"_"+p.Date[5:7]] = p.Value
	}
	months := make([]models.MonthPoint, 0, len(monthly))
	for m, v := range monthly {
		months = append(months, models.MonthPoint{Month: m, Value: v})
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Month < months[j].Month })
	if len(months) >= 1 {
		s.MonthlyLatest = &months[len(months)-1]
	}
	if len(months) >= 2 {
		s.MonthlyPrev = &months[len(months)-2]
		s.DiffPctMoM = models.PercentChange(s.MonthlyLatest.Value, s.MonthlyPrev.Value)
	}
	return s
}

func monthlyStats(off []models.MonthPoint) models.MonthlyStats {
	var s models.MonthlyStats
	if len(off) >= 1 {
		s.Latest = &off[len(off)-1]
	}
	if len(off) >= 2 {
		s.Prev = &off[len(off)-2]
		s.DiffPctMoM = models.PercentChange(s.Latest.Value, s.Prev.Value)
	}
	return s
}

func priceStats(ref []models.DayPoint) models.PriceStats {
	var s models.PriceStats
	if len(ref) >= 1 {
		s.Latest = &ref[len(ref)-1]
	}
	if len(ref) >= 2 {
		s.Prev = &ref[len(ref)-2]
		s.DiffPct1d = models.PercentChange(s.Latest.Value, s.Prev.Value)
	}
	return s
}

// dedupMonths collapses duplicate month entries. Raw monthly archives
// occasionally carry an annual or cumulative figure next to the monthly one;
// with a ceiling the lower of the conflicting values wins, without one the
// first wins.
func dedupMonths(off []models.MonthPoint, ceiling float64) []models.MonthPoint {
	if len(off) < 2 {
		return off
	}
	chosen := map[string]float64{}
	order := make([]string, 0, len(off))
	for _, p := range off {
		v, seen := chosen[p.Month]
		if !seen {
			chosen[p.Month] = p.Value
			order = append(order, p.Month)
			continue
		}
		if ceiling > 0 && p.Value < v {
			chosen[p.Month] = p.Value
		}
	}
	out := make([]models.MonthPoint, 0, len(order))
	for _, m := range order {
		out = append(out, models.MonthPoint{Month: m, Value: chosen[m]})
	}
	return out
}

func tailDays(pts []models.DayPoint, n int) []models.DayPoint {
	if len(pts) > n {
		pts = pts[len(pts)-n:]
	}
	out := make([]models.DayPoint, len(pts))
	copy(out, pts)
	return out
}

func tailMonths(pts []models.MonthPoint, n int) []models.MonthPoint {
	if len(pts) > n {
		pts = pts[len(pts)-n:]
	}
	out := make([]models.MonthPoint, len(pts))
	copy(out, pts)
	return out
}

func toNum(raw string) float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return n
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
