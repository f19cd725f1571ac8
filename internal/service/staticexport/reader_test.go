package staticexport

import (
	"os"
	"path/filepath"
	"testing"
)

const exportJSON = `{
	"generated_at": "2024-10-01T00:00:00Z",
	"series": {
		"warrant_copper_daily_t": [
			{"date": "2024-09-02", "value": 110000},
			{"date": "2024-09-01", "value": 112000}
		],
		"offwarrant_copper_monthly_t": [
			{"date": "2024-08-01", "value": 40000},
			{"date": "2024-07-01", "value": 38000}
		],
		"america_dexjpus": [
			{"date": "2024-09-01", "value": 146.1},
			{"date": "2024-09-02", "value": 147.2},
			{"date": "2024-09-03", "value": 148.3}
		]
	}
}`

func writeExport(t *testing.T, content string) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return NewReader(path)
}

func TestDaySeriesSorted(t *testing.T) {
	r := writeExport(t, exportJSON)
	got := r.DaySeries(AliasWarrantDaily)
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0].Date != "2024-09-01" || got[1].Date != "2024-09-02" {
		t.Fatalf("not ascending: %+v", got)
	}
}

func TestMonthSeriesKeyForm(t *testing.T) {
	r := writeExport(t, exportJSON)
	got := r.MonthSeries(AliasOffWarrantMonthly)
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0].Month != "2024_07" || got[1].Month != "2024_08" {
		t.Fatalf("month keys wrong: %+v", got)
	}
}

func TestRecentIndicatorValuesNewestFirst(t *testing.T) {
	r := writeExport(t, exportJSON)
	got := r.RecentIndicatorValues("usd_jpy", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Date != "2024-09-03" || got[1].Date != "2024-09-02" {
		t.Fatalf("not newest-first: %+v", got)
	}
	if got[0].LastUpdated != "2024-10-01T00:00:00Z" || got[0].Source != "CSV" {
		t.Fatalf("metadata wrong: %+v", got[0])
	}
}

func TestRecentIndicatorValuesUnknownID(t *testing.T) {
	r := writeExport(t, exportJSON)
	if got := r.RecentIndicatorValues("sp500", 5); got != nil {
		t.Fatalf("unknown id should be nil, got %+v", got)
	}
}

func TestMissingFileDegrades(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), FileName))
	if got := r.DaySeries(AliasWarrantDaily); got != nil {
		t.Fatalf("missing file should be nil, got %+v", got)
	}
	if got := r.RecentIndicatorValues("usd_jpy", 5); got != nil {
		t.Fatalf("missing file should be nil, got %+v", got)
	}
}
