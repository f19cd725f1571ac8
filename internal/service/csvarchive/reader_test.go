package csvarchive

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestReadAtOrBeforePicksPointInTime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lme_copper_usd_2024.csv",
		"date,value\n2024-03-01,9000\n2024-03-05,9100\n2024-03-12,9300\n")

	r := NewReader(dir)
	got := r.ReadAtOrBefore("lme_copper_usd", "2024-03-10")
	if got == nil {
		t.Fatal("expected indicator")
	}
	if got.Date != "2024-03-05" || got.Value != "9100" {
		t.Fatalf("wrong row chosen: %+v", got)
	}
	if got.ChangePercent != "+1.11%" {
		t.Fatalf("wrong change percent: %q", got.ChangePercent)
	}
	if got.Source != "CSV" || got.Units != "USD/mt" {
		t.Fatalf("metadata wrong: %+v", got)
	}
}

func TestReadAtOrBeforeSkipsEmptyValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "usd_jpy_2024.csv",
		"date,value\n2024-05-01,150\n2024-05-02,\n2024-05-03,.\n")

	r := NewReader(dir)
	got := r.ReadAtOrBefore("usd_jpy", "2024-05-03")
	if got == nil {
		t.Fatal("expected indicator")
	}
	if got.Date != "2024-05-01" || got.Value != "150" {
		t.Fatalf("empty rows should be skipped: %+v", got)
	}
}

func TestReadAtOrBeforePriorYearFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "usd_cny_2023.csv",
		"date,value\n2023-12-20,7.10\n2023-12-28,7.15\n")
	writeFile(t, dir, "usd_cny_2024.csv",
		"date,value\n2024-02-01,7.20\n")

	r := NewReader(dir)
	got := r.ReadAtOrBefore("usd_cny", "2024-01-05")
	if got == nil {
		t.Fatal("expected prior-year indicator")
	}
	if got.Date != "2023-12-28" || got.Value != "7.15" {
		t.Fatalf("prior-year fallback wrong: %+v", got)
	}
	if got.ChangePercent != "+0.70%" {
		t.Fatalf("wrong change percent: %q", got.ChangePercent)
	}
}

func TestReadAtOrBeforePrevFromPriorYear(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "usd_jpy_2023.csv",
		"date,value\n2023-12-29,141\n")
	writeFile(t, dir, "usd_jpy_2024.csv",
		"date,value\n2024-01-04,150\n")

	r := NewReader(dir)
	got := r.ReadAtOrBefore("usd_jpy", "2024-01-10")
	if got == nil {
		t.Fatal("expected indicator")
	}
	if got.Value != "150" {
		t.Fatalf("wrong row: %+v", got)
	}
	// Denominator comes from the last row of the previous year's file.
	if got.ChangePercent != "+6.38%" {
		t.Fatalf("wrong change percent: %q", got.ChangePercent)
	}
}

func TestReadAtOrBeforeBOMHeader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lme_copper_usd_2024.csv",
		"\uFEFFdate,value\n2024-06-03,9500\n")

	r := NewReader(dir)
	got := r.ReadAtOrBefore("lme_copper_usd", "2024-06-30")
	if got == nil || got.Value != "9500" {
		t.Fatalf("BOM header should not break parsing: %+v", got)
	}
}

func TestReadAtOrBeforeMissingFile(t *testing.T) {
	r := NewReader(t.TempDir())
	if got := r.ReadAtOrBefore("lme_copper_usd", "2024-06-30"); got != nil {
		t.Fatalf("missing file should yield nil, got %+v", got)
	}
}

func TestReadAtOrBeforeNoQualifyingRow(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "usd_jpy_2024.csv",
		"date,value\n2024-09-01,148\n")

	r := NewReader(dir)
	if got := r.ReadAtOrBefore("usd_jpy", "2024-08-31"); got != nil {
		t.Fatalf("target before all rows should yield nil, got %+v", got)
	}
}
