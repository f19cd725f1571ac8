package usecase

import (
	"testing"
	"time"

	"copperwatch/internal/domain/models"
)

func fixedFilter(now time.Time) *FreshnessFilter {
	f := NewFreshnessFilter()
	f.now = func() time.Time { return now }
	return f
}

func TestIsFreshBoundaryInclusive(t *testing.T) {
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	f := fixedFilter(now)

	// Daily under the long horizon: limit is 45 days. Exactly 45 is fresh,
	// 46 is stale.
	at := models.Indicator{Value: "1", Frequency: "Daily", Date: now.AddDate(0, 0, -45).Format("2006-01-02")}
	over := models.Indicator{Value: "1", Frequency: "Daily", Date: now.AddDate(0, 0, -46).Format("2006-01-02")}
	if !f.IsFresh(at, HorizonLong) {
		t.Fatal("age == threshold should be fresh")
	}
	if f.IsFresh(over, HorizonLong) {
		t.Fatal("age == threshold+1 should be stale")
	}
}

func TestIsFreshHorizonsTighten(t *testing.T) {
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	f := fixedFilter(now)

	ind := models.Indicator{Value: "1", Frequency: "Daily", Date: now.AddDate(0, 0, -15).Format("2006-01-02")}
	if f.IsFresh(ind, HorizonShort) {
		t.Fatal("15-day-old daily should be stale under the short horizon")
	}
	if !f.IsFresh(ind, HorizonMedium) {
		t.Fatal("15-day-old daily should be fresh under the medium horizon")
	}
}

func TestIsFreshFrequencyQualifiers(t *testing.T) {
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	f := fixedFilter(now)

	ind := models.Indicator{
		Value:     "1",
		Frequency: "Monthly, Seasonally Adjusted",
		Date:      now.AddDate(0, 0, -100).Format("2006-01-02"),
	}
	if !f.IsFresh(ind, HorizonLong) {
		t.Fatal("qualified monthly frequency should use the monthly row")
	}
}

func TestIsFreshQuarterlyAndDefault(t *testing.T) {
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	f := fixedFilter(now)

	q := models.Indicator{Value: "1", Frequency: "Quarterly", Date: now.AddDate(0, 0, -250).Format("2006-01-02")}
	if !f.IsFresh(q, HorizonLong) {
		t.Fatal("250-day-old quarterly should be fresh under the long horizon")
	}
	rt := models.Indicator{Value: "1", Frequency: "Real-Time", Date: now.AddDate(0, 0, -181).Format("2006-01-02")}
	if f.IsFresh(rt, HorizonLong) {
		t.Fatal("181-day-old unclassified frequency should be stale")
	}
}

func TestIsFreshUnparsableDate(t *testing.T) {
	f := fixedFilter(time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC))
	ind := models.Indicator{Value: "1", Frequency: "Daily", Date: "soon"}
	if f.IsFresh(ind, HorizonLong) {
		t.Fatal("unparsable date is never fresh")
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	f := fixedFilter(now)
	list := []models.Indicator{
		{ID: "a", Value: "1", Frequency: "Daily", Date: now.AddDate(0, 0, -1).Format("2006-01-02")},
		{ID: "b", Value: "1", Frequency: "Daily", Date: now.AddDate(0, 0, -90).Format("2006-01-02")},
		{ID: "c", Value: "1", Frequency: "Daily", Date: now.AddDate(0, 0, -2).Format("2006-01-02")},
	}
	got := f.Filter(list, HorizonLong)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}
