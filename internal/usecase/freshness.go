package usecase

import (
	"strings"
	"time"

	"copperwatch/internal/domain/models"
	"copperwatch/pkg/util"
)

// Horizon is the analysis time frame staleness is judged against. Wider
// horizons tolerate older observations.
type Horizon string

const (
	HorizonShort  Horizon = "short"  // about a week of context
	HorizonMedium Horizon = "medium" // about a month
	HorizonLong   Horizon = "long"   // a quarter or more
)

// Maximum indicator age in days by (frequency class, horizon). The long
// column carries the thresholds the pipeline has always shipped with;
// treat all of them as product constants, not tunables.
var freshnessDays = map[string]map[Horizon]int{
	"daily":     {HorizonShort: 10, HorizonMedium: 20, HorizonLong: 45},
	"weekly":    {HorizonShort: 21, HorizonMedium: 40, HorizonLong: 60},
	"monthly":   {HorizonShort: 45, HorizonMedium: 90, HorizonLong: 140},
	"quarterly": {HorizonShort: 120, HorizonMedium: 190, HorizonLong: 260},
	"default":   {HorizonShort: 60, HorizonMedium: 120, HorizonLong: 180},
}

// FreshnessFilter classifies indicators as fresh or stale by observation
// age. Pure: no side effects, deterministic for a fixed clock.
type FreshnessFilter struct {
	now func() time.Time
}

func NewFreshnessFilter() *FreshnessFilter {
	return &FreshnessFilter{now: time.Now}
}

// IsFresh reports whether the indicator's observation date is recent enough
// for the horizon. Unparsable dates are never fresh. The threshold itself is
// inclusive: an indicator aged exactly at the limit still counts as fresh.
func (f *FreshnessFilter) IsFresh(ind models.Indicator, h Horizon) bool {
	age := util.DaysSince(ind.Date, f.now())
	if age < 0 {
		return false
	}
	return age <= thresholdFor(ind.Frequency, h)
}

// Filter returns only the fresh indicators, preserving order.
func (f *FreshnessFilter) Filter(list []models.Indicator, h Horizon) []models.Indicator {
	out := make([]models.Indicator, 0, len(list))
	for _, ind := range list {
		if f.IsFresh(ind, h) {
			out = append(out, ind)
		}
	}
	return out
}

// thresholdFor maps a provider frequency string to its age limit. Provider
// strings carry qualifiers ("Monthly, Seasonally Adjusted"), so matching is
// substring-based.
func thresholdFor(frequency string, h Horizon) int {
	freq := strings.ToLower(frequency)
	var class string
	switch {
	case strings.Contains(freq, "daily"):
		class = "daily"
	case strings.Contains(freq, "weekly"):
		class = "weekly"
	case strings.Contains(freq, "monthly"):
		class = "monthly"
	case strings.Contains(freq, "quarter"):
		class = "quarterly"
	default:
		class = "default"
	}
	row := freshnessDays[class]
	if v, ok := row[h]; ok {
		return v
	}
	return row[HorizonLong]
}
