package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifiers as they appear in persisted bundles.
const (
	SourceFRED         = "FRED"
	SourceAlphaVantage = "Alpha Vantage"
	SourceMetalsDev    = "Metals.dev"
	SourceCSV          = "CSV"
)

// Frequency labels reported by providers. Matching is substring-based and
// case-insensitive because FRED frequency strings carry qualifiers
// (e.g. "Monthly, Seasonally Adjusted").
const (
	FrequencyDaily     = "Daily"
	FrequencyWeekly    = "Weekly"
	FrequencyMonthly   = "Monthly"
	FrequencyQuarterly = "Quarterly"
	FrequencyRealTime  = "Real-Time"
)

// Indicator is a single observed data point for a named economic or market
// series. Indicators are immutable once placed in a bundle; a new fetch cycle
// produces new records rather than mutating old ones.
type Indicator struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Value         string `json:"value"`
	Date          string `json:"date"` // observation date, YYYY-MM-DD
	LastUpdated   string `json:"lastUpdated,omitempty"`
	Units         string `json:"units"`
	Frequency     string `json:"frequency"`
	Source        string `json:"source"`
	ChangePercent string `json:"changePercent,omitempty"`
}

// SourceStatus records per-source health for one bundle build.
// Values: ok, fallback, empty, disabled. The "mode" key records how the
// bundle was produced (live, csv, snapshot, cache).
type SourceStatus map[string]string

const (
	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusEmpty    = "empty"
	StatusDisabled = "disabled"
)

const (
	ModeLive     = "live"
	ModeCSV      = "csv"
	ModeSnapshot = "snapshot"
	ModeCache    = "cache"
)

// BundleCacheVersion gates the persisted cache shape. Any mismatch on read
// means the cache is treated as absent, never migrated in place.
const BundleCacheVersion = 3

// EconomyBundle is the unit of caching and persistence: every indicator
// produced by one build cycle plus the cache metadata needed to validate it.
type EconomyBundle struct {
	CacheVersion   int          `json:"cacheVersion,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	CacheDateJst   string       `json:"cacheDateJst,omitempty"` // legacy daily key, kept for old caches
	CacheBucketJst string       `json:"cacheBucketJst,omitempty"`
	SourceStatus   SourceStatus `json:"sourceStatus,omitempty"`
	Fred           []Indicator  `json:"fred"`
	Alpha          []Indicator  `json:"alpha"`
}

// EmptyBundle returns a well-formed bundle with no indicators and every
// source marked empty. This is the terminal fallback: callers always get a
// renderable result, never an error, for "no data available".
func EmptyBundle(bucket string) *EconomyBundle {
	return &EconomyBundle{
		CacheVersion:   BundleCacheVersion,
		UpdatedAt:      time.Now().UTC(),
		CacheBucketJst: bucket,
		SourceStatus: SourceStatus{
			"fred":   StatusEmpty,
			"alpha":  StatusEmpty,
			"metals": StatusEmpty,
			"mode":   ModeLive,
		},
		Fred:  []Indicator{},
		Alpha: []Indicator{},
	}
}

// Find returns the indicator with the given id from the combined fred+alpha
// lists, or nil.
func (b *EconomyBundle) Find(id string) *Indicator {
	for i := range b.Fred {
		if b.Fred[i].ID == id {
			return &b.Fred[i]
		}
	}
	for i := range b.Alpha {
		if b.Alpha[i].ID == id {
			return &b.Alpha[i]
		}
	}
	return nil
}

// All returns fred followed by alpha indicators as one slice.
func (b *EconomyBundle) All() []Indicator {
	out := make([]Indicator, 0, len(b.Fred)+len(b.Alpha))
	out = append(out, b.Fred...)
	out = append(out, b.Alpha...)
	return out
}

// IsNumeric reports whether a raw indicator value parses as a finite number.
// Non-numeric values are legal (opaque display strings) but excluded from
// every computation.
func IsNumeric(raw string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return err == nil
}

// FormatChangePercent renders (current-prev)/|prev|*100 with an explicit
// sign, e.g. "+10.00%". It returns "" when either value is non-numeric or
// the previous value is zero (no meaningful denominator).
func FormatChangePercent(currentRaw, prevRaw string) string {
	current, err1 := strconv.ParseFloat(strings.TrimSpace(currentRaw), 64)
	prev, err2 := strconv.ParseFloat(strings.TrimSpace(prevRaw), 64)
	if err1 != nil || err2 != nil || prev == 0 {
		return ""
	}
	delta := (current - prev) / abs(prev) * 100
	sign := ""
	if delta >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, delta)
}

// WithChangeFromPrev fills in ChangePercent on current from prev when the
// source did not supply one. Returns nil when current is nil.
func WithChangeFromPrev(current, prev *Indicator) *Indicator {
	if current == nil {
		return nil
	}
	if current.ChangePercent != "" || prev == nil {
		return current
	}
	out := *current
	out.ChangePercent = FormatChangePercent(current.Value, prev.Value)
	return &out
}

// FormatValue renders a raw indicator value for display: thousands-separated
// for numeric values, "-" for empty, passthrough for opaque strings.
func FormatValue(raw string) string {
	if raw == "" {
		return "-"
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	return groupThousands(n)
}

func groupThousands(n float64) string {
	s := strconv.FormatFloat(n, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	out := sb.String()
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
