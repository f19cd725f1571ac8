package models

// DayPoint is one observation of a daily series.
type DayPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Value float64 `json:"value"`
}

// MonthPoint is one observation of a monthly series. Months use the archive
// key form YYYY_MM so they sort lexically in file order.
type MonthPoint struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

// LocationBreakdown is a registered-inventory total for one warehouse
// location in the latest period.
type LocationBreakdown struct {
	Country  string  `json:"country"`
	Location string  `json:"location"`
	Value    float64 `json:"value"`
}

// PointBreakdown is an unregistered-inventory total for one delivery point
// in the latest month.
type PointBreakdown struct {
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Point   string  `json:"point"`
	Value   float64 `json:"value"`
}

// DailyStats carries latest/previous points and derived percent changes for
// the registered-inventory daily series. Pointers are nil when the series is
// too short to compute the figure.
type DailyStats struct {
	Latest        *DayPoint   `json:"latest"`
	Prev          *DayPoint   `json:"prev"`
	DiffPct1d     *float64    `json:"diffPct1d"`
	DiffPct7d     *float64    `json:"diffPct7d"`
	MA20          *float64    `json:"ma20"`
	MonthlyLatest *MonthPoint `json:"monthlyLatest"`
	MonthlyPrev   *MonthPoint `json:"monthlyPrev"`
	DiffPctMoM    *float64    `json:"diffPctMoM"`
}

// MonthlyStats carries latest/previous months and month-over-month change
// for the unregistered-inventory series.
type MonthlyStats struct {
	Latest     *MonthPoint `json:"latest"`
	Prev       *MonthPoint `json:"prev"`
	DiffPctMoM *float64    `json:"diffPctMoM"`
}

// PriceStats carries latest/previous points for the domestic reference price.
type PriceStats struct {
	Latest    *DayPoint `json:"latest"`
	Prev      *DayPoint `json:"prev"`
	DiffPct1d *float64  `json:"diffPct1d"`
}

// WarrantDashboard is the aggregated view over registered inventory,
// unregistered inventory and the domestic reference price. Alerts is never
// empty: when nothing triggers it holds a single nominal-status line.
type WarrantDashboard struct {
	ReferencePrice PriceStats    `json:"copperTate"`
	Warrant        DailyStats    `json:"warrant"`
	OffWarrant     MonthlyStats  `json:"offWarrant"`
	Ratio          *float64      `json:"ratio"`
	Alerts         []string      `json:"alerts"`
	Charts         WarrantCharts `json:"charts"`
	Breakdown      WarrantBreak  `json:"breakdown"`
}

// WarrantCharts holds trailing windows of each series for rendering:
// 30 days of registered inventory, 12 months of unregistered inventory and
// a year of reference prices.
type WarrantCharts struct {
	WarrantDaily      []DayPoint   `json:"warrantDaily"`
	OffWarrantMonthly []MonthPoint `json:"offWarrantMonthly"`
	ReferenceDaily    []DayPoint   `json:"copperTateDaily"`
}

// WarrantBreak holds the latest-period top-N views by location and by
// delivery point.
type WarrantBreak struct {
	WarrantByLocation []LocationBreakdown `json:"warrantLatestByLocation"`
	OffWarrantByPoint []PointBreakdown    `json:"offWarrantLatestByPoint"`
}

// EmptyWarrantDashboard returns a dashboard with no data points and the
// given message as its only alert.
func EmptyWarrantDashboard(message string) *WarrantDashboard {
	return &WarrantDashboard{
		Alerts: []string{message},
		Charts: WarrantCharts{
			WarrantDaily:      []DayPoint{},
			OffWarrantMonthly: []MonthPoint{},
			ReferenceDaily:    []DayPoint{},
		},
		Breakdown: WarrantBreak{
			WarrantByLocation: []LocationBreakdown{},
			OffWarrantByPoint: []PointBreakdown{},
		},
	}
}

// PercentChange returns (curr-prev)/|prev|*100, or nil when prev is zero.
func PercentChange(curr, prev float64) *float64 {
	if prev == 0 {
		return nil
	}
	v := (curr - prev) / abs(prev) * 100
	return &v
}

// Mean returns the average of values, or nil for an empty slice.
func Mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var s float64
	for _, v := range values {
		s += v
	}
	m := s / float64(len(values))
	return &m
}
