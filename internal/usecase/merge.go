package usecase

import (
	"copperwatch/internal/domain/models"
)

// MergeInputs carries everything one merge pass may draw from: this run's
// adapter outputs plus the last cached bundle regardless of staleness.
type MergeInputs struct {
	MetalsCopper *models.Indicator // live metals-price adapter
	MetalsUsdJpy *models.Indicator
	Fred         []models.Indicator // live macro adapter output
	Alpha        []models.Indicator // live FX/equities adapter output
	CopperSub    *models.Indicator  // macro-source substitute for copper
	UsdJpySub    *models.Indicator  // macro-source substitute for USD/JPY
	Cached       *models.EconomyBundle
	MetalsOn     bool // metals provider credentials configured
}

// Step names double as provenance labels for source-status reporting.
const (
	StepLive       = "live"
	StepCached     = "cached"
	StepSubstitute = "substitute"
)

// fallbackStep is one rung of a precedence ladder: pick returns the step's
// candidate or nil.
type fallbackStep struct {
	name string
	pick func(in *MergeInputs) *models.Indicator
}

// ladders maps each multi-source indicator to its precedence order. Steps
// are evaluated top to bottom, first non-nil wins; ties never occur because
// order is the only tiebreaker. The substitute rung is skipped while the
// dedicated provider is configured: a transient metals outage should surface
// as a cached value, not silently switch data vendors.
var ladders = map[string][]fallbackStep{
	"lme_copper_jpy": {
		{name: StepLive, pick: func(in *MergeInputs) *models.Indicator {
			return models.WithChangeFromPrev(in.MetalsCopper, in.cachedIndicator("lme_copper_jpy"))
		}},
		{name: StepCached, pick: func(in *MergeInputs) *models.Indicator {
			return in.cachedIndicator("lme_copper_jpy")
		}},
		{name: StepSubstitute, pick: func(in *MergeInputs) *models.Indicator {
			if in.MetalsOn {
				return nil
			}
			return in.CopperSub
		}},
	},
	"usd_jpy": {
		{name: StepLive, pick: func(in *MergeInputs) *models.Indicator {
			return models.WithChangeFromPrev(in.MetalsUsdJpy, in.cachedIndicator("usd_jpy"))
		}},
		{name: StepLive, pick: func(in *MergeInputs) *models.Indicator {
			return findIndicator(in.Alpha, "usd_jpy")
		}},
		{name: StepCached, pick: func(in *MergeInputs) *models.Indicator {
			return in.cachedIndicator("usd_jpy")
		}},
		{name: StepSubstitute, pick: func(in *MergeInputs) *models.Indicator {
			if in.MetalsOn {
				return nil
			}
			return in.UsdJpySub
		}},
	},
}

func (in *MergeInputs) cachedIndicator(id string) *models.Indicator {
	if in.Cached == nil {
		return nil
	}
	return in.Cached.Find(id)
}

func findIndicator(list []models.Indicator, id string) *models.Indicator {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

// MergeResult is one merge pass over the inputs: the two indicator lists of
// the bundle plus per-ladder provenance.
type MergeResult struct {
	Fred       []models.Indicator
	Alpha      []models.Indicator
	Provenance map[string]string // ladder indicator id -> winning step name
}

// MergeResolver combines adapter outputs into bundle lists using the
// precedence ladders. Deterministic and idempotent: the same inputs always
// produce the same chosen records.
type MergeResolver struct{}

func NewMergeResolver() *MergeResolver { return &MergeResolver{} }

// resolve walks one ladder and returns the first non-nil candidate.
func (m *MergeResolver) resolve(id string, in *MergeInputs) (*models.Indicator, string) {
	for _, step := range ladders[id] {
		if ind := step.pick(in); ind != nil {
			return ind, step.name
		}
	}
	return nil, ""
}

// Merge produces the bundle's fred and alpha lists. The merged copper record
// leads the fred list and the merged FX record leads the alpha list; live
// records for the same ids are removed so each id appears once per list.
func (m *MergeResolver) Merge(in *MergeInputs) *MergeResult {
	res := &MergeResult{Provenance: map[string]string{}}

	copper, step := m.resolve("lme_copper_jpy", in)
	if copper != nil {
		res.Provenance["lme_copper_jpy"] = step
		res.Fred = append(res.Fred, *copper)
	}
	for _, ind := range in.Fred {
		if ind.ID == "lme_copper_jpy" {
			continue
		}
		res.Fred = append(res.Fred, ind)
	}

	usdJpy, step := m.resolve("usd_jpy", in)
	if usdJpy != nil {
		res.Provenance["usd_jpy"] = step
		res.Alpha = append(res.Alpha, *usdJpy)
	}
	for _, ind := range in.Alpha {
		if ind.ID == "usd_jpy" {
			continue
		}
		res.Alpha = append(res.Alpha, ind)
	}

	return res
}
