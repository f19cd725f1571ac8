package models

// Requests for snapshot HTTP endpoints. Defined in domain for consistency and reuse.

type RebuildRequest struct {
	Date  string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Mode  string `query:"mode" json:"mode" default:"live" validate:"oneof=live csv"`
	Force bool   `query:"force" json:"force"`
}

type SnapshotRequest struct {
	History bool `query:"history" json:"history"`
	Limit   int  `query:"limit" json:"limit" default:"30" validate:"gte=1,lte=365"`
}

type DashboardRequest struct {
	Refresh bool `query:"refresh" json:"refresh"`
}
