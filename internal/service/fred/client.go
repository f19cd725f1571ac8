package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"copperwatch/internal/domain/models"
	"copperwatch/pkg/logger"
	"copperwatch/pkg/util"
)

const (
	defaultBaseURL = "https://api.stlouisfed.org/fred"

	// Observations carrying this value are revisions not yet published.
	missingSentinel = "."
)

// Series is one tracked macro series with its display name.
type Series struct {
	ID   string
	Name string
}

// TrackedSeries is the full set of macro series pulled into every bundle.
var TrackedSeries = []Series{
	{ID: "NAPM", Name: "ISM製造業景況指数"},
	{ID: "DTWEXBGS", Name: "名目実効ドル指数（Broad）"},
	{ID: "FEDFUNDS", Name: "米政策金利（FF金利）"},
	{ID: "DGS10", Name: "米10年国債利回り"},
	{ID: "VIXCLS", Name: "VIX（恐怖指数）"},
	{ID: "IPMAN", Name: "米製造業生産指数"},
	{ID: "CHNPIEATI01GYQ", Name: "中国PPI（工業）"},
	{ID: "TLRESCONS", Name: "建設支出（米国）"},
	{ID: "PERMIT", Name: "建設許可件数（米国）"},
	{ID: "HOUST", Name: "住宅着工件数"},
	{ID: "TCU", Name: "設備稼働率（米国）"},
	{ID: "USSLIND", Name: "米景気先行指数（LEI）"},
	{ID: "DCOILWTICO", Name: "原油価格（WTI）"},
	{ID: "DCOILBRENTEU", Name: "原油価格（Brent）"},
	{ID: "DHHNGSP", Name: "天然ガス価格（Henry Hub）"},
	{ID: "GASREGCOVW", Name: "ガソリン価格（全米平均）"},
	{ID: "CES3000000003", Name: "製造業の平均時給"},
	{ID: "GDP", Name: "米国GDP（四半期）"},
	{ID: "CPIAUCSL", Name: "米CPI（総合）"},
	{ID: "PPIACO", Name: "生産者物価指数（PPI）"},
	{ID: "CES1021210001", Name: "鉱業部門の雇用者数"},
	{ID: "CHLPROINDMISMEI", Name: "チリ鉱工業生産指数"},
	{ID: "PERPROINDMISMEI", Name: "ペルー鉱工業生産指数"},
	{ID: "CES1021210008", Name: "鉱業部門の平均時給"},
	{ID: "DGORDER", Name: "製造業の新規受注"},
	{ID: "TTLCONS", Name: "建設支出（総合）"},
}

// Substitute series used when the dedicated copper/FX providers are down.
const (
	SeriesCopperUSD = "PCOPPUSDM"
	SeriesUSDJPY    = "DEXJPUS"
)

// Observation is one valid observation with the one before it, used for
// change-percent computation.
type Observation struct {
	Value       string
	Date        string
	PrevValue   string
	LastUpdated string
	Units       string
	Frequency   string
}

// Client fetches macro series from the FRED API. A missing API key disables
// the client: every call returns nil without touching the network.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func New(apiKey, baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

type seriesMetaResponse struct {
	Seriess []struct {
		LastUpdated string `json:"last_updated"`
		Units       string `json:"units"`
		Frequency   string `json:"frequency"`
	} `json:"seriess"`
}

// FetchAll fetches every tracked series. Per-series failures are skipped;
// the returned list contains whatever succeeded.
func (c *Client) FetchAll(ctx context.Context) []models.Indicator {
	if !c.Enabled() {
		return nil
	}
	out := make([]models.Indicator, 0, len(TrackedSeries))
	for _, s := range TrackedSeries {
		obs, err := c.Latest(ctx, s.ID)
		if err != nil {
			c.log.Warn("fred series fetch failed", logger.String("series", s.ID), logger.Error(err))
			continue
		}
		if obs == nil {
			continue
		}
		out = append(out, models.Indicator{
			ID:            s.ID,
			Name:          s.Name,
			Value:         obs.Value,
			Date:          obs.Date,
			LastUpdated:   obs.LastUpdated,
			Units:         obs.Units,
			Frequency:     obs.Frequency,
			Source:        models.SourceFRED,
			ChangePercent: models.FormatChangePercent(obs.Value, obs.PrevValue),
		})
	}
	return out
}

// CopperSubstitute returns the monthly copper price series as a labeled
// stand-in for the dedicated metals provider. Nil on any failure.
func (c *Client) CopperSubstitute(ctx context.Context) *models.Indicator {
	return c.substitute(ctx, SeriesCopperUSD, "lme_copper_jpy", "LME銅（FRED代替）", "USD/mt", models.FrequencyMonthly)
}

// UsdJpySubstitute returns the daily USD/JPY series as a labeled stand-in
// for the live FX providers. Nil on any failure.
func (c *Client) UsdJpySubstitute(ctx context.Context) *models.Indicator {
	return c.substitute(ctx, SeriesUSDJPY, "usd_jpy", "USD/JPY 為替レート（FRED代替）", "JPY/USD", models.FrequencyDaily)
}

func (c *Client) substitute(ctx context.Context, seriesID, indicatorID, name, defUnits, defFrequency string) *models.Indicator {
	obs, err := c.Latest(ctx, seriesID)
	if err != nil {
		c.log.Warn("fred substitute fetch failed", logger.String("series", seriesID), logger.Error(err))
		return nil
	}
	if obs == nil {
		return nil
	}
	units := obs.Units
	if units == "" {
		units = defUnits
	}
	frequency := obs.Frequency
	if frequency == "" {
		frequency = defFrequency
	}
	return &models.Indicator{
		ID:            indicatorID,
		Name:          name,
		Value:         obs.Value,
		Date:          obs.Date,
		LastUpdated:   obs.LastUpdated,
		Units:         units,
		Frequency:     frequency,
		Source:        models.SourceFRED,
		ChangePercent: models.FormatChangePercent(obs.Value, obs.PrevValue),
	}
}

// Latest returns the newest valid observation for one series, or nil when
// the series has no usable observation. Transient failures are retried.
func (c *Client) Latest(ctx context.Context, seriesID string) (*Observation, error) {
	if !c.Enabled() {
		return nil, nil
	}

	var obsData observationsResponse
	if err := c.getJSON(ctx, "/series/observations", seriesID, &obsData); err != nil {
		return nil, err
	}

	// Newest first, sentinel rows dropped.
	var latest, prev *Observation
	for i := len(obsData.Observations) - 1; i >= 0; i-- {
		o := obsData.Observations[i]
		if o.Value == "" || o.Value == missingSentinel {
			continue
		}
		if latest == nil {
			latest = &Observation{Value: o.Value, Date: o.Date}
			continue
		}
		prev = &Observation{Value: o.Value, Date: o.Date}
		break
	}
	if latest == nil {
		return nil, nil
	}
	if prev != nil {
		latest.PrevValue = prev.Value
	}

	var metaData seriesMetaResponse
	if err := c.getJSON(ctx, "/series", seriesID, &metaData); err != nil {
		return nil, err
	}
	if len(metaData.Seriess) > 0 {
		m := metaData.Seriess[0]
		latest.LastUpdated = m.LastUpdated
		latest.Units = m.Units
		latest.Frequency = m.Frequency
	}
	return latest, nil
}

func (c *Client) getJSON(ctx context.Context, path, seriesID string, dst any) error {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	u := c.baseURL + path + "?" + q.Encode()

	return util.Retry(ctx, 4, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", util.ErrPermanent)
		}
		res, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fred get: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode >= 400 && res.StatusCode < 500 {
			return fmt.Errorf("fred status %d: %w", res.StatusCode, util.ErrPermanent)
		}
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("fred status %d", res.StatusCode)
		}
		if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
			return fmt.Errorf("fred decode: %w", util.ErrPermanent)
		}
		return nil
	})
}
