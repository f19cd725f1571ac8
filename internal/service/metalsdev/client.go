package metalsdev

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"copperwatch/internal/domain/models"
	xhttp "copperwatch/pkg/http"
	"copperwatch/pkg/logger"
	"copperwatch/pkg/util"
)

const defaultBaseURL = "https://api.metals.dev"

// Client fetches the Metals.dev latest-prices snapshot: one call returns
// copper in USD/kg plus a USD-per-currency conversion table. A missing API
// key disables the client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *xhttp.Client
	log        *logger.Logger
	now        func() time.Time
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
		httpClient: xhttp.NewClient(xhttp.WithTimeout(timeout)),
		log:        log,
		now:        time.Now,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

type latestResponse struct {
	Metals struct {
		LMECopper float64 `json:"lme_copper"`
		Copper    float64 `json:"copper"`
	} `json:"metals"`
	Currencies struct {
		JPY float64 `json:"JPY"`
	} `json:"currencies"`
	Timestamps struct {
		Metal    string `json:"metal"`
		Currency string `json:"currency"`
	} `json:"timestamps"`
}

// FetchLatest returns the derived copper-in-JPY and USD/JPY indicators from
// one latest-snapshot call. Either result may be nil when the payload lacks
// the needed figures; a disabled client or a failed call returns (nil, nil).
func (c *Client) FetchLatest(ctx context.Context) (copper, usdJpy *models.Indicator) {
	if !c.Enabled() {
		return nil, nil
	}

	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/v1/latest",
		QueryParams: map[string][]string{
			"api_key":  {c.apiKey},
			"currency": {"USD"},
			"unit":     {"kg"},
		},
	}

	var data latestResponse
	err := util.Retry(ctx, 4, 500*time.Millisecond, func() error {
		res, err := c.httpClient.SendRequest(ctx, opts)
		if err != nil {
			return fmt.Errorf("metals.dev get: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode >= 400 && res.StatusCode < 500 {
			return fmt.Errorf("metals.dev status %d: %w", res.StatusCode, util.ErrPermanent)
		}
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("metals.dev status %d", res.StatusCode)
		}
		if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
			return fmt.Errorf("metals.dev decode: %w", util.ErrPermanent)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("metals.dev fetch failed", logger.Error(err))
		return nil, nil
	}

	usdPerJpy := data.Currencies.JPY
	today := c.now().UTC().Format("2006-01-02")

	usdPerKg := data.Metals.LMECopper
	if usdPerKg == 0 {
		usdPerKg = data.Metals.Copper
	}
	if usdPerKg > 0 && usdPerJpy > 0 {
		// Payload prices are USD/kg and USD-per-JPY; convert to JPY/mt.
		jpyPerMt := (usdPerKg / usdPerJpy) * 1000
		date := truncDate(data.Timestamps.Metal)
		if date == "" {
			date = today
		}
		copper = &models.Indicator{
			ID:          "lme_copper_jpy",
			Name:        "LME銅（Metals.dev）",
			Value:       formatFloat(jpyPerMt),
			Date:        date,
			LastUpdated: data.Timestamps.Metal,
			Units:       "JPY/mt",
			Frequency:   models.FrequencyDaily,
			Source:      models.SourceMetalsDev,
		}
	}

	if usdPerJpy > 0 {
		ts := data.Timestamps.Currency
		if ts == "" {
			ts = data.Timestamps.Metal
		}
		date := truncDate(ts)
		if date == "" {
			date = today
		}
		usdJpy = &models.Indicator{
			ID:          "usd_jpy",
			Name:        "USD/JPY 為替レート（Metals.dev）",
			Value:       formatFloat(1 / usdPerJpy),
			Date:        date,
			LastUpdated: ts,
			Units:       "JPY/USD",
			Frequency:   models.FrequencyDaily,
			Source:      models.SourceMetalsDev,
		}
	}
	return copper, usdJpy
}

func truncDate(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
