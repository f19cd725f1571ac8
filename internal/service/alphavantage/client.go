package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"copperwatch/internal/domain/models"
	"copperwatch/internal/service/ratelimit"
	"copperwatch/pkg/logger"
	"copperwatch/pkg/util"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"

	// Free tier rejects bursts, so consecutive calls are spaced out.
	defaultCallDelay = 1200 * time.Millisecond

	pacerKey = "alphavantage"
)

// task describes one provider call and how to pull the latest close out of
// its payload.
type task struct {
	id        string
	name      string
	units     string
	frequency string
	query     string
	parse     func(data map[string]json.RawMessage, now time.Time) *parsed
}

type parsed struct {
	value     string
	date      string
	prevValue string
}

// Client fetches FX and equity series from Alpha Vantage. Calls are issued
// sequentially through a Pacer. A missing API key disables the client.
type Client struct {
	apiKey     string
	baseURL    string
	callDelay  time.Duration
	httpClient *http.Client
	pacer      *ratelimit.Pacer
	log        *logger.Logger
	now        func() time.Time
}

func New(apiKey, baseURL string, timeout, callDelay time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if callDelay <= 0 {
		callDelay = defaultCallDelay
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		callDelay:  callDelay,
		httpClient: &http.Client{Timeout: timeout},
		pacer:      ratelimit.NewPacer(callDelay),
		log:        log,
		now:        time.Now,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

func fxParser(data map[string]json.RawMessage, _ time.Time) *parsed {
	return seriesParser(data, "Time Series FX (Daily)")
}

func dailyParser(data map[string]json.RawMessage, _ time.Time) *parsed {
	return seriesParser(data, "Time Series (Daily)")
}

func seriesParser(data map[string]json.RawMessage, key string) *parsed {
	raw, ok := data[key]
	if !ok {
		return nil
	}
	var series map[string]struct {
		Close string `json:"4. close"`
	}
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil
	}
	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) == 0 {
		return nil
	}
	p := &parsed{value: series[dates[0]].Close, date: dates[0]}
	if len(dates) > 1 {
		p.prevValue = series[dates[1]].Close
	}
	return p
}

func sectorParser(data map[string]json.RawMessage, now time.Time) *parsed {
	raw, ok := data["Rank A: Real-Time Performance"]
	if !ok {
		return nil
	}
	// The whole ranking table is the value; callers treat it as opaque JSON.
	return &parsed{value: string(raw), date: now.UTC().Format("2006-01-02")}
}

func (c *Client) tasks() []task {
	return []task{
		{
			id: "usd_jpy", name: "USD/JPY 為替レート", units: "JPY/USD", frequency: models.FrequencyDaily,
			query: "function=FX_DAILY&from_symbol=USD&to_symbol=JPY", parse: fxParser,
		},
		{
			id: "copx", name: "銅ETF（COPX）", units: "USD", frequency: models.FrequencyDaily,
			query: "function=TIME_SERIES_DAILY&symbol=COPX", parse: dailyParser,
		},
		{
			id: "usd_cny", name: "USD/CNY 為替レート", units: "CNY/USD", frequency: models.FrequencyDaily,
			query: "function=FX_DAILY&from_symbol=USD&to_symbol=CNY", parse: fxParser,
		},
		{
			id: "fcx", name: "Freeport-McMoRan（FCX）", units: "USD", frequency: models.FrequencyDaily,
			query: "function=TIME_SERIES_DAILY&symbol=FCX", parse: dailyParser,
		},
		{
			id: "sp500", name: "S&P500連動ETF（SPY）", units: "USD", frequency: models.FrequencyDaily,
			query: "function=TIME_SERIES_DAILY&symbol=SPY", parse: dailyParser,
		},
		{
			id: "sector_performance", name: "セクター別リアルタイムパフォーマンス", units: "%", frequency: models.FrequencyRealTime,
			query: "function=SECTOR", parse: sectorParser,
		},
	}
}

// FetchAll fetches every configured series sequentially. Failed tasks are
// skipped and the rest continue.
func (c *Client) FetchAll(ctx context.Context) []models.Indicator {
	if !c.Enabled() {
		return nil
	}
	tasks := c.tasks()
	out := make([]models.Indicator, 0, len(tasks))
	for _, t := range tasks {
		if err := c.pacer.Wait(ctx, pacerKey); err != nil {
			return out
		}
		data, err := c.getJSON(ctx, t.query)
		if err != nil {
			c.log.Warn("alpha vantage fetch failed", logger.String("id", t.id), logger.Error(err))
			continue
		}
		p := t.parse(data, c.now())
		if p == nil {
			continue
		}
		out = append(out, models.Indicator{
			ID:            t.id,
			Name:          t.name,
			Value:         p.value,
			Date:          p.date,
			LastUpdated:   lastUpdated(data, p.date),
			Units:         t.units,
			Frequency:     t.frequency,
			Source:        models.SourceAlphaVantage,
			ChangePercent: models.FormatChangePercent(p.value, p.prevValue),
		})
	}
	return out
}

// lastUpdated prefers the payload's refresh timestamp over the observation
// date. Alpha Vantage moves the field's numeric prefix between endpoints.
func lastUpdated(data map[string]json.RawMessage, fallback string) string {
	raw, ok := data["Meta Data"]
	if !ok {
		return fallback
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fallback
	}
	if v := meta["3. Last Refreshed"]; v != "" {
		return v
	}
	if v := meta["4. Last Refreshed"]; v != "" {
		return v
	}
	return fallback
}

func (c *Client) getJSON(ctx context.Context, query string) (map[string]json.RawMessage, error) {
	u := fmt.Sprintf("%s?%s&apikey=%s", c.baseURL, query, c.apiKey)
	var data map[string]json.RawMessage
	err := util.Retry(ctx, 4, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", util.ErrPermanent)
		}
		res, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("alpha vantage get: %w", err)
		}
		defer res.Body.Close()
		if res.StatusCode >= 400 && res.StatusCode < 500 {
			return fmt.Errorf("alpha vantage status %d: %w", res.StatusCode, util.ErrPermanent)
		}
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("alpha vantage status %d", res.StatusCode)
		}
		if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
			return fmt.Errorf("alpha vantage decode: %w", util.ErrPermanent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
