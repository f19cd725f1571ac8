package metalsdev

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"copperwatch/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

const latestPayload = `{
	"metals": {"lme_copper": 9.5},
	"currencies": {"JPY": 0.0066},
	"timestamps": {"metal": "2024-10-11T06:00:00Z", "currency": "2024-10-11T06:30:00Z"}
}`

func TestFetchLatestDerivesBothIndicators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(latestPayload))
	}))
	defer srv.Close()

	c := New("key", srv.URL, time.Second, testLogger(t))
	copper, usdJpy := c.FetchLatest(context.Background())
	if copper == nil || usdJpy == nil {
		t.Fatalf("expected both indicators, got %v %v", copper, usdJpy)
	}

	// 9.5 USD/kg at 0.0066 USD/JPY is (9.5/0.0066)*1000 JPY/mt.
	got, err := strconv.ParseFloat(copper.Value, 64)
	if err != nil {
		t.Fatalf("copper value not numeric: %q", copper.Value)
	}
	want := (9.5 / 0.0066) * 1000
	if got < want*0.999 || got > want*1.001 {
		t.Fatalf("copper value %v, want about %v", got, want)
	}
	if copper.Units != "JPY/mt" || copper.Date != "2024-10-11" {
		t.Fatalf("copper metadata wrong: %+v", copper)
	}

	fx, err := strconv.ParseFloat(usdJpy.Value, 64)
	if err != nil {
		t.Fatalf("usd_jpy value not numeric: %q", usdJpy.Value)
	}
	wantFx := 1 / 0.0066
	if fx < wantFx*0.999 || fx > wantFx*1.001 {
		t.Fatalf("usd_jpy value %v, want about %v", fx, wantFx)
	}
	if usdJpy.LastUpdated != "2024-10-11T06:30:00Z" {
		t.Fatalf("usd_jpy lastUpdated wrong: %q", usdJpy.LastUpdated)
	}
}

func TestFetchLatestCopperFieldFallback(t *testing.T) {
	payload := `{"metals": {"copper": 9.5}, "currencies": {"JPY": 0.0066}, "timestamps": {}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := New("key", srv.URL, time.Second, testLogger(t))
	c.now = func() time.Time { return time.Date(2024, 10, 11, 0, 0, 0, 0, time.UTC) }
	copper, _ := c.FetchLatest(context.Background())
	if copper == nil {
		t.Fatal("expected copper from fallback field")
	}
	if copper.Date != "2024-10-11" {
		t.Fatalf("expected today's date fallback, got %q", copper.Date)
	}
}

func TestFetchLatestMissingRate(t *testing.T) {
	payload := `{"metals": {"lme_copper": 9.5}, "currencies": {}, "timestamps": {}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := New("key", srv.URL, time.Second, testLogger(t))
	copper, usdJpy := c.FetchLatest(context.Background())
	if copper != nil || usdJpy != nil {
		t.Fatalf("expected nil without JPY rate, got %v %v", copper, usdJpy)
	}
}

func TestFetchLatestDisabledWithoutKey(t *testing.T) {
	c := New("", "http://127.0.0.1:1", time.Second, testLogger(t))
	copper, usdJpy := c.FetchLatest(context.Background())
	if copper != nil || usdJpy != nil {
		t.Fatal("disabled client should return nil, nil")
	}
}

func TestFetchLatestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("key", srv.URL, time.Second, testLogger(t))
	copper, usdJpy := c.FetchLatest(context.Background())
	if copper != nil || usdJpy != nil {
		t.Fatal("failed call should degrade to nil, nil")
	}
}
