package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"copperwatch/internal/domain/models"
	"copperwatch/internal/usecase"
	pkgcache "copperwatch/pkg/cache"
	"copperwatch/pkg/logger"
)

type fakeBundleService struct {
	buildCalls int
	getCalls   int
	lastOpts   usecase.BuildOptions
	bundle     *models.EconomyBundle
	history    map[string][]models.Indicator
}

func (f *fakeBundleService) Build(_ context.Context, opts usecase.BuildOptions) (*models.EconomyBundle, *usecase.PersistResult) {
	f.buildCalls++
	f.lastOpts = opts
	return f.bundle, &usecase.PersistResult{OK: true, Action: "upserted"}
}

func (f *fakeBundleService) Get(context.Context) *models.EconomyBundle {
	f.getCalls++
	return f.bundle
}

func (f *fakeBundleService) RecentIndicatorValues(_ context.Context, id string, limit int) []models.Indicator {
	list := f.history[id]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

type fakeDashboardService struct {
	builds int
	dash   *models.WarrantDashboard
}

func (f *fakeDashboardService) Build() *models.WarrantDashboard {
	f.builds++
	return f.dash
}

func testBundle() *models.EconomyBundle {
	return &models.EconomyBundle{
		CacheVersion:   models.BundleCacheVersion,
		UpdatedAt:      time.Date(2025, 8, 28, 3, 0, 0, 0, time.UTC),
		CacheBucketJst: "2025-08-28",
		SourceStatus:   models.SourceStatus{"fred": models.StatusOK, "mode": models.ModeLive},
		Fred: []models.Indicator{
			{ID: "lme_copper_jpy", Value: "1450000", Source: models.SourceMetalsDev},
			{ID: "DGS10", Value: "4.2", Source: models.SourceFRED},
		},
		Alpha: []models.Indicator{
			{ID: "usd_jpy", Value: "151.2", Source: models.SourceAlphaVantage},
		},
	}
}

func newTestHandler(bundles *fakeBundleService, cfg SnapshotHandlerConfig) (*SnapshotEchoHandler, *echo.Echo) {
	dash := &fakeDashboardService{dash: models.EmptyWarrantDashboard("重大なアラートはありません。通常監視モードです。")}
	h := NewSnapshotEchoHandler(logger.NewNop(), bundles, dash, nil, cfg)
	e := echo.New()
	h.RegisterRoutes(e)
	return h, e
}

func doRequest(e *echo.Echo, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (int, json.RawMessage) {
	t.Helper()
	var envelope struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return envelope.Status, envelope.Data
}

func TestRebuildRequiresTokenInProduction(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		RebuildToken: "secret",
		Production:   true,
	})

	rec := doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild", nil)
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if bundles.buildCalls != 0 {
		t.Fatal("unauthorized request must not trigger a rebuild")
	}
}

func TestRebuildAcceptsBearerToken(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		RebuildToken: "secret",
		Production:   true,
	})

	rec := doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild?force=true", map[string]string{
		"Authorization": "Bearer secret",
	})
	status, data := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", status, rec.Body.String())
	}
	var payload rebuildPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if !payload.OK || payload.CacheBucketJst != "2025-08-28" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Counts["fred"] != 2 || payload.Counts["alpha"] != 1 {
		t.Fatalf("counts = %v", payload.Counts)
	}
	if !bundles.lastOpts.Force {
		t.Fatal("force=true was not passed through")
	}
}

func TestRebuildAcceptsDedicatedHeader(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		RebuildToken: "secret",
		Production:   true,
	})

	rec := doRequest(e, http.MethodGet, "/api/economy-snapshot/rebuild", map[string]string{
		"X-Economy-Snapshot-Token": "secret",
	})
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
}

func TestRebuildWrongTokenRejected(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		RebuildToken: "secret",
		Production:   true,
	})

	rec := doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild", map[string]string{
		"Authorization": "Bearer wrong-secret",
	})
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestRebuildOpenOutsideProductionWithoutToken(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{Production: false})

	rec := doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild", nil)
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if bundles.buildCalls != 1 {
		t.Fatalf("buildCalls = %d, want 1", bundles.buildCalls)
	}
}

func TestRebuildFallsBackToSnapshotToken(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		SnapshotToken: "shared",
		Production:    true,
	})

	rec := doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild", map[string]string{
		"Authorization": "Bearer shared",
	})
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
}

func TestRebuildCSVModeValidated(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{})

	rec := doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild?mode=csv&date=2024-06-15", nil)
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", status, rec.Body.String())
	}
	if bundles.lastOpts.Mode != models.ModeCSV || bundles.lastOpts.Date != "2024-06-15" {
		t.Fatalf("opts = %+v", bundles.lastOpts)
	}

	rec = doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild?mode=nonsense", nil)
	status, _ = decodeEnvelope(t, rec)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad mode", status)
	}
}

func TestMarketSnapshotPayloadShape(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		SnapshotToken: "secret",
		Production:    true,
	})

	rec := doRequest(e, http.MethodGet, "/api/market-snapshot", map[string]string{
		"X-Market-Snapshot-Token": "secret",
	})
	status, data := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d (%s)", status, rec.Body.String())
	}
	var payload marketSnapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Core.Lme == nil || payload.Core.Lme.Value != "1450000" {
		t.Fatalf("core.lme = %+v", payload.Core.Lme)
	}
	if payload.Core.UsdJpy == nil || payload.Core.UsdJpy.Value != "151.2" {
		t.Fatalf("core.usdJpy = %+v", payload.Core.UsdJpy)
	}
	if payload.CacheBucketJst != "2025-08-28" {
		t.Fatalf("bucket = %q", payload.CacheBucketJst)
	}
	if payload.Support["dgs10"] == nil || payload.Support["dgs10"].Value != "4.2" {
		t.Fatalf("support.dgs10 = %+v", payload.Support["dgs10"])
	}
	// Absent indicators are present as explicit nulls, not omitted.
	if _, ok := payload.Support["vix"]; !ok {
		t.Fatal("support.vix key missing")
	}
	if payload.History != nil {
		t.Fatal("history must be omitted unless requested")
	}
}

func TestMarketSnapshotHistory(t *testing.T) {
	bundles := &fakeBundleService{
		bundle: testBundle(),
		history: map[string][]models.Indicator{
			"usd_jpy": {
				{ID: "usd_jpy", Value: "151.2", Date: "2025-08-27"},
				{ID: "usd_jpy", Value: "150.4", Date: "2025-08-26"},
			},
		},
	}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{})

	rec := doRequest(e, http.MethodGet, "/api/market-snapshot?history=true&limit=2", nil)
	status, data := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d (%s)", status, rec.Body.String())
	}
	var payload marketSnapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.History["usd_jpy"]) != 2 {
		t.Fatalf("history = %+v", payload.History)
	}
}

func TestMarketSnapshotUnauthorized(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{
		SnapshotToken: "secret",
		Production:    true,
	})

	rec := doRequest(e, http.MethodGet, "/api/market-snapshot", nil)
	status, _ := decodeEnvelope(t, rec)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

// newCachedTestHandler wires a real in-memory page cache, the same one the
// DI layer falls back to when Redis is disabled.
func newCachedTestHandler(bundles *fakeBundleService, cfg SnapshotHandlerConfig) (*fakeDashboardService, *echo.Echo) {
	dash := &fakeDashboardService{dash: models.EmptyWarrantDashboard("重大なアラートはありません。通常監視モードです。")}
	h := NewSnapshotEchoHandler(logger.NewNop(), bundles, dash, pkgcache.NewMemoryCache(), cfg)
	e := echo.New()
	h.RegisterRoutes(e)
	return dash, e
}

func TestMarketSnapshotPageCacheHit(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newCachedTestHandler(bundles, SnapshotHandlerConfig{})

	first := doRequest(e, http.MethodGet, "/api/market-snapshot", nil)
	status, firstData := decodeEnvelope(t, first)
	if status != http.StatusOK {
		t.Fatalf("first status = %d (%s)", status, first.Body.String())
	}

	second := doRequest(e, http.MethodGet, "/api/market-snapshot", nil)
	status, secondData := decodeEnvelope(t, second)
	if status != http.StatusOK {
		t.Fatalf("second status = %d (%s)", status, second.Body.String())
	}
	if bundles.getCalls != 1 {
		t.Fatalf("getCalls = %d, want 1 (second request should come from the page cache)", bundles.getCalls)
	}

	var a, b marketSnapshotPayload
	if err := json.Unmarshal(firstData, &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(secondData, &b); err != nil {
		t.Fatal(err)
	}
	if b.CacheBucketJst != a.CacheBucketJst || b.Core.Lme == nil || b.Core.Lme.Value != a.Core.Lme.Value {
		t.Fatalf("cached payload diverged: %+v vs %+v", a.Core, b.Core)
	}
}

func TestRebuildInvalidatesPageCache(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newCachedTestHandler(bundles, SnapshotHandlerConfig{})

	doRequest(e, http.MethodGet, "/api/market-snapshot", nil)
	doRequest(e, http.MethodPost, "/api/economy-snapshot/rebuild", nil)
	doRequest(e, http.MethodGet, "/api/market-snapshot", nil)

	if bundles.getCalls != 2 {
		t.Fatalf("getCalls = %d, want 2 (rebuild must drop the cached page)", bundles.getCalls)
	}
}

func TestWarrantDashboardPageCacheHit(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	dash, e := newCachedTestHandler(bundles, SnapshotHandlerConfig{})

	for i := 0; i < 2; i++ {
		rec := doRequest(e, http.MethodGet, "/api/warrant-dashboard", nil)
		status, data := decodeEnvelope(t, rec)
		if status != http.StatusOK {
			t.Fatalf("request %d: status = %d (%s)", i+1, status, rec.Body.String())
		}
		var got models.WarrantDashboard
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if len(got.Alerts) == 0 {
			t.Fatalf("request %d: alerts missing", i+1)
		}
	}
	if dash.builds != 1 {
		t.Fatalf("builds = %d, want 1", dash.builds)
	}
}

func TestWarrantDashboardAlwaysHasAlerts(t *testing.T) {
	bundles := &fakeBundleService{bundle: testBundle()}
	_, e := newTestHandler(bundles, SnapshotHandlerConfig{})

	rec := doRequest(e, http.MethodGet, "/api/warrant-dashboard", nil)
	status, data := decodeEnvelope(t, rec)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var dash models.WarrantDashboard
	if err := json.Unmarshal(data, &dash); err != nil {
		t.Fatal(err)
	}
	if len(dash.Alerts) == 0 {
		t.Fatal("alerts must never be empty")
	}
}
