package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"copperwatch/internal/domain/models"
	drepo "copperwatch/internal/domain/repository"
	"copperwatch/pkg/logger"
	"copperwatch/pkg/util"
)

type fakeMacro struct {
	enabled   bool
	calls     int32
	list      []models.Indicator
	copperSub *models.Indicator
	usdJpySub *models.Indicator
}

func (f *fakeMacro) Enabled() bool { return f.enabled }
func (f *fakeMacro) FetchAll(context.Context) []models.Indicator {
	atomic.AddInt32(&f.calls, 1)
	return f.list
}
func (f *fakeMacro) CopperSubstitute(context.Context) *models.Indicator {
	atomic.AddInt32(&f.calls, 1)
	return f.copperSub
}
func (f *fakeMacro) UsdJpySubstitute(context.Context) *models.Indicator {
	atomic.AddInt32(&f.calls, 1)
	return f.usdJpySub
}

type fakeFx struct {
	enabled bool
	calls   int32
	list    []models.Indicator
}

func (f *fakeFx) Enabled() bool { return f.enabled }
func (f *fakeFx) FetchAll(context.Context) []models.Indicator {
	atomic.AddInt32(&f.calls, 1)
	return f.list
}

type fakeMetals struct {
	enabled bool
	calls   int32
	copper  *models.Indicator
	usdJpy  *models.Indicator
}

func (f *fakeMetals) Enabled() bool { return f.enabled }
func (f *fakeMetals) FetchLatest(context.Context) (*models.Indicator, *models.Indicator) {
	atomic.AddInt32(&f.calls, 1)
	return f.copper, f.usdJpy
}

type fakeCache struct {
	valid  *models.EconomyBundle
	any    *models.EconomyBundle
	writes []*models.EconomyBundle
}

func (f *fakeCache) Read() *models.EconomyBundle    { return f.valid }
func (f *fakeCache) ReadAny() *models.EconomyBundle { return f.any }
func (f *fakeCache) Write(b *models.EconomyBundle)  { f.writes = append(f.writes, b) }

type fakeStore struct {
	upserts []*drepo.SnapshotRecord
	latest  *drepo.SnapshotRecord
	history []*drepo.SnapshotRecord
	err     error
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) Upsert(_ context.Context, rec *drepo.SnapshotRecord) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, rec)
	return nil
}
func (f *fakeStore) Latest(context.Context) (*drepo.SnapshotRecord, error) { return f.latest, f.err }
func (f *fakeStore) History(context.Context, int) ([]*drepo.SnapshotRecord, error) {
	return f.history, f.err
}
func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

type fakePublisher struct {
	dates  []string
	counts []int
}

func (f *fakePublisher) PublishRebuilt(_ context.Context, date string, count int) error {
	f.dates = append(f.dates, date)
	f.counts = append(f.counts, count)
	return nil
}
func (f *fakePublisher) Close() error { return nil }

type fakeMetrics struct {
	cacheEvents []string
}

func (f *fakeMetrics) RecordSourceFetch(string, string) {}
func (f *fakeMetrics) RecordIndicatorCount(string, int) {}
func (f *fakeMetrics) RecordCacheEvent(event string)    { f.cacheEvents = append(f.cacheEvents, event) }
func (f *fakeMetrics) RecordLatency(string, float64)    {}

type fakeArchive struct {
	byKey map[string]*models.Indicator
}

func (f *fakeArchive) ReadAtOrBefore(seriesID, targetDate string) *models.Indicator {
	return f.byKey[seriesID+"@"+targetDate]
}

type fakeExport struct {
	bySeries map[string][]models.Indicator
}

func (f *fakeExport) RecentIndicatorValues(id string, limit int) []models.Indicator {
	list := f.bySeries[id]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

type builderFixture struct {
	fred    *fakeMacro
	alpha   *fakeFx
	metals  *fakeMetals
	cache   *fakeCache
	local   *fakeCache
	store   *fakeStore
	pub     *fakePublisher
	metrics *fakeMetrics
	archive *fakeArchive
	export  *fakeExport
	builder *BundleBuilder
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()
	f := &builderFixture{
		fred:    &fakeMacro{enabled: true},
		alpha:   &fakeFx{enabled: true},
		metals:  &fakeMetals{enabled: true},
		cache:   &fakeCache{},
		local:   &fakeCache{},
		store:   &fakeStore{},
		pub:     &fakePublisher{},
		metrics: &fakeMetrics{},
		archive: &fakeArchive{byKey: map[string]*models.Indicator{}},
		export:  &fakeExport{bySeries: map[string][]models.Indicator{}},
	}
	f.builder = NewBundleBuilder(BundleBuilderDeps{
		Fred:          f.fred,
		Alpha:         f.alpha,
		Metals:        f.metals,
		Archive:       f.archive,
		Export:        f.export,
		Cache:         f.cache,
		LocalSnapshot: f.local,
		Store:         f.store,
		Publisher:     f.pub,
		Metrics:       f.metrics,
		Log:           logger.NewNop(),
	})
	return f
}

func recentDate(daysAgo int) string {
	return time.Now().UTC().AddDate(0, 0, -daysAgo).Format("2006-01-02")
}

func TestBuildCacheHitSkipsEverySource(t *testing.T) {
	f := newBuilderFixture(t)
	cached := &models.EconomyBundle{
		CacheVersion:   models.BundleCacheVersion,
		UpdatedAt:      time.Now().UTC(),
		CacheBucketJst: util.NoonBucketJST(time.Now()),
		SourceStatus:   models.SourceStatus{"fred": models.StatusOK, "mode": models.ModeLive},
		Fred:           []models.Indicator{{ID: "unrate", Value: "4.1", LastUpdated: "2025-08-01"}},
		Alpha:          []models.Indicator{},
	}
	f.cache.valid = cached

	got, persist := f.builder.Build(context.Background(), BuildOptions{})
	if persist != nil {
		t.Fatalf("cache hit should not persist, got %+v", persist)
	}
	if got.Find("unrate") == nil {
		t.Fatal("expected cached indicator to survive")
	}
	if got.SourceStatus["mode"] != models.ModeCache {
		t.Fatalf("mode = %q, want cache", got.SourceStatus["mode"])
	}
	if f.fred.calls != 0 || f.alpha.calls != 0 || f.metals.calls != 0 {
		t.Fatalf("sources were called on a cache hit: fred=%d alpha=%d metals=%d",
			f.fred.calls, f.alpha.calls, f.metals.calls)
	}
	if len(f.cache.writes) != 0 {
		t.Fatal("cache hit must not rewrite the cache")
	}
	if len(f.store.upserts) != 0 {
		t.Fatal("cache hit must not touch the snapshot store")
	}
}

func TestBuildForceRebuildsAndPersists(t *testing.T) {
	f := newBuilderFixture(t)
	f.cache.valid = &models.EconomyBundle{CacheVersion: models.BundleCacheVersion}
	f.fred.list = []models.Indicator{
		{ID: "unrate", Name: "失業率", Value: "4.1", Date: recentDate(3), LastUpdated: recentDate(3), Frequency: models.FrequencyMonthly, Source: models.SourceFRED},
	}
	f.alpha.list = []models.Indicator{
		{ID: "usd_jpy", Value: "151.2", Date: recentDate(1), LastUpdated: recentDate(1), Frequency: models.FrequencyDaily, Source: models.SourceAlphaVantage},
	}
	f.metals.copper = &models.Indicator{ID: "lme_copper_jpy", Value: "1450000", Date: recentDate(0), LastUpdated: recentDate(0), Source: models.SourceMetalsDev}

	got, persist := f.builder.Build(context.Background(), BuildOptions{Force: true, Mode: models.ModeLive})
	if persist == nil || !persist.OK || persist.Action != "upserted" {
		t.Fatalf("persist = %+v, want upserted", persist)
	}
	if f.fred.calls == 0 || f.alpha.calls == 0 || f.metals.calls == 0 {
		t.Fatal("force rebuild must hit every enabled source")
	}
	if got.Find("lme_copper_jpy") == nil || got.Find("usd_jpy") == nil || got.Find("unrate") == nil {
		t.Fatalf("merged bundle missing indicators: fred=%d alpha=%d", len(got.Fred), len(got.Alpha))
	}
	if got.SourceStatus["metals"] != models.StatusOK {
		t.Fatalf("metals status = %q, want ok", got.SourceStatus["metals"])
	}
	if got.CacheBucketJst != util.NoonBucketJST(time.Now()) {
		t.Fatalf("bucket = %q", got.CacheBucketJst)
	}
	if len(f.cache.writes) != 1 {
		t.Fatalf("cache writes = %d, want 1", len(f.cache.writes))
	}
	if len(f.store.upserts) != 1 {
		t.Fatalf("store upserts = %d, want 1", len(f.store.upserts))
	}
	if f.store.upserts[0].Date != got.CacheBucketJst {
		t.Fatalf("snapshot date = %q, want bucket %q", f.store.upserts[0].Date, got.CacheBucketJst)
	}
	if len(f.pub.dates) != 1 || f.pub.counts[0] != len(got.All()) {
		t.Fatalf("publish = %v/%v", f.pub.dates, f.pub.counts)
	}
}

func TestBuildMetalsDownFallsBackToCachedCopper(t *testing.T) {
	f := newBuilderFixture(t)
	f.cache.any = &models.EconomyBundle{
		Fred: []models.Indicator{
			{ID: "lme_copper_jpy", Value: "1400000", Date: recentDate(1), LastUpdated: recentDate(1), Source: models.SourceMetalsDev},
		},
	}
	f.metals.copper = nil
	f.metals.usdJpy = nil

	got, _ := f.builder.Build(context.Background(), BuildOptions{Force: true, Mode: models.ModeLive})
	ind := got.Find("lme_copper_jpy")
	if ind == nil || ind.Value != "1400000" {
		t.Fatalf("copper = %+v, want cached 1400000", ind)
	}
	if got.SourceStatus["metals"] != models.StatusFallback {
		t.Fatalf("metals status = %q, want fallback", got.SourceStatus["metals"])
	}
}

func TestBuildMetalsDisabledUsesSubstitute(t *testing.T) {
	f := newBuilderFixture(t)
	f.metals.enabled = false
	f.fred.copperSub = &models.Indicator{
		ID: "lme_copper_jpy", Name: "LME銅（FRED代替）", Value: "9100",
		Date: recentDate(20), LastUpdated: recentDate(20), Source: models.SourceFRED,
	}

	got, _ := f.builder.Build(context.Background(), BuildOptions{Force: true, Mode: models.ModeLive})
	ind := got.Find("lme_copper_jpy")
	if ind == nil || ind.Value != "9100" {
		t.Fatalf("copper = %+v, want substitute 9100", ind)
	}
	if got.SourceStatus["metals"] != models.StatusDisabled {
		t.Fatalf("metals status = %q, want disabled", got.SourceStatus["metals"])
	}
	if f.metals.calls != 0 {
		t.Fatal("disabled metals source must not be called for data")
	}
}

func TestBuildStaleIndicatorsDropped(t *testing.T) {
	f := newBuilderFixture(t)
	f.fred.list = []models.Indicator{
		{ID: "fresh", Value: "1", Date: recentDate(30), LastUpdated: recentDate(30), Frequency: models.FrequencyMonthly, Source: models.SourceFRED},
		{ID: "stale", Value: "2", Date: recentDate(400), LastUpdated: recentDate(400), Frequency: models.FrequencyMonthly, Source: models.SourceFRED},
	}

	got, _ := f.builder.Build(context.Background(), BuildOptions{Force: true, Mode: models.ModeLive})
	if got.Find("fresh") == nil {
		t.Fatal("fresh indicator dropped")
	}
	if got.Find("stale") != nil {
		t.Fatal("stale indicator survived the freshness filter")
	}
}

func TestBuildCSVModeReadsArchivesOnly(t *testing.T) {
	f := newBuilderFixture(t)
	date := "2024-06-15"
	f.archive.byKey["lme_copper_usd@"+date] = &models.Indicator{
		ID: "lme_copper_usd", Value: "9800", Date: "2024-06-14", Source: models.SourceCSV,
	}
	f.archive.byKey["usd_jpy@"+date] = &models.Indicator{
		ID: "usd_jpy", Value: "157.1", Date: "2024-06-14", Source: models.SourceCSV,
	}

	got, persist := f.builder.Build(context.Background(), BuildOptions{Force: true, Mode: models.ModeCSV, Date: date})
	if f.fred.calls != 0 || f.alpha.calls != 0 || f.metals.calls != 0 {
		t.Fatal("csv mode must not touch network sources")
	}
	if got.Find("lme_copper_usd") == nil || got.Find("usd_jpy") == nil {
		t.Fatalf("archive indicators missing: %+v", got.All())
	}
	if got.SourceStatus["mode"] != models.ModeCSV {
		t.Fatalf("mode = %q, want csv", got.SourceStatus["mode"])
	}
	if persist == nil || !persist.OK {
		t.Fatalf("csv bundles still persist, got %+v", persist)
	}
}

func TestGetFallsBackToStaticExport(t *testing.T) {
	f := newBuilderFixture(t)
	f.export.bySeries["lme_copper_usd"] = []models.Indicator{
		{ID: "lme_copper_usd", Value: "9700", Date: "2024-06-14", Source: models.SourceCSV},
		{ID: "lme_copper_usd", Value: "9500", Date: "2024-06-13", Source: models.SourceCSV},
	}

	got := f.builder.Get(context.Background())
	ind := got.Find("lme_copper_usd")
	if ind == nil {
		t.Fatal("export indicator missing")
	}
	if ind.ChangePercent != "+2.11%" {
		t.Fatalf("changePercent = %q, want +2.11%%", ind.ChangePercent)
	}
	if f.fred.calls != 0 || f.metals.calls != 0 {
		t.Fatal("export fallback must not hit network sources")
	}
}

func TestGetTerminalFallbackIsEmptyBundle(t *testing.T) {
	f := newBuilderFixture(t)

	got := f.builder.Get(context.Background())
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if len(got.Fred) != 0 || len(got.Alpha) != 0 {
		t.Fatalf("expected empty bundle, got %d/%d indicators", len(got.Fred), len(got.Alpha))
	}
	if got.Fred == nil || got.Alpha == nil {
		t.Fatal("empty bundle lists must be non-nil for JSON shape")
	}
	if got.CacheBucketJst != util.NoonBucketJST(time.Now()) {
		t.Fatalf("bucket = %q", got.CacheBucketJst)
	}
}

func TestGetProductionPrefersRemoteSnapshot(t *testing.T) {
	f := newBuilderFixture(t)
	f.builder.production = true
	f.store.latest = &drepo.SnapshotRecord{
		Date: "2025-08-28",
		Indicators: []models.Indicator{
			{ID: "unrate", Value: "4.1", Source: models.SourceFRED},
			{ID: "usd_jpy", Value: "151.2", Source: models.SourceAlphaVantage},
		},
		SourceStatus: models.SourceStatus{"fred": models.StatusOK},
		UpdatedAt:    "2025-08-28T03:00:00Z",
	}

	got := f.builder.Get(context.Background())
	if got.Find("unrate") == nil {
		t.Fatal("remote snapshot indicator missing")
	}
	if len(got.Alpha) != 1 {
		t.Fatalf("alpha split = %d, want 1", len(got.Alpha))
	}
	if got.SourceStatus["mode"] != models.ModeSnapshot {
		t.Fatalf("mode = %q, want snapshot", got.SourceStatus["mode"])
	}
	if f.fred.calls != 0 {
		t.Fatal("production read path must not trigger a live rebuild")
	}
}

func TestGetDevLiveRebuildWhenAllowed(t *testing.T) {
	f := newBuilderFixture(t)
	f.builder.allowLiveRebuild = true
	f.fred.list = []models.Indicator{
		{ID: "unrate", Value: "4.1", Date: recentDate(2), LastUpdated: recentDate(2), Frequency: models.FrequencyMonthly, Source: models.SourceFRED},
	}

	got := f.builder.Get(context.Background())
	if got.Find("unrate") == nil {
		t.Fatal("live rebuild result missing indicator")
	}
	if f.fred.calls == 0 {
		t.Fatal("expected live rebuild to call sources")
	}
}

func TestRecentIndicatorValuesDedupsByDate(t *testing.T) {
	f := newBuilderFixture(t)
	f.store.history = []*drepo.SnapshotRecord{
		{Date: "2025-08-28", Indicators: []models.Indicator{{ID: "usd_jpy", Value: "151.2", Date: "2025-08-27"}}},
		{Date: "2025-08-27", Indicators: []models.Indicator{{ID: "usd_jpy", Value: "151.2", Date: "2025-08-27"}}},
		{Date: "2025-08-26", Indicators: []models.Indicator{{ID: "usd_jpy", Value: "150.4", Date: "2025-08-25"}}},
	}

	got := f.builder.RecentIndicatorValues(context.Background(), "usd_jpy", 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 after date dedup", len(got))
	}
	if got[0].Value != "151.2" || got[1].Value != "150.4" {
		t.Fatalf("order = %q, %q", got[0].Value, got[1].Value)
	}
}

func TestRecentIndicatorValuesFallsBackToExport(t *testing.T) {
	f := newBuilderFixture(t)
	f.store.history = nil
	f.export.bySeries["usd_cny"] = []models.Indicator{
		{ID: "usd_cny", Value: "7.12", Date: "2024-06-14"},
	}

	got := f.builder.RecentIndicatorValues(context.Background(), "usd_cny", 5)
	if len(got) != 1 || got[0].Value != "7.12" {
		t.Fatalf("got %+v, want export row", got)
	}
}
