package usecase

import (
	"context"
	"sync"
	"time"

	"copperwatch/internal/domain/models"
	drepo "copperwatch/internal/domain/repository"
	"copperwatch/pkg/logger"
	"copperwatch/pkg/util"
)

// Narrow source contracts so the builder can be exercised with fakes.

type MacroSource interface {
	Enabled() bool
	FetchAll(ctx context.Context) []models.Indicator
	CopperSubstitute(ctx context.Context) *models.Indicator
	UsdJpySubstitute(ctx context.Context) *models.Indicator
}

type FxSource interface {
	Enabled() bool
	FetchAll(ctx context.Context) []models.Indicator
}

type MetalsSource interface {
	Enabled() bool
	FetchLatest(ctx context.Context) (copper, usdJpy *models.Indicator)
}

type ArchiveReader interface {
	ReadAtOrBefore(seriesID, targetDate string) *models.Indicator
}

type ExportReader interface {
	RecentIndicatorValues(indicatorID string, limit int) []models.Indicator
}

type LocalCache interface {
	Read() *models.EconomyBundle
	ReadAny() *models.EconomyBundle
	Write(*models.EconomyBundle)
}

// PersistResult reports the outcome of the remote snapshot write.
type PersistResult struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"` // upserted, skipped, failed
	Error  string `json:"error,omitempty"`
}

// BuildOptions selects how a rebuild runs.
type BuildOptions struct {
	Force bool
	Mode  string // models.ModeLive or models.ModeCSV
	Date  string // point-in-time target for CSV mode, defaults to today JST
}

// BundleBuilder orchestrates one bundle build: cache check, source fan-out,
// merge, freshness tagging, persistence. Source failures degrade; the
// builder never returns an error for "no data".
type BundleBuilder struct {
	fred    MacroSource
	alpha   FxSource
	metals  MetalsSource
	archive ArchiveReader
	export  ExportReader
	cache   LocalCache
	local   LocalCache // on-disk snapshot fallback, distinct from the cache
	store   drepo.SnapshotStore
	pub     drepo.Publisher
	metrics drepo.Metrics
	fresh   *FreshnessFilter
	merge   *MergeResolver
	log     *logger.Logger

	production       bool
	allowFileFall    bool
	allowLiveRebuild bool
	now              func() time.Time
}

type BundleBuilderDeps struct {
	Fred             MacroSource
	Alpha            FxSource
	Metals           MetalsSource
	Archive          ArchiveReader
	Export           ExportReader
	Cache            LocalCache
	LocalSnapshot    LocalCache
	Store            drepo.SnapshotStore
	Publisher        drepo.Publisher
	Metrics          drepo.Metrics
	Log              *logger.Logger
	Production       bool
	AllowFileFall    bool
	AllowLiveRebuild bool
}

func NewBundleBuilder(d BundleBuilderDeps) *BundleBuilder {
	return &BundleBuilder{
		fred:             d.Fred,
		alpha:            d.Alpha,
		metals:           d.Metals,
		archive:          d.Archive,
		export:           d.Export,
		cache:            d.Cache,
		local:            d.LocalSnapshot,
		store:            d.Store,
		pub:              d.Publisher,
		metrics:          d.Metrics,
		fresh:            NewFreshnessFilter(),
		merge:            NewMergeResolver(),
		log:              d.Log,
		production:       d.Production,
		allowFileFall:    d.AllowFileFall,
		allowLiveRebuild: d.AllowLiveRebuild,
		now:              time.Now,
	}
}

// Build returns the bundle for the current bucket, rebuilding when the cache
// misses. Force always rebuilds and overwrites both stores.
func (b *BundleBuilder) Build(ctx context.Context, opts BuildOptions) (*models.EconomyBundle, *PersistResult) {
	start := b.now()
	defer func() {
		b.metrics.RecordLatency("bundle_build", b.now().Sub(start).Seconds())
	}()

	if !opts.Force {
		if cached := b.cache.Read(); cached != nil {
			b.metrics.RecordCacheEvent("hit")
			out := *cached
			out.SourceStatus = withMode(out.SourceStatus, models.ModeCache)
			return &out, nil
		}
		b.metrics.RecordCacheEvent("miss")
	}

	var bundle *models.EconomyBundle
	if opts.Mode == models.ModeCSV || opts.Date != "" {
		bundle = b.buildFromArchive(opts.Date)
	} else {
		bundle = b.buildLive(ctx)
	}

	b.cache.Write(bundle)
	b.metrics.RecordCacheEvent("write")
	b.metrics.RecordIndicatorCount("fred", len(bundle.Fred))
	b.metrics.RecordIndicatorCount("alpha", len(bundle.Alpha))

	res := b.persist(ctx, bundle)
	return bundle, res
}

// buildLive fans out to every live adapter concurrently, waits for all of
// them, merges and filters. A slow or failing adapter cannot poison the
// others.
func (b *BundleBuilder) buildLive(ctx context.Context) *models.EconomyBundle {
	cachedAny := b.cache.ReadAny()

	in := &MergeInputs{
		Cached:   cachedAny,
		MetalsOn: b.metals.Enabled(),
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if !b.metals.Enabled() {
			b.metrics.RecordSourceFetch("metals", "disabled")
			return
		}
		in.MetalsCopper, in.MetalsUsdJpy = b.metals.FetchLatest(ctx)
		b.recordFetch("metals", in.MetalsCopper != nil || in.MetalsUsdJpy != nil, true)
	}()
	go func() {
		defer wg.Done()
		in.Fred = b.fred.FetchAll(ctx)
		b.recordFetch("fred", len(in.Fred) > 0, b.fred.Enabled())
	}()
	go func() {
		defer wg.Done()
		in.Alpha = b.alpha.FetchAll(ctx)
		b.recordFetch("alpha", len(in.Alpha) > 0, b.alpha.Enabled())
	}()
	go func() {
		defer wg.Done()
		// Substitutes only matter while the dedicated providers are off.
		if !b.metals.Enabled() {
			in.CopperSub = b.fred.CopperSubstitute(ctx)
			in.UsdJpySub = b.fred.UsdJpySubstitute(ctx)
		}
	}()
	wg.Wait()

	in.Fred = b.fresh.Filter(in.Fred, HorizonLong)
	in.Alpha = b.fresh.Filter(in.Alpha, HorizonLong)

	merged := b.merge.Merge(in)
	now := b.now()
	bundle := &models.EconomyBundle{
		CacheVersion:   models.BundleCacheVersion,
		UpdatedAt:      now.UTC(),
		CacheDateJst:   util.TodayJST(now),
		CacheBucketJst: util.NoonBucketJST(now),
		SourceStatus:   b.sourceStatus(in, merged, models.ModeLive),
		Fred:           emptyIfNil(merged.Fred),
		Alpha:          emptyIfNil(merged.Alpha),
	}
	return bundle
}

// buildFromArchive builds a point-in-time bundle from the CSV archives,
// bypassing every network source.
func (b *BundleBuilder) buildFromArchive(date string) *models.EconomyBundle {
	now := b.now()
	if date == "" {
		date = util.TodayJST(now)
	}

	var fred, alpha []models.Indicator
	if ind := b.archive.ReadAtOrBefore("lme_copper_usd", date); ind != nil {
		fred = append(fred, *ind)
	}
	if ind := b.archive.ReadAtOrBefore("usd_jpy", date); ind != nil {
		alpha = append(alpha, *ind)
	}
	if ind := b.archive.ReadAtOrBefore("usd_cny", date); ind != nil {
		alpha = append(alpha, *ind)
	}

	status := models.SourceStatus{
		"fred":   listStatus(fred),
		"alpha":  listStatus(alpha),
		"metals": models.StatusDisabled,
		"mode":   models.ModeCSV,
	}
	return &models.EconomyBundle{
		CacheVersion:   models.BundleCacheVersion,
		UpdatedAt:      now.UTC(),
		CacheDateJst:   util.TodayJST(now),
		CacheBucketJst: util.NoonBucketJST(now),
		SourceStatus:   status,
		Fred:           emptyIfNil(fred),
		Alpha:          emptyIfNil(alpha),
	}
}

// Get serves the read path with the full fallback chain. It never fails:
// the terminal fallback is a well-formed empty bundle.
func (b *BundleBuilder) Get(ctx context.Context) *models.EconomyBundle {
	if cached := b.cache.Read(); cached != nil {
		b.metrics.RecordCacheEvent("hit")
		out := *cached
		out.SourceStatus = withMode(out.SourceStatus, models.ModeCache)
		return &out
	}
	b.metrics.RecordCacheEvent("miss")

	// Curated static export outranks every network source when present.
	if exported := b.bundleFromExport(); exported != nil {
		return exported
	}

	if b.production && b.store != nil {
		if rec, err := b.store.Latest(ctx); err == nil && rec != nil {
			if bundle := bundleFromRecord(rec); bundle != nil {
				return bundle
			}
		} else if err != nil {
			b.log.Warn("remote snapshot read failed", logger.Error(err))
		}
	}

	if b.allowFileFall && b.local != nil {
		if snap := b.local.ReadAny(); snap != nil {
			out := *snap
			out.SourceStatus = withMode(out.SourceStatus, models.ModeSnapshot)
			return &out
		}
	}

	if b.allowLiveRebuild && !b.production {
		bundle, _ := b.Build(ctx, BuildOptions{Force: true, Mode: models.ModeLive})
		return bundle
	}

	if stale := b.cache.ReadAny(); stale != nil {
		out := *stale
		out.SourceStatus = withMode(out.SourceStatus, models.ModeCache)
		return &out
	}

	return models.EmptyBundle(util.NoonBucketJST(b.now()))
}

// RecentIndicatorValues returns up to limit newest-first records of one
// indicator from the remote snapshot history, deduplicated by observation
// date, falling back to the static export.
func (b *BundleBuilder) RecentIndicatorValues(ctx context.Context, indicatorID string, limit int) []models.Indicator {
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}

	if b.store != nil {
		recs, err := b.store.History(ctx, limit)
		if err != nil {
			b.log.Warn("snapshot history read failed", logger.Error(err))
		} else {
			hits := make([]models.Indicator, 0, limit)
			seen := map[string]bool{}
			for _, rec := range recs {
				for _, ind := range rec.Indicators {
					if ind.ID != indicatorID {
						continue
					}
					if ind.Date != "" && seen[ind.Date] {
						continue
					}
					seen[ind.Date] = true
					hits = append(hits, ind)
					break
				}
				if len(hits) >= limit {
					break
				}
			}
			if len(hits) > 0 {
				return hits
			}
		}
	}
	if b.export != nil {
		return b.export.RecentIndicatorValues(indicatorID, limit)
	}
	return nil
}

// persist upserts the bundle to the remote snapshot store and announces the
// rebuild. Failures are reported per step, never thrown.
func (b *BundleBuilder) persist(ctx context.Context, bundle *models.EconomyBundle) *PersistResult {
	if b.store == nil {
		return &PersistResult{OK: false, Action: "skipped", Error: "snapshot store not configured"}
	}
	date := bundle.CacheBucketJst
	if date == "" {
		date = bundle.CacheDateJst
	}
	if date == "" {
		return &PersistResult{OK: false, Action: "skipped", Error: "snapshot date is empty"}
	}

	rec := &drepo.SnapshotRecord{
		Date:         date,
		Indicators:   bundle.All(),
		SourceStatus: bundle.SourceStatus,
		UpdatedAt:    bundle.UpdatedAt.Format(time.RFC3339),
	}
	if err := b.store.Upsert(ctx, rec); err != nil {
		b.log.Error("snapshot upsert failed", logger.String("date", date), logger.Error(err))
		return &PersistResult{OK: false, Action: "failed", Error: err.Error()}
	}

	if b.pub != nil {
		if err := b.pub.PublishRebuilt(ctx, date, len(rec.Indicators)); err != nil {
			// The snapshot is durable; a lost event only delays consumers.
			b.log.Warn("rebuild event publish failed", logger.Error(err))
		}
	}
	return &PersistResult{OK: true, Action: "upserted"}
}

func (b *BundleBuilder) bundleFromExport() *models.EconomyBundle {
	if b.export == nil {
		return nil
	}
	copper := b.export.RecentIndicatorValues("lme_copper_usd", 2)
	usdJpy := b.export.RecentIndicatorValues("usd_jpy", 2)
	usdCny := b.export.RecentIndicatorValues("usd_cny", 2)
	if len(copper) == 0 && len(usdJpy) == 0 && len(usdCny) == 0 {
		return nil
	}

	now := b.now()
	bundle := &models.EconomyBundle{
		CacheVersion:   models.BundleCacheVersion,
		UpdatedAt:      now.UTC(),
		CacheDateJst:   util.TodayJST(now),
		CacheBucketJst: util.NoonBucketJST(now),
		Fred:           []models.Indicator{},
		Alpha:          []models.Indicator{},
	}
	if ind := latestWithChange(copper); ind != nil {
		bundle.Fred = append(bundle.Fred, *ind)
	}
	if ind := latestWithChange(usdJpy); ind != nil {
		bundle.Alpha = append(bundle.Alpha, *ind)
	}
	if ind := latestWithChange(usdCny); ind != nil {
		bundle.Alpha = append(bundle.Alpha, *ind)
	}
	bundle.SourceStatus = models.SourceStatus{
		"fred":   listStatus(bundle.Fred),
		"alpha":  listStatus(bundle.Alpha),
		"metals": models.StatusDisabled,
		"mode":   models.ModeCSV,
	}
	return bundle
}

// latestWithChange turns a newest-first pair into one indicator with its
// change percent derived from the older record.
func latestWithChange(list []models.Indicator) *models.Indicator {
	if len(list) == 0 {
		return nil
	}
	if len(list) == 1 {
		return &list[0]
	}
	return models.WithChangeFromPrev(&list[0], &list[1])
}

func bundleFromRecord(rec *drepo.SnapshotRecord) *models.EconomyBundle {
	var fred, alpha []models.Indicator
	for _, ind := range rec.Indicators {
		if ind.Source == models.SourceAlphaVantage {
			alpha = append(alpha, ind)
		} else {
			fred = append(fred, ind)
		}
	}
	if len(fred) == 0 && len(alpha) == 0 {
		return nil
	}
	updatedAt, ok := util.ParseTime(rec.UpdatedAt)
	if !ok {
		updatedAt = time.Now()
	}
	return &models.EconomyBundle{
		CacheVersion:   models.BundleCacheVersion,
		UpdatedAt:      updatedAt,
		CacheDateJst:   rec.Date,
		CacheBucketJst: rec.Date,
		SourceStatus:   withMode(rec.SourceStatus, models.ModeSnapshot),
		Fred:           emptyIfNil(fred),
		Alpha:          emptyIfNil(alpha),
	}
}

func (b *BundleBuilder) sourceStatus(in *MergeInputs, merged *MergeResult, mode string) models.SourceStatus {
	status := models.SourceStatus{"mode": mode}

	switch {
	case !b.fred.Enabled():
		status["fred"] = models.StatusDisabled
	case len(in.Fred) > 0:
		status["fred"] = models.StatusOK
	default:
		status["fred"] = models.StatusEmpty
	}

	switch {
	case !b.alpha.Enabled():
		status["alpha"] = models.StatusDisabled
	case len(in.Alpha) > 0:
		status["alpha"] = models.StatusOK
	case merged.Provenance["usd_jpy"] == StepCached || merged.Provenance["usd_jpy"] == StepSubstitute:
		status["alpha"] = models.StatusFallback
	default:
		status["alpha"] = models.StatusEmpty
	}

	switch {
	case !b.metals.Enabled():
		status["metals"] = models.StatusDisabled
	case merged.Provenance["lme_copper_jpy"] == StepLive:
		status["metals"] = models.StatusOK
	case merged.Provenance["lme_copper_jpy"] != "":
		status["metals"] = models.StatusFallback
	default:
		status["metals"] = models.StatusEmpty
	}
	return status
}

func (b *BundleBuilder) recordFetch(source string, gotData, enabled bool) {
	switch {
	case !enabled:
		b.metrics.RecordSourceFetch(source, "disabled")
	case gotData:
		b.metrics.RecordSourceFetch(source, "ok")
	default:
		b.metrics.RecordSourceFetch(source, "empty")
	}
}

func listStatus(list []models.Indicator) string {
	if len(list) > 0 {
		return models.StatusOK
	}
	return models.StatusEmpty
}

func withMode(status models.SourceStatus, mode string) models.SourceStatus {
	out := models.SourceStatus{}
	for k, v := range status {
		out[k] = v
	}
	out["mode"] = mode
	return out
}

func emptyIfNil(list []models.Indicator) []models.Indicator {
	if list == nil {
		return []models.Indicator{}
	}
	return list
}
