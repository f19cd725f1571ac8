package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"copperwatch/internal/domain/models"
	"copperwatch/internal/usecase"
	pkgcache "copperwatch/pkg/cache"
	xhttp "copperwatch/pkg/http"
	xlogger "copperwatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	rebuildTokenHeader  = "X-Economy-Snapshot-Token"
	snapshotTokenHeader = "X-Market-Snapshot-Token"
)

var (
	marketSnapshotPageKey   = pkgcache.GenerateKey("page", "market_snapshot")
	warrantDashboardPageKey = pkgcache.GenerateKey("page", "warrant_dashboard")
)

// BundleService is the economy-bundle surface the handlers consume.
type BundleService interface {
	Build(ctx context.Context, opts usecase.BuildOptions) (*models.EconomyBundle, *usecase.PersistResult)
	Get(ctx context.Context) *models.EconomyBundle
	RecentIndicatorValues(ctx context.Context, indicatorID string, limit int) []models.Indicator
}

// DashboardService builds the inventory dashboard.
type DashboardService interface {
	Build() *models.WarrantDashboard
}

// SnapshotEchoHandler serves the rebuild, market-snapshot and
// warrant-dashboard endpoints. Both read endpoints are page-cached in Redis
// per bucket so repeated polls inside one bucket cost nothing.
type SnapshotEchoHandler struct {
	logger  *xlogger.Logger
	builder BundleService
	warrant DashboardService
	pages   pkgcache.Service
	pageTTL time.Duration

	rebuildToken  string
	snapshotToken string
	production    bool
}

type SnapshotHandlerConfig struct {
	RebuildToken  string
	SnapshotToken string
	Production    bool
	PageTTL       time.Duration
}

func NewSnapshotEchoHandler(
	logger *xlogger.Logger,
	builder BundleService,
	warrant DashboardService,
	pages pkgcache.Service,
	cfg SnapshotHandlerConfig,
) *SnapshotEchoHandler {
	// The rebuild endpoint accepts the snapshot token when it has no
	// dedicated one.
	rebuildToken := strings.TrimSpace(cfg.RebuildToken)
	if rebuildToken == "" {
		rebuildToken = strings.TrimSpace(cfg.SnapshotToken)
	}
	ttl := cfg.PageTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotEchoHandler{
		logger:        logger,
		builder:       builder,
		warrant:       warrant,
		pages:         pages,
		pageTTL:       ttl,
		rebuildToken:  rebuildToken,
		snapshotToken: strings.TrimSpace(cfg.SnapshotToken),
		production:    cfg.Production,
	}
}

func (h *SnapshotEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	g := e.Group("/api")
	g.GET("/economy-snapshot/rebuild", h.Rebuild)
	g.POST("/economy-snapshot/rebuild", h.Rebuild)
	g.GET("/market-snapshot", h.MarketSnapshot)
	g.GET("/warrant-dashboard", h.WarrantDashboard)
}

type rebuildPayload struct {
	OK             bool                   `json:"ok"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	CacheBucketJst string                 `json:"cacheBucketJst"`
	SourceStatus   models.SourceStatus    `json:"sourceStatus"`
	Counts         map[string]int         `json:"counts"`
	Persist        *usecase.PersistResult `json:"persist,omitempty"`
}

func (h *SnapshotEchoHandler) Rebuild(c echo.Context) error {
	if !h.authorized(c, h.rebuildToken, rebuildTokenHeader) {
		return xhttp.UnauthorizedResponse(c, "unauthorized")
	}
	req := &models.RebuildRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bundle, persist := h.builder.Build(c.Request().Context(), usecase.BuildOptions{
		Force: req.Force,
		Mode:  req.Mode,
		Date:  req.Date,
	})
	h.invalidatePages(c)

	return xhttp.SuccessResponse(c, &rebuildPayload{
		OK:             true,
		UpdatedAt:      bundle.UpdatedAt,
		CacheBucketJst: bundle.CacheBucketJst,
		SourceStatus:   bundle.SourceStatus,
		Counts: map[string]int{
			"fred":  len(bundle.Fred),
			"alpha": len(bundle.Alpha),
		},
		Persist: persist,
	})
}

type dailySlice struct {
	Latest    *models.DayPoint `json:"latest"`
	Prev      *models.DayPoint `json:"prev"`
	DiffPct1d *float64         `json:"diffPct1d"`
	DiffPct7d *float64         `json:"diffPct7d,omitempty"`
}

type referenceSlice struct {
	Latest  *models.DayPoint `json:"latest"`
	Prev    *models.DayPoint `json:"prev"`
	DiffPct *float64         `json:"diffPct"`
}

type monthlySlice struct {
	Latest     *models.MonthPoint `json:"latest"`
	Prev       *models.MonthPoint `json:"prev"`
	DiffPctMoM *float64           `json:"diffPctMoM"`
}

type marketSnapshotPayload struct {
	OK             bool                          `json:"ok"`
	GeneratedAt    time.Time                     `json:"generatedAt"`
	CacheUpdatedAt time.Time                     `json:"cacheUpdatedAt"`
	CacheBucketJst string                        `json:"cacheBucketJst"`
	Core           coreSection                   `json:"core"`
	Weekly         weeklySection                 `json:"weekly"`
	Support        map[string]*models.Indicator  `json:"support"`
	History        map[string][]models.Indicator `json:"history,omitempty"`
}

type coreSection struct {
	Lme          *models.Indicator `json:"lme"`
	UsdJpy       *models.Indicator `json:"usdJpy"`
	WarrantDaily dailySlice        `json:"warrantDaily"`
	DomesticTate referenceSlice    `json:"domesticTate"`
}

type weeklySection struct {
	OffWarrantMonthly monthlySlice      `json:"offWarrantMonthly"`
	WarrantRatio      *float64          `json:"warrantRatio"`
	Copx              *models.Indicator `json:"copx"`
	Fcx               *models.Indicator `json:"fcx"`
	UsdCny            *models.Indicator `json:"usdCny"`
}

// supportSeries maps payload keys to indicator ids for the support section.
var supportSeries = map[string]string{
	"dgs10":     "DGS10",
	"vix":       "VIXCLS",
	"dxy":       "DTWEXBGS",
	"wti":       "DCOILWTICO",
	"brent":     "DCOILBRENTEU",
	"gas":       "GASREGCOVW",
	"ipman":     "IPMAN",
	"dgorder":   "DGORDER",
	"tcu":       "TCU",
	"tlrescons": "TLRESCONS",
	"houst":     "HOUST",
	"permit":    "PERMIT",
	"gdp":       "GDP",
	"cpi":       "CPIAUCSL",
	"ppi":       "PPIACO",
	"chile":     "CHLPROINDMISMEI",
	"peru":      "PERPROINDMISMEI",
	"spy":       "sp500",
}

// historySeries lists the indicators eligible for ?history=true.
var historySeries = []string{"lme_copper_jpy", "usd_jpy", "usd_cny"}

func (h *SnapshotEchoHandler) MarketSnapshot(c echo.Context) error {
	if !h.authorized(c, h.snapshotToken, snapshotTokenHeader) {
		return xhttp.UnauthorizedResponse(c, "unauthorized")
	}
	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	// History responses vary per request, only the plain page is cached.
	cacheKey := marketSnapshotPageKey
	if h.pages != nil && !req.History {
		var cached marketSnapshotPayload
		if err := h.pages.Get(ctx, cacheKey, &cached); err == nil {
			return xhttp.SuccessResponse(c, &cached)
		}
	}

	bundle := h.builder.Get(ctx)
	dash := h.warrant.Build()
	all := bundle.All()

	payload := &marketSnapshotPayload{
		OK:             true,
		GeneratedAt:    time.Now().UTC(),
		CacheUpdatedAt: bundle.UpdatedAt,
		CacheBucketJst: bucketOrLegacy(bundle),
		Core: coreSection{
			Lme:    pick(all, "lme_copper_jpy"),
			UsdJpy: pick(all, "usd_jpy"),
			WarrantDaily: dailySlice{
				Latest:    dash.Warrant.Latest,
				Prev:      dash.Warrant.Prev,
				DiffPct1d: dash.Warrant.DiffPct1d,
				DiffPct7d: dash.Warrant.DiffPct7d,
			},
			DomesticTate: referenceSlice{
				Latest:  dash.ReferencePrice.Latest,
				Prev:    dash.ReferencePrice.Prev,
				DiffPct: dash.ReferencePrice.DiffPct1d,
			},
		},
		Weekly: weeklySection{
			OffWarrantMonthly: monthlySlice{
				Latest:     dash.OffWarrant.Latest,
				Prev:       dash.OffWarrant.Prev,
				DiffPctMoM: dash.OffWarrant.DiffPctMoM,
			},
			WarrantRatio: dash.Ratio,
			Copx:         pick(all, "copx"),
			Fcx:          pick(all, "fcx"),
			UsdCny:       pick(all, "usd_cny"),
		},
		Support: map[string]*models.Indicator{},
	}
	for key, id := range supportSeries {
		payload.Support[key] = pick(all, id)
	}

	if req.History {
		payload.History = map[string][]models.Indicator{}
		for _, id := range historySeries {
			payload.History[id] = h.builder.RecentIndicatorValues(ctx, id, req.Limit)
		}
	}

	if h.pages != nil && !req.History {
		if err := h.pages.Set(ctx, cacheKey, payload, h.pageTTL); err != nil {
			h.logger.Warn("page cache write failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, payload)
}

func (h *SnapshotEchoHandler) WarrantDashboard(c echo.Context) error {
	req := &models.DashboardRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	cacheKey := warrantDashboardPageKey
	if h.pages != nil && !req.Refresh {
		var cached models.WarrantDashboard
		if err := h.pages.Get(ctx, cacheKey, &cached); err == nil {
			return xhttp.SuccessResponse(c, &cached)
		}
	}

	dash := h.warrant.Build()
	if h.pages != nil {
		if err := h.pages.Set(ctx, cacheKey, dash, h.pageTTL); err != nil {
			h.logger.Warn("page cache write failed", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, dash)
}

// authorized checks the bearer token or the endpoint's dedicated header in
// constant time. With no token configured, access is open outside production.
func (h *SnapshotEchoHandler) authorized(c echo.Context, token, header string) bool {
	if token == "" {
		return !h.production
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	var bearer string
	if strings.HasPrefix(auth, "Bearer ") {
		bearer = strings.TrimSpace(auth[len("Bearer "):])
	}
	xToken := strings.TrimSpace(c.Request().Header.Get(header))
	return tokenMatches(bearer, token) || tokenMatches(xToken, token)
}

func tokenMatches(candidate, token string) bool {
	if candidate == "" || len(candidate) != len(token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

func (h *SnapshotEchoHandler) invalidatePages(c echo.Context) {
	if h.pages == nil {
		return
	}
	if err := h.pages.Delete(c.Request().Context(), marketSnapshotPageKey, warrantDashboardPageKey); err != nil {
		h.logger.Warn("page cache invalidation failed", xlogger.Error(err))
	}
}

func pick(indicators []models.Indicator, id string) *models.Indicator {
	for i := range indicators {
		if indicators[i].ID == id {
			return &indicators[i]
		}
	}
	return nil
}

func bucketOrLegacy(b *models.EconomyBundle) string {
	if b.CacheBucketJst != "" {
		return b.CacheBucketJst
	}
	return b.CacheDateJst
}
