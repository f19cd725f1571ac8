package bundlecache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"copperwatch/internal/domain/models"
	"copperwatch/pkg/util"
)

const ttl = 24 * time.Hour

// Cache is the versioned local bundle file. Reads validate schema version,
// bucket, indicator provenance and required-source presence; anything off is
// treated as a miss, never an error. Writes replace the whole document.
type Cache struct {
	path string
	now  func() time.Time

	// Required-source checks: when a provider key is configured its
	// characteristic indicator must be present or the cache is rejected.
	metalsRequired bool
	alphaRequired  bool
}

func New(path string, metalsRequired, alphaRequired bool) *Cache {
	return &Cache{
		path:           path,
		now:            time.Now,
		metalsRequired: metalsRequired,
		alphaRequired:  alphaRequired,
	}
}

// Read returns the cached bundle when it is still valid for the current
// bucket, or nil.
func (c *Cache) Read() *models.EconomyBundle {
	b := c.ReadAny()
	if b == nil {
		return nil
	}
	if b.CacheVersion != models.BundleCacheVersion {
		return nil
	}
	// Older cache shapes lack per-indicator provenance; force a rebuild.
	for _, ind := range b.All() {
		if ind.LastUpdated == "" {
			return nil
		}
	}

	now := c.now()
	inBucket := false
	if b.CacheBucketJst != "" {
		inBucket = b.CacheBucketJst == util.NoonBucketJST(now)
	} else if b.CacheDateJst != "" {
		// Caches written before the bucket field existed keyed on the day.
		inBucket = b.CacheDateJst == util.TodayJST(now)
	}
	if !inBucket {
		if now.Sub(b.UpdatedAt) > ttl {
			return nil
		}
	}

	if c.metalsRequired && !hasIndicator(b.Fred, "lme_copper_jpy", models.SourceMetalsDev) {
		return nil
	}
	if c.alphaRequired && !hasUsdJpy(b.Alpha) {
		return nil
	}
	return b
}

// ReadAny returns whatever bundle the file holds, regardless of staleness.
// Used as the terminal local fallback and as the prior-value source for the
// merge resolver.
func (c *Cache) ReadAny() *models.EconomyBundle {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var b models.EconomyBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	if b.UpdatedAt.IsZero() {
		return nil
	}
	return &b
}

// Write persists the bundle. The write is tmp+rename so concurrent readers
// see either the old or the new complete document. Failures are swallowed:
// a broken cache only costs an extra rebuild.
func (c *Cache) Write(b *models.EconomyBundle) {
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return
	}
	if err := os.Rename(name, c.path); err != nil {
		os.Remove(name)
	}
}

func hasIndicator(list []models.Indicator, id, source string) bool {
	for _, i := range list {
		if i.ID == id && i.Source == source {
			return true
		}
	}
	return false
}

// The FX rate may legitimately come from either live FX provider.
func hasUsdJpy(list []models.Indicator) bool {
	for _, i := range list {
		if i.ID == "usd_jpy" && (i.Source == models.SourceAlphaVantage || i.Source == models.SourceMetalsDev) {
			return true
		}
	}
	return false
}
