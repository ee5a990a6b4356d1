package authz

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hitoshi/campushub/internal/metrics"
	"github.com/hitoshi/campushub/internal/model"
)

// ProfileCache はidentity IDをキーとしたプロフィールのLRUキャッシュ（TTL付き）。
// 見つかったプロフィールのみを保持し、未作成や参照失敗はキャッシュしない。
type ProfileCache struct {
	cache   *expirable.LRU[string, *model.Profile]
	metrics metrics.MetricsCollector
}

// NewProfileCache は最大件数とTTLを指定してキャッシュを生成する。
// sizeが0以下の場合はnilを返し、キャッシュを使用しない。
func NewProfileCache(size int, ttl time.Duration, collector metrics.MetricsCollector) *ProfileCache {
	if size <= 0 {
		return nil
	}
	return &ProfileCache{
		cache:   expirable.NewLRU[string, *model.Profile](size, nil, ttl),
		metrics: collector,
	}
}

// Get はキャッシュからプロフィールを取得し、ヒット・ミスを記録する。
func (c *ProfileCache) Get(identityID string) (*model.Profile, bool) {
	if c == nil {
		return nil, false
	}
	profile, ok := c.cache.Get(identityID)
	if c.metrics != nil {
		if ok {
			c.metrics.RecordProfileCacheHit()
		} else {
			c.metrics.RecordProfileCacheMiss()
		}
	}
	return profile, ok
}

// Set はプロフィールをキャッシュに追加する。
func (c *ProfileCache) Set(identityID string, profile *model.Profile) {
	if c == nil || profile == nil {
		return
	}
	c.cache.Add(identityID, profile)
}

// Invalidate はキャッシュからプロフィールを削除する。
func (c *ProfileCache) Invalidate(identityID string) {
	if c == nil {
		return
	}
	c.cache.Remove(identityID)
}
