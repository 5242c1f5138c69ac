package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("connection refused")
}

func (brokenCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) DeleteByPattern(ctx context.Context, pattern string) error {
	return errors.New("connection refused")
}

func TestCacheServiceHitMissAndInvalidate(t *testing.T) {
	store := newMemoryCache()
	metrics := NewMetricsService()
	svc := NewCacheService(store, metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out map[string]string
	hit, err := svc.Get(ctx, "catalog:program:p-msgis", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "catalog:program:p-msgis", map[string]string{"code": "MSGIS-2024"}, 0))
	require.NoError(t, svc.Set(ctx, "session:u-kasun", "x", 0))
	hit, err = svc.Get(ctx, "catalog:program:p-msgis", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "MSGIS-2024", out["code"])

	svc.InvalidateCatalog(ctx)
	assert.NotContains(t, store.values, "catalog:program:p-msgis")
	assert.Contains(t, store.values, "session:u-kasun")

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
}

func TestCacheServiceDisabled(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, nil, 0, nil, false)
	require.NoError(t, svc.Set(context.Background(), "catalog:course:c-gis101", "x", 0))
	assert.Empty(t, store.values)

	var nilSvc *CacheService
	hit, err := nilSvc.Get(context.Background(), "catalog:course:c-gis101", new(string))
	require.NoError(t, err)
	assert.False(t, hit)
	nilSvc.InvalidateCatalog(context.Background())
}

func TestCacheServiceStoreFailure(t *testing.T) {
	svc := NewCacheService(brokenCache{}, nil, time.Minute, nil, true)
	hit, err := svc.Get(context.Background(), "catalog:program:p-bscs", new(string))
	require.Error(t, err)
	assert.False(t, hit)
	require.Error(t, svc.Set(context.Background(), "catalog:program:p-bscs", "x", 0))
	require.Error(t, svc.Invalidate(context.Background(), CatalogCachePattern))
}
