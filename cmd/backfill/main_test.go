package main

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fortuna/rapm/internal/cache"
	"github.com/fortuna/rapm/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRawCachePrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	raw, closeCache, err := openRawCache(config.CacheConfig{Dir: t.TempDir(), RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer closeCache()
	assert.IsType(t, &cache.RedisCache{}, raw)

	raw, closeCache, err = openRawCache(config.CacheConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	defer closeCache()
	assert.IsType(t, &cache.DirCache{}, raw)

	raw, _, err = openRawCache(config.CacheConfig{})
	require.NoError(t, err)
	assert.Nil(t, raw)
}
