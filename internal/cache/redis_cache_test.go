package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tokosamanda/backend/internal/domain"
)

func newTestCache(t *testing.T) (*RedisStockReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisStockReportCacheFromClient(client)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisStockReportCacheRoundTripsUnderGeneration(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	require.Zero(t, gen)

	report := &domain.StockReport{
		GeneratedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Rows: []domain.StockReportRow{{
			ProductID:    1,
			SKU:          "BRS-5KG",
			Name:         "Beras Pandan Wangi 5kg",
			CurrentStock: 12,
			Batches:      []domain.StockBatchView{{BatchID: 3, Remaining: 12, UnitCost: decimal.RequireFromString("61500.00")}},
		}},
	}
	require.NoError(t, c.Set(ctx, gen, report, time.Minute))

	got, ok, err := c.Get(ctx, gen)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12, got.Rows[0].CurrentStock)
	require.True(t, got.Rows[0].Batches[0].UnitCost.Equal(decimal.RequireFromString("61500")))
}

func TestRedisStockReportCacheBumpOrphansOlderReports(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 0, &domain.StockReport{}, time.Minute))
	require.NoError(t, c.Bump(ctx))

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)

	_, ok, err := c.Get(ctx, gen)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStockReportCacheExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 0, &domain.StockReport{}, 30*time.Second))
	mr.FastForward(31 * time.Second)

	_, ok, err := c.Get(ctx, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNoopStockReportCacheAlwaysMisses(t *testing.T) {
	var c StockReportCache = NoopStockReportCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 0, &domain.StockReport{}, time.Minute))
	_, ok, err := c.Get(ctx, 0)
	require.NoError(t, err)
	require.False(t, ok)
}
