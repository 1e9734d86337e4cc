package cache

import (
	"context"
	"time"

	"tokosamanda/backend/internal/domain"
)

// StockReportCache stores built stock reports keyed by ledger generation.
// Bump is called after every committed ledger write, which orphans every
// report cached under an older generation.
type StockReportCache interface {
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
	Get(ctx context.Context, generation int64) (*domain.StockReport, bool, error)
	Set(ctx context.Context, generation int64, value *domain.StockReport, ttl time.Duration) error
}

type NoopStockReportCache struct{}

func (NoopStockReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopStockReportCache) Bump(_ context.Context) error {
	return nil
}

func (NoopStockReportCache) Get(_ context.Context, _ int64) (*domain.StockReport, bool, error) {
	return nil, false, nil
}

func (NoopStockReportCache) Set(_ context.Context, _ int64, _ *domain.StockReport, _ time.Duration) error {
	return nil
}
