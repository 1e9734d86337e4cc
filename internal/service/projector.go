package service

import (
	"cmp"
	"context"
	"slices"
	"strconv"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

// CurrentStock is the sum of quantity_remaining over the product's batches.
func (s *Service) CurrentStock(ctx context.Context, productID int64) (int, error) {
	const op = "current_stock"
	if productID <= 0 {
		return 0, &ValidationError{Field: "product_id", Message: "must be a positive integer"}
	}
	total := 0
	err := s.ledger.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		if err := requireProduct(ctx, tx, productID); err != nil {
			return err
		}
		open, err := tx.ListBatches(ctx, store.BatchFilter{ProductID: productID, OpenOnly: true})
		if err != nil {
			return err
		}
		total = sumRemaining(open)
		return nil
	})
	if err != nil {
		return 0, classify(op, err)
	}
	return total, nil
}

// StockReport lists every product with its stock and open batch breakdown.
// The report is built from one read snapshot and cached until the next
// committed ledger write.
func (s *Service) StockReport(ctx context.Context) (domain.StockReport, error) {
	const op = "stock_report"

	generation, err := s.cache.Generation(ctx)
	cacheable := err == nil
	if err != nil {
		s.logger.WithError(err).WithField("op", op).Warn("stock report cache unavailable")
	}
	if cacheable {
		cached, ok, err := s.cache.Get(ctx, generation)
		if err != nil {
			s.logger.WithError(err).WithField("op", op).Warn("stock report cache read failed")
		} else if ok {
			return *cached, nil
		}
	}

	v, err, _ := s.reports.Do("stock-report:"+strconv.FormatInt(generation, 10), func() (any, error) {
		return s.buildStockReport(ctx)
	})
	if err != nil {
		return domain.StockReport{}, classify(op, err)
	}
	report := v.(domain.StockReport)

	if cacheable {
		if err := s.cache.Set(ctx, generation, &report, s.reportTTL); err != nil {
			s.logger.WithError(err).WithField("op", op).Warn("stock report cache write failed")
		}
	}
	return report, nil
}

func (s *Service) buildStockReport(ctx context.Context) (domain.StockReport, error) {
	report := domain.StockReport{Rows: []domain.StockReportRow{}}
	err := s.ledger.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		products, err := tx.ListProducts(ctx)
		if err != nil {
			return err
		}
		open, err := tx.ListBatches(ctx, store.BatchFilter{OpenOnly: true})
		if err != nil {
			return err
		}
		byProduct := groupByProduct(open)

		slices.SortFunc(products, func(a, b domain.Product) int {
			if c := cmp.Compare(a.Name, b.Name); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for _, p := range products {
			batches := byProduct[p.ID]
			row := domain.StockReportRow{
				ProductID:    p.ID,
				SKU:          p.SKU,
				Name:         p.Name,
				CategoryName: p.CategoryName,
				CurrentStock: sumRemaining(batches),
				Batches:      make([]domain.StockBatchView, 0, len(batches)),
			}
			for i, b := range batches {
				if i == 0 || b.BatchDate.Before(*row.OldestBatchDate) {
					d := b.BatchDate
					row.OldestBatchDate = &d
				}
				if i == 0 || b.BatchDate.After(*row.NewestBatchDate) {
					d := b.BatchDate
					row.NewestBatchDate = &d
				}
				row.Batches = append(row.Batches, domain.StockBatchView{
					BatchID:      b.ID,
					Remaining:    b.QuantityRemaining,
					UnitCost:     b.UnitCost,
					BatchDate:    b.BatchDate,
					SupplierName: b.SupplierName,
				})
			}
			report.Rows = append(report.Rows, row)
		}
		return nil
	})
	report.GeneratedAt = s.now()
	return report, err
}

// LowStock lists products whose stock is below the configured threshold,
// lowest first.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	const op = "low_stock"
	items := make([]domain.LowStockItem, 0)
	err := s.ledger.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		products, err := tx.ListProducts(ctx)
		if err != nil {
			return err
		}
		open, err := tx.ListBatches(ctx, store.BatchFilter{OpenOnly: true})
		if err != nil {
			return err
		}
		byProduct := groupByProduct(open)
		for _, p := range products {
			stock := sumRemaining(byProduct[p.ID])
			if stock < s.lowStockThreshold {
				items = append(items, domain.LowStockItem{ProductID: p.ID, SKU: p.SKU, Name: p.Name, CurrentStock: stock})
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	slices.SortFunc(items, func(a, b domain.LowStockItem) int {
		if c := cmp.Compare(a.CurrentStock, b.CurrentStock); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(items) > s.lowStockLimit {
		items = items[:s.lowStockLimit]
	}
	return items, nil
}

// ProductLedger returns the stock card of one product: every batch including
// exhausted ones and every movement in recording order.
func (s *Service) ProductLedger(ctx context.Context, productID int64) (domain.ProductLedger, error) {
	const op = "product_ledger"
	if productID <= 0 {
		return domain.ProductLedger{}, &ValidationError{Field: "product_id", Message: "must be a positive integer"}
	}
	var card domain.ProductLedger
	err := s.ledger.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		products, err := tx.GetProducts(ctx, []int64{productID})
		if err != nil {
			return err
		}
		product, ok := products[productID]
		if !ok {
			return &NotFoundError{Kind: "product", ID: productID}
		}
		batches, err := tx.ListBatches(ctx, store.BatchFilter{ProductID: productID})
		if err != nil {
			return err
		}
		movements, err := tx.ListMovements(ctx, store.MovementFilter{ProductID: productID})
		if err != nil {
			return err
		}
		card = domain.ProductLedger{
			Product:      product,
			CurrentStock: sumRemaining(batches),
			Batches:      batches,
			Movements:    movements,
		}
		return nil
	})
	if err != nil {
		return domain.ProductLedger{}, classify(op, err)
	}
	return card, nil
}

func requireProduct(ctx context.Context, tx store.ReadTx, productID int64) error {
	products, err := tx.GetProducts(ctx, []int64{productID})
	if err != nil {
		return err
	}
	if _, ok := products[productID]; !ok {
		return &NotFoundError{Kind: "product", ID: productID}
	}
	return nil
}

func groupByProduct(batches []domain.Batch) map[int64][]domain.Batch {
	out := make(map[int64][]domain.Batch)
	for _, b := range batches {
		out[b.ProductID] = append(out[b.ProductID], b)
	}
	return out
}

func sumRemaining(batches []domain.Batch) int {
	total := 0
	for _, b := range batches {
		total += b.QuantityRemaining
	}
	return total
}
