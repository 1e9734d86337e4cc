package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/fifo"
	"tokosamanda/backend/internal/store"
)

// CreatePurchase records received stock: the purchase with its lines, one
// batch per line and one inbound movement per batch, all in one unit of work.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Transaction, error) {
	const op = "create_purchase"
	fields := logrus.Fields{"lines": len(req.Items)}

	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, s.fail(op, err, fields)
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Transaction{}, s.fail(op, validationFailure(err), fields)
	}
	lines, total, err := priceLines(req.Items)
	if err != nil {
		return domain.Transaction{}, s.fail(op, err, fields)
	}

	var created *domain.Transaction
	err = s.ledger.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := checkReferences(ctx, tx, domain.KindPurchase, req.SupplierID, lines); err != nil {
			return err
		}

		header, err := tx.InsertTransactionHeader(ctx, domain.Transaction{
			Kind:           domain.KindPurchase,
			CounterpartyID: req.SupplierID,
			UserID:         actor.UserID,
			TotalAmount:    total,
			Notes:          strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
		stored, err := tx.InsertTransactionLines(ctx, domain.KindPurchase, header.ID, lines)
		if err != nil {
			return fmt.Errorf("insert purchase lines: %w", err)
		}

		for _, line := range stored {
			source := header.ID
			batch := domain.Batch{
				ProductID:           line.ProductID,
				SourceTransactionID: &source,
				QuantityOriginal:    line.Quantity,
				QuantityRemaining:   line.Quantity,
				UnitCost:            line.UnitPrice,
			}
			if req.BatchDate != nil {
				batch.BatchDate = req.BatchDate.UTC()
			}
			batch, err = tx.InsertBatch(ctx, batch)
			if err != nil {
				return fmt.Errorf("insert batch for product %d: %w", line.ProductID, err)
			}
			if _, err := tx.InsertMovement(ctx, domain.Movement{
				ProductID:     line.ProductID,
				BatchID:       batch.ID,
				Direction:     domain.DirectionIn,
				Quantity:      line.Quantity,
				ReferenceKind: domain.ReferencePurchase,
				ReferenceID:   header.ID,
			}); err != nil {
				return fmt.Errorf("insert movement for batch %d: %w", batch.ID, err)
			}
		}

		created, err = tx.GetTransaction(ctx, domain.KindPurchase, header.ID)
		return err
	})
	if err != nil {
		return domain.Transaction{}, s.fail(op, err, fields)
	}

	s.committed(ctx, op, logrus.Fields{"purchase_id": created.ID, "lines": len(created.Items), "total": created.TotalAmount.StringFixed(2)})
	return *created, nil
}

// CreateSale records outgoing stock. Each line is allocated against the
// product's open batches oldest first; if any line cannot be covered in full
// nothing is written and an *InsufficientStockError is returned.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Transaction, error) {
	const op = "create_sale"
	fields := logrus.Fields{"lines": len(req.Items)}

	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, s.fail(op, err, fields)
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Transaction{}, s.fail(op, validationFailure(err), fields)
	}
	lines, total, err := priceLines(req.Items)
	if err != nil {
		return domain.Transaction{}, s.fail(op, err, fields)
	}

	var created *domain.Transaction
	err = s.ledger.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := checkReferences(ctx, tx, domain.KindSale, req.CustomerID, lines); err != nil {
			return err
		}
		if err := tx.LockOpenBatches(ctx, productIDs(lines)); err != nil {
			return fmt.Errorf("lock batches: %w", err)
		}

		header, err := tx.InsertTransactionHeader(ctx, domain.Transaction{
			Kind:           domain.KindSale,
			CounterpartyID: req.CustomerID,
			UserID:         actor.UserID,
			TotalAmount:    total,
			Notes:          strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		stored, err := tx.InsertTransactionLines(ctx, domain.KindSale, header.ID, lines)
		if err != nil {
			return fmt.Errorf("insert sale lines: %w", err)
		}

		for _, line := range stored {
			if err := s.allocateLine(ctx, tx, header.ID, line); err != nil {
				return err
			}
		}

		created, err = tx.GetTransaction(ctx, domain.KindSale, header.ID)
		return err
	})
	if err != nil {
		return domain.Transaction{}, s.fail(op, err, fields)
	}

	s.committed(ctx, op, logrus.Fields{"sale_id": created.ID, "lines": len(created.Items), "total": created.TotalAmount.StringFixed(2)})
	return *created, nil
}

func (s *Service) allocateLine(ctx context.Context, tx store.Tx, saleID int64, line domain.LineItem) error {
	open, err := tx.GetOpenBatches(ctx, line.ProductID)
	if err != nil {
		return fmt.Errorf("open batches for product %d: %w", line.ProductID, err)
	}
	plan, shortfall := fifo.Allocate(open, line.Quantity)
	if shortfall > 0 {
		return &InsufficientStockError{
			ProductID: line.ProductID,
			Requested: line.Quantity,
			Available: fifo.Available(open),
			Shortfall: shortfall,
		}
	}

	remaining := make(map[int64]int, len(open))
	for _, b := range open {
		remaining[b.ID] = b.QuantityRemaining
	}
	for _, alloc := range plan {
		if err := tx.UpdateBatchRemaining(ctx, alloc.BatchID, remaining[alloc.BatchID]-alloc.Quantity); err != nil {
			return fmt.Errorf("consume batch %d: %w", alloc.BatchID, err)
		}
		if _, err := tx.InsertMovement(ctx, domain.Movement{
			ProductID:     alloc.ProductID,
			BatchID:       alloc.BatchID,
			Direction:     domain.DirectionOut,
			Quantity:      alloc.Quantity,
			ReferenceKind: domain.ReferenceSale,
			ReferenceID:   saleID,
		}); err != nil {
			return fmt.Errorf("insert movement for batch %d: %w", alloc.BatchID, err)
		}
	}
	s.metrics.AllocatedBatches(len(plan))
	return nil
}

// priceLines turns request lines into line items and totals them.
func priceLines(items []domain.LineInput) ([]domain.LineItem, decimal.Decimal, error) {
	total := decimal.Zero
	lines := make([]domain.LineItem, 0, len(items))
	for i, item := range items {
		if item.UnitPrice.IsNegative() {
			return nil, decimal.Zero, &ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Message: "must not be negative"}
		}
		price := item.UnitPrice.Round(2)
		subtotal := price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)
		lines = append(lines, domain.LineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			Subtotal:  subtotal,
		})
	}
	return lines, total, nil
}

func checkReferences(ctx context.Context, tx store.ReadTx, kind domain.TransactionKind, counterpartyID *int64, lines []domain.LineItem) error {
	products, err := tx.GetProducts(ctx, productIDs(lines))
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	for i, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			return &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Message: fmt.Sprintf("product %d does not exist", line.ProductID)}
		}
	}
	if counterpartyID == nil {
		return nil
	}
	exists, err := tx.CounterpartyExists(ctx, kind, *counterpartyID)
	if err != nil {
		return fmt.Errorf("load counterparty: %w", err)
	}
	if !exists {
		field, what := "supplier_id", "supplier"
		if kind == domain.KindSale {
			field, what = "customer_id", "customer"
		}
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s %d does not exist", what, *counterpartyID)}
	}
	return nil
}

// productIDs returns the distinct product ids of lines in ascending order.
func productIDs(lines []domain.LineItem) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func validationFailure(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	return &ValidationError{Field: field, Message: ruleMessage(fe)}
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " entry"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}
