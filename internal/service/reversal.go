package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

// DeletePurchase reverses a purchase. Each of its batches gives back what it
// still holds, up to the purchased quantity; units already sold stay sold.
// The purchase, its lines and its movements are removed, batches are kept.
func (s *Service) DeletePurchase(ctx context.Context, purchaseID int64) (domain.ReversalResult, error) {
	const op = "delete_purchase"
	fields := logrus.Fields{"purchase_id": purchaseID}
	if purchaseID <= 0 {
		return domain.ReversalResult{}, s.fail(op, &ValidationError{Field: "id", Message: "must be a positive integer"}, fields)
	}

	result := domain.ReversalResult{TransactionID: purchaseID, Kind: domain.KindPurchase}
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result.Adjustments = nil
		if err := lockForReversal(ctx, tx, domain.KindPurchase, purchaseID); err != nil {
			return err
		}
		lines, err := tx.ListTransactionLines(ctx, domain.KindPurchase, purchaseID)
		if err != nil {
			return fmt.Errorf("load purchase lines: %w", err)
		}
		batches, err := tx.ListBatchesBySource(ctx, purchaseID)
		if err != nil {
			return fmt.Errorf("load purchase batches: %w", err)
		}
		movements, err := tx.ListMovements(ctx, store.MovementFilter{ReferenceKind: domain.ReferencePurchase, ReferenceID: purchaseID})
		if err != nil {
			return fmt.Errorf("load purchase movements: %w", err)
		}
		// Net quantity this purchase's own movements contribute per batch.
		contributed := make(map[int64]int, len(batches))
		for _, m := range movements {
			contributed[m.BatchID] += m.Signed()
		}

		for _, pair := range pairLinesWithBatches(lines, batches) {
			if pair.batch == nil {
				s.logger.WithFields(fields).WithField("line_id", pair.line.ID).Warn("purchase line has no batch, nothing to reverse")
				continue
			}
			batch := *pair.batch
			restore := min(pair.line.Quantity, batch.QuantityRemaining)
			if restore > 0 {
				if err := tx.UpdateBatchRemaining(ctx, batch.ID, batch.QuantityRemaining-restore); err != nil {
					return fmt.Errorf("reduce batch %d: %w", batch.ID, err)
				}
			}
			// Removing the purchase movements takes contributed units off the
			// batch history; whatever exceeds the reduction belongs to sales
			// that survive this reversal and is written back as a deletion entry.
			compensated, err := compensate(ctx, tx, batch, domain.ReferencePurchaseDeletion, purchaseID, contributed[batch.ID]-restore)
			if err != nil {
				return err
			}
			result.Adjustments = append(result.Adjustments, domain.BatchAdjustment{
				BatchID:     batch.ID,
				ProductID:   batch.ProductID,
				Change:      -restore,
				Compensated: compensated,
			})
		}

		return removeTransaction(ctx, tx, domain.KindPurchase, purchaseID)
	})
	if err != nil {
		return domain.ReversalResult{}, s.fail(op, err, fields)
	}

	result.ReversedAt = s.now()
	fields["adjustments"] = adjustmentSummary(result.Adjustments)
	s.committed(ctx, op, fields)
	return result, nil
}

// DeleteSale reverses a sale, putting units back onto the batches they were
// taken from, most recent movement first. A batch never goes above its
// original quantity.
func (s *Service) DeleteSale(ctx context.Context, saleID int64) (domain.ReversalResult, error) {
	const op = "delete_sale"
	fields := logrus.Fields{"sale_id": saleID}
	if saleID <= 0 {
		return domain.ReversalResult{}, s.fail(op, &ValidationError{Field: "id", Message: "must be a positive integer"}, fields)
	}

	result := domain.ReversalResult{TransactionID: saleID, Kind: domain.KindSale}
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result.Adjustments = nil
		if err := lockForReversal(ctx, tx, domain.KindSale, saleID); err != nil {
			return err
		}
		lines, err := tx.ListTransactionLines(ctx, domain.KindSale, saleID)
		if err != nil {
			return fmt.Errorf("load sale lines: %w", err)
		}
		movements, err := tx.ListMovements(ctx, store.MovementFilter{ReferenceKind: domain.ReferenceSale, ReferenceID: saleID, Descending: true})
		if err != nil {
			return fmt.Errorf("load sale movements: %w", err)
		}

		batches, err := lockBatches(ctx, tx, movements)
		if err != nil {
			return err
		}
		original := make(map[int64]int, len(batches))
		for id, b := range batches {
			original[id] = b.QuantityRemaining
		}

		byProduct := make(map[int64][]domain.Movement)
		budget := make(map[int64]int, len(movements))
		for _, m := range movements {
			byProduct[m.ProductID] = append(byProduct[m.ProductID], m)
			budget[m.ID] = m.Quantity
		}

		restored := make(map[int64]int, len(movements))
		for _, line := range lines {
			need := line.Quantity
			for _, m := range byProduct[line.ProductID] {
				if need == 0 {
					break
				}
				take := min(need, budget[m.ID])
				if take == 0 {
					continue
				}
				budget[m.ID] -= take
				need -= take

				b := batches[m.BatchID]
				next := min(b.QuantityRemaining+take, b.QuantityOriginal)
				restored[m.ID] += next - b.QuantityRemaining
				b.QuantityRemaining = next
				batches[m.BatchID] = b
			}
			if need > 0 {
				s.logger.WithFields(fields).WithFields(logrus.Fields{"line_id": line.ID, "product_id": line.ProductID, "unmatched": need}).
					Warn("sale line quantity exceeds its recorded movements")
			}
		}

		ids := make([]int64, 0, len(batches))
		for id := range batches {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			if batches[id].QuantityRemaining == original[id] {
				continue
			}
			if err := tx.UpdateBatchRemaining(ctx, id, batches[id].QuantityRemaining); err != nil {
				return fmt.Errorf("restore batch %d: %w", id, err)
			}
		}

		for _, m := range movements {
			// Units of a removed outbound movement that did not make it back
			// onto the batch are kept out by a deletion entry.
			compensated, err := compensate(ctx, tx, batches[m.BatchID], domain.ReferenceSaleDeletion, saleID, restored[m.ID]-m.Quantity)
			if err != nil {
				return err
			}
			result.Adjustments = append(result.Adjustments, domain.BatchAdjustment{
				BatchID:     m.BatchID,
				ProductID:   m.ProductID,
				Change:      restored[m.ID],
				Compensated: compensated,
			})
		}

		return removeTransaction(ctx, tx, domain.KindSale, saleID)
	})
	if err != nil {
		return domain.ReversalResult{}, s.fail(op, err, fields)
	}

	result.ReversedAt = s.now()
	fields["adjustments"] = adjustmentSummary(result.Adjustments)
	s.committed(ctx, op, fields)
	return result, nil
}

type linePair struct {
	line  domain.LineItem
	batch *domain.Batch
}

// pairLinesWithBatches matches each purchase line to the batch it created.
// Lines and batches of the same product are paired in creation order.
func pairLinesWithBatches(lines []domain.LineItem, batches []domain.Batch) []linePair {
	queue := make(map[int64][]domain.Batch)
	for _, b := range batches {
		queue[b.ProductID] = append(queue[b.ProductID], b)
	}
	pairs := make([]linePair, 0, len(lines))
	for _, line := range lines {
		pair := linePair{line: line}
		if pending := queue[line.ProductID]; len(pending) > 0 {
			b := pending[0]
			pair.batch = &b
			queue[line.ProductID] = pending[1:]
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// lockBatches locks every batch referenced by movements in ascending id order.
func lockBatches(ctx context.Context, tx store.Tx, movements []domain.Movement) (map[int64]domain.Batch, error) {
	ids := make([]int64, 0, len(movements))
	for _, m := range movements {
		ids = append(ids, m.BatchID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	batches := make(map[int64]domain.Batch, len(ids))
	for _, id := range ids {
		b, err := tx.GetBatch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock batch %d: %w", id, err)
		}
		batches[id] = b
	}
	return batches, nil
}

// compensate appends a deletion movement carrying delta (positive in,
// negative out) against batch. It returns delta.
func compensate(ctx context.Context, tx store.Tx, batch domain.Batch, kind domain.ReferenceKind, referenceID int64, delta int) (int, error) {
	if delta == 0 {
		return 0, nil
	}
	movement := domain.Movement{
		ProductID:     batch.ProductID,
		BatchID:       batch.ID,
		Direction:     domain.DirectionIn,
		Quantity:      delta,
		ReferenceKind: kind,
		ReferenceID:   referenceID,
	}
	if delta < 0 {
		movement.Direction = domain.DirectionOut
		movement.Quantity = -delta
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return 0, fmt.Errorf("insert %s movement for batch %d: %w", kind, batch.ID, err)
	}
	return delta, nil
}

func lockForReversal(ctx context.Context, tx store.Tx, kind domain.TransactionKind, id int64) error {
	err := tx.LockTransaction(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: string(kind), ID: id}
	}
	if err != nil {
		return fmt.Errorf("lock %s %d: %w", kind, id, err)
	}
	return nil
}

func removeTransaction(ctx context.Context, tx store.Tx, kind domain.TransactionKind, id int64) error {
	if err := tx.DeleteTransactionLines(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s lines: %w", kind, err)
	}
	if _, err := tx.DeleteMovements(ctx, kind.Reference(), id); err != nil {
		return fmt.Errorf("delete %s movements: %w", kind, err)
	}
	if err := tx.DeleteTransactionHeader(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

func adjustmentSummary(adjustments []domain.BatchAdjustment) []string {
	out := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		out = append(out, fmt.Sprintf("batch=%d change=%d compensated=%d", a.BatchID, a.Change, a.Compensated))
	}
	return out
}
