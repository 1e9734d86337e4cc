package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

// memTx operates directly on the store maps while the store semaphore is
// held. Every mutation records its inverse so a failed unit of work can be
// unwound.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = t.withCategory(p)
		}
	}
	return out, nil
}

func (t *memTx) ListProducts(_ context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(t.s.products))
	for _, p := range t.s.products {
		out = append(out, t.withCategory(p))
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) withCategory(p domain.Product) domain.Product {
	if p.CategoryID != nil {
		p.CategoryName = t.s.categories[*p.CategoryID]
	}
	return p
}

func (t *memTx) CounterpartyExists(_ context.Context, kind domain.TransactionKind, id int64) (bool, error) {
	switch kind {
	case domain.KindPurchase:
		_, ok := t.s.suppliers[id]
		return ok, nil
	case domain.KindSale:
		_, ok := t.s.customers[id]
		return ok, nil
	}
	return false, fmt.Errorf("memory: unknown transaction kind %q", kind)
}

func (t *memTx) ListBatches(_ context.Context, filter store.BatchFilter) ([]domain.Batch, error) {
	out := make([]domain.Batch, 0)
	for _, b := range t.s.batches {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.OpenOnly && b.QuantityRemaining <= 0 {
			continue
		}
		out = append(out, t.withSupplier(b))
	}
	sortFIFO(out)
	return out, nil
}

func (t *memTx) withSupplier(b domain.Batch) domain.Batch {
	if b.SourceTransactionID == nil {
		return b
	}
	header, ok := t.s.headers[domain.KindPurchase][*b.SourceTransactionID]
	if ok && header.CounterpartyID != nil {
		b.SupplierName = t.s.suppliers[*header.CounterpartyID]
	}
	return b
}

func (t *memTx) ListMovements(_ context.Context, filter store.MovementFilter) ([]domain.Movement, error) {
	out := make([]domain.Movement, 0)
	for _, m := range t.s.movements {
		if filter.ReferenceKind != "" && (m.ReferenceKind != filter.ReferenceKind || m.ReferenceID != filter.ReferenceID) {
			continue
		}
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.BatchID != 0 && m.BatchID != filter.BatchID {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Movement) int {
		if filter.Descending {
			return cmp.Compare(b.ID, a.ID)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) GetTransaction(_ context.Context, kind domain.TransactionKind, id int64) (*domain.Transaction, error) {
	header, ok := t.s.headers[kind][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	view := t.describe(header)
	view.Items = t.describeLines(t.s.lines[kind][id])
	return &view, nil
}

func (t *memTx) ListTransactions(_ context.Context, kind domain.TransactionKind, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	for _, header := range t.s.headers[kind] {
		if filter.From != nil && header.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !header.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, t.describe(header))
	}
	slices.SortFunc(out, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) describe(header domain.Transaction) domain.Transaction {
	if header.CounterpartyID != nil {
		if header.Kind == domain.KindPurchase {
			header.CounterpartyName = t.s.suppliers[*header.CounterpartyID]
		} else {
			header.CounterpartyName = t.s.customers[*header.CounterpartyID]
		}
	}
	if u, ok := t.s.users[header.UserID]; ok {
		header.UserName = u.Name
	}
	header.Items = nil
	return header
}

func (t *memTx) describeLines(lines []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		if p, ok := t.s.products[line.ProductID]; ok {
			line.ProductName = p.Name
			line.SKU = p.SKU
		}
		out = append(out, line)
	}
	return out
}

func (t *memTx) LockOpenBatches(_ context.Context, _ []int64) error {
	return nil
}

func (t *memTx) GetOpenBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	return t.ListBatches(ctx, store.BatchFilter{ProductID: productID, OpenOnly: true})
}

func (t *memTx) ListBatchesBySource(_ context.Context, purchaseID int64) ([]domain.Batch, error) {
	out := make([]domain.Batch, 0)
	for _, b := range t.s.batches {
		if b.SourceTransactionID != nil && *b.SourceTransactionID == purchaseID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b domain.Batch) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) GetBatch(_ context.Context, batchID int64) (domain.Batch, error) {
	b, ok := t.s.batches[batchID]
	if !ok {
		return domain.Batch{}, store.ErrNotFound
	}
	return b, nil
}

func (t *memTx) InsertBatch(_ context.Context, batch domain.Batch) (domain.Batch, error) {
	if _, ok := t.s.products[batch.ProductID]; !ok {
		return domain.Batch{}, fmt.Errorf("memory: batch product %d: %w", batch.ProductID, store.ErrInvalidReference)
	}
	if batch.QuantityOriginal <= 0 || batch.QuantityRemaining < 0 || batch.QuantityRemaining > batch.QuantityOriginal {
		return domain.Batch{}, fmt.Errorf("memory: batch quantities %d/%d out of range", batch.QuantityRemaining, batch.QuantityOriginal)
	}
	t.s.seq.batch++
	batch.ID = t.s.seq.batch
	batch.CreatedAt = t.s.now()
	if batch.BatchDate.IsZero() {
		batch.BatchDate = batch.CreatedAt
	}
	batch.SupplierName = ""
	t.s.batches[batch.ID] = batch
	t.undo = append(t.undo, func() { delete(t.s.batches, batch.ID) })
	return batch, nil
}

func (t *memTx) UpdateBatchRemaining(_ context.Context, batchID int64, remaining int) error {
	b, ok := t.s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if remaining < 0 || remaining > b.QuantityOriginal {
		return fmt.Errorf("memory: batch %d remaining %d outside 0..%d", batchID, remaining, b.QuantityOriginal)
	}
	previous := b.QuantityRemaining
	b.QuantityRemaining = remaining
	t.s.batches[batchID] = b
	t.undo = append(t.undo, func() {
		b.QuantityRemaining = previous
		t.s.batches[batchID] = b
	})
	return nil
}

func (t *memTx) InsertMovement(_ context.Context, movement domain.Movement) (domain.Movement, error) {
	if _, ok := t.s.batches[movement.BatchID]; !ok {
		return domain.Movement{}, fmt.Errorf("memory: movement batch %d: %w", movement.BatchID, store.ErrInvalidReference)
	}
	if movement.Quantity <= 0 {
		return domain.Movement{}, fmt.Errorf("memory: movement quantity %d must be positive", movement.Quantity)
	}
	t.s.seq.movement++
	movement.ID = t.s.seq.movement
	movement.CreatedAt = t.s.now()
	t.s.movements[movement.ID] = movement
	t.undo = append(t.undo, func() { delete(t.s.movements, movement.ID) })
	return movement, nil
}

func (t *memTx) DeleteMovements(_ context.Context, kind domain.ReferenceKind, referenceID int64) (int64, error) {
	var deleted int64
	for id, m := range t.s.movements {
		if m.ReferenceKind != kind || m.ReferenceID != referenceID {
			continue
		}
		delete(t.s.movements, id)
		removed := m
		t.undo = append(t.undo, func() { t.s.movements[removed.ID] = removed })
		deleted++
	}
	return deleted, nil
}

func (t *memTx) InsertTransactionHeader(_ context.Context, header domain.Transaction) (domain.Transaction, error) {
	if !header.Kind.Valid() {
		return domain.Transaction{}, fmt.Errorf("memory: unknown transaction kind %q", header.Kind)
	}
	if header.CounterpartyID != nil {
		exists, _ := t.CounterpartyExists(context.Background(), header.Kind, *header.CounterpartyID)
		if !exists {
			return domain.Transaction{}, fmt.Errorf("memory: counterparty %d: %w", *header.CounterpartyID, store.ErrInvalidReference)
		}
	}
	if _, ok := t.s.users[header.UserID]; !ok {
		return domain.Transaction{}, fmt.Errorf("memory: user %d: %w", header.UserID, store.ErrInvalidReference)
	}
	t.s.seq.header[header.Kind]++
	header.ID = t.s.seq.header[header.Kind]
	header.CreatedAt = t.s.now()
	header.CounterpartyName = ""
	header.UserName = ""
	header.Items = nil
	t.s.headers[header.Kind][header.ID] = header
	t.undo = append(t.undo, func() { delete(t.s.headers[header.Kind], header.ID) })
	return header, nil
}

func (t *memTx) InsertTransactionLines(_ context.Context, kind domain.TransactionKind, transactionID int64, lines []domain.LineItem) ([]domain.LineItem, error) {
	if _, ok := t.s.headers[kind][transactionID]; !ok {
		return nil, store.ErrNotFound
	}
	previous := t.s.lines[kind][transactionID]
	stored := slices.Clone(previous)
	out := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		if _, ok := t.s.products[line.ProductID]; !ok {
			return nil, fmt.Errorf("memory: line product %d: %w", line.ProductID, store.ErrInvalidReference)
		}
		t.s.seq.line++
		line.ID = t.s.seq.line
		line.TransactionID = transactionID
		line.ProductName = ""
		line.SKU = ""
		stored = append(stored, line)
		out = append(out, line)
	}
	t.s.lines[kind][transactionID] = stored
	t.undo = append(t.undo, func() { t.restoreLines(kind, transactionID, previous) })
	return out, nil
}

func (t *memTx) restoreLines(kind domain.TransactionKind, id int64, lines []domain.LineItem) {
	if lines == nil {
		delete(t.s.lines[kind], id)
		return
	}
	t.s.lines[kind][id] = lines
}

func (t *memTx) LockTransaction(_ context.Context, kind domain.TransactionKind, id int64) error {
	if _, ok := t.s.headers[kind][id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (t *memTx) ListTransactionLines(_ context.Context, kind domain.TransactionKind, id int64) ([]domain.LineItem, error) {
	return slices.Clone(t.s.lines[kind][id]), nil
}

func (t *memTx) DeleteTransactionLines(_ context.Context, kind domain.TransactionKind, id int64) error {
	previous, ok := t.s.lines[kind][id]
	if !ok {
		return nil
	}
	delete(t.s.lines[kind], id)
	t.undo = append(t.undo, func() { t.s.lines[kind][id] = previous })
	return nil
}

func (t *memTx) DeleteTransactionHeader(_ context.Context, kind domain.TransactionKind, id int64) error {
	header, ok := t.s.headers[kind][id]
	if !ok {
		return store.ErrNotFound
	}
	delete(t.s.headers[kind], id)
	t.undo = append(t.undo, func() { t.s.headers[kind][id] = header })
	return nil
}

func sortFIFO(batches []domain.Batch) {
	slices.SortFunc(batches, func(a, b domain.Batch) int {
		if c := a.BatchDate.Compare(b.BatchDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
