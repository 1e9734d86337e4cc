package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ledgerTx struct {
	q querier
}

// documentTables names the header and line tables of one transaction kind.
type documentTables struct {
	header       string
	lines        string
	lineKey      string
	counterparty string
	partyTable   string
}

func tablesFor(kind domain.TransactionKind) (documentTables, error) {
	switch kind {
	case domain.KindPurchase:
		return documentTables{header: "purchases", lines: "purchase_items", lineKey: "purchase_id", counterparty: "supplier_id", partyTable: "suppliers"}, nil
	case domain.KindSale:
		return documentTables{header: "sales", lines: "sale_items", lineKey: "sale_id", counterparty: "customer_id", partyTable: "customers"}, nil
	default:
		return documentTables{}, fmt.Errorf("postgres: unknown transaction kind %q", kind)
	}
}

const productColumns = `
	SELECT p.id, p.sku, p.name, p.category_id, COALESCE(c.name, '')
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id
`

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()
	out := make([]domain.Product, 0)
	for rows.Next() {
		var (
			p          domain.Product
			categoryID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &categoryID, &p.CategoryName); err != nil {
			return nil, err
		}
		p.CategoryID = int64Ptr(categoryID)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *ledgerTx) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.q.QueryContext(ctx, productColumns+` WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (t *ledgerTx) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := t.q.QueryContext(ctx, productColumns+` ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (t *ledgerTx) CounterpartyExists(ctx context.Context, kind domain.TransactionKind, id int64) (bool, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	err = t.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, tables.partyTable), id).Scan(&exists)
	return exists, err
}

const batchColumns = `b.id, b.product_id, b.purchase_id, b.quantity_original, b.quantity_remaining, b.unit_cost, b.batch_date, b.created_at`

func scanBatch(row interface{ Scan(dest ...any) error }, extra ...any) (domain.Batch, error) {
	var (
		b      domain.Batch
		source sql.NullInt64
	)
	dest := append([]any{&b.ID, &b.ProductID, &source, &b.QuantityOriginal, &b.QuantityRemaining, &b.UnitCost, &b.BatchDate, &b.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Batch{}, err
	}
	b.SourceTransactionID = int64Ptr(source)
	b.BatchDate = b.BatchDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (t *ledgerTx) queryBatches(ctx context.Context, query string, args ...any) ([]domain.Batch, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *ledgerTx) ListBatches(ctx context.Context, filter store.BatchFilter) ([]domain.Batch, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+batchColumns+`, COALESCE(s.name, '')
		FROM inventory_batches b
		LEFT JOIN purchases pu ON pu.id = b.purchase_id
		LEFT JOIN suppliers s ON s.id = pu.supplier_id
		WHERE ($1::bigint = 0 OR b.product_id = $1)
		  AND (NOT $2::boolean OR b.quantity_remaining > 0)
		ORDER BY b.batch_date ASC, b.id ASC
	`, filter.ProductID, filter.OpenOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Batch, 0)
	for rows.Next() {
		var supplier string
		b, err := scanBatch(rows, &supplier)
		if err != nil {
			return nil, err
		}
		b.SupplierName = supplier
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *ledgerTx) ListMovements(ctx context.Context, filter store.MovementFilter) ([]domain.Movement, error) {
	var (
		where []string
		args  []any
	)
	if filter.ReferenceKind != "" {
		args = append(args, string(filter.ReferenceKind), filter.ReferenceID)
		where = append(where, fmt.Sprintf("reference_kind = $%d AND reference_id = $%d", len(args)-1, len(args)))
	}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.BatchID != 0 {
		args = append(args, filter.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d", len(args)))
	}

	query := `SELECT id, product_id, batch_id, direction, quantity, reference_kind, reference_id, created_at FROM inventory_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Descending {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Movement, 0)
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.Direction, &m.Quantity, &m.ReferenceKind, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func headerQuery(tables documentTables) string {
	return fmt.Sprintf(`
		SELECT t.id, t.%[2]s, COALESCE(c.name, ''), t.user_id, COALESCE(u.name, ''), t.total_amount, COALESCE(t.notes, ''), t.created_at
		FROM %[1]s t
		LEFT JOIN %[3]s c ON c.id = t.%[2]s
		LEFT JOIN users u ON u.id = t.user_id
	`, tables.header, tables.counterparty, tables.partyTable)
}

func scanHeader(row interface{ Scan(dest ...any) error }, kind domain.TransactionKind) (domain.Transaction, error) {
	var (
		tx           domain.Transaction
		counterparty sql.NullInt64
	)
	if err := row.Scan(&tx.ID, &counterparty, &tx.CounterpartyName, &tx.UserID, &tx.UserName, &tx.TotalAmount, &tx.Notes, &tx.CreatedAt); err != nil {
		return domain.Transaction{}, err
	}
	tx.Kind = kind
	tx.CounterpartyID = int64Ptr(counterparty)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (t *ledgerTx) GetTransaction(ctx context.Context, kind domain.TransactionKind, id int64) (*domain.Transaction, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	header, err := scanHeader(t.q.QueryRowContext(ctx, headerQuery(tables)+` WHERE t.id = $1`, id), kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := t.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.id, i.%[2]s, i.product_id, p.name, p.sku, i.quantity, i.unit_price, i.subtotal
		FROM %[1]s i
		JOIN products p ON p.id = i.product_id
		WHERE i.%[2]s = $1
		ORDER BY i.id
	`, tables.lines, tables.lineKey), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	header.Items = make([]domain.LineItem, 0)
	for rows.Next() {
		var line domain.LineItem
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.ProductID, &line.ProductName, &line.SKU, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		header.Items = append(header.Items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &header, nil
}

func (t *ledgerTx) ListTransactions(ctx context.Context, kind domain.TransactionKind, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := t.q.QueryContext(ctx, headerQuery(tables)+`
		WHERE ($1::timestamptz IS NULL OR t.created_at >= $1)
		  AND ($2::timestamptz IS NULL OR t.created_at < $2)
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $3
	`, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0)
	for rows.Next() {
		header, err := scanHeader(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, header)
	}
	return out, rows.Err()
}

// LockOpenBatches takes row locks on the open batches of productIDs in
// (product_id, id) order.
func (t *ledgerTx) LockOpenBatches(ctx context.Context, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT id
		FROM inventory_batches
		WHERE product_id = ANY($1) AND quantity_remaining > 0
		ORDER BY product_id, id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (t *ledgerTx) GetOpenBatches(ctx context.Context, productID int64) ([]domain.Batch, error) {
	return t.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches b
		WHERE b.product_id = $1 AND b.quantity_remaining > 0
		ORDER BY b.batch_date ASC, b.id ASC
		FOR UPDATE
	`, productID)
}

func (t *ledgerTx) ListBatchesBySource(ctx context.Context, purchaseID int64) ([]domain.Batch, error) {
	return t.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches b
		WHERE b.purchase_id = $1
		ORDER BY b.id
		FOR UPDATE
	`, purchaseID)
}

func (t *ledgerTx) GetBatch(ctx context.Context, batchID int64) (domain.Batch, error) {
	b, err := scanBatch(t.q.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches b
		WHERE b.id = $1
		FOR UPDATE
	`, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Batch{}, store.ErrNotFound
	}
	return b, err
}

func (t *ledgerTx) InsertBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	var batchDate *time.Time
	if !batch.BatchDate.IsZero() {
		batchDate = &batch.BatchDate
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO inventory_batches (product_id, purchase_id, quantity_original, quantity_remaining, unit_cost, batch_date)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))
		RETURNING id, batch_date, created_at
	`, batch.ProductID, nullInt64(batch.SourceTransactionID), batch.QuantityOriginal, batch.QuantityRemaining, batch.UnitCost, nullTime(batchDate)).
		Scan(&batch.ID, &batch.BatchDate, &batch.CreatedAt)
	if err != nil {
		return domain.Batch{}, err
	}
	batch.BatchDate = batch.BatchDate.UTC()
	batch.CreatedAt = batch.CreatedAt.UTC()
	return batch, nil
}

func (t *ledgerTx) UpdateBatchRemaining(ctx context.Context, batchID int64, remaining int) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE inventory_batches
		SET quantity_remaining = $2
		WHERE id = $1
	`, batchID, remaining)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (t *ledgerTx) InsertMovement(ctx context.Context, movement domain.Movement) (domain.Movement, error) {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO inventory_movements (product_id, batch_id, direction, quantity, reference_kind, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, movement.ProductID, movement.BatchID, string(movement.Direction), movement.Quantity, string(movement.ReferenceKind), movement.ReferenceID).
		Scan(&movement.ID, &movement.CreatedAt)
	if err != nil {
		return domain.Movement{}, err
	}
	movement.CreatedAt = movement.CreatedAt.UTC()
	return movement, nil
}

func (t *ledgerTx) DeleteMovements(ctx context.Context, kind domain.ReferenceKind, referenceID int64) (int64, error) {
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM inventory_movements
		WHERE reference_kind = $1 AND reference_id = $2
	`, string(kind), referenceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *ledgerTx) InsertTransactionHeader(ctx context.Context, header domain.Transaction) (domain.Transaction, error) {
	tables, err := tablesFor(header.Kind)
	if err != nil {
		return domain.Transaction{}, err
	}
	err = t.q.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, user_id, total_amount, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, tables.header, tables.counterparty), nullInt64(header.CounterpartyID), header.UserID, header.TotalAmount, nullIfEmpty(header.Notes)).
		Scan(&header.ID, &header.CreatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	header.CreatedAt = header.CreatedAt.UTC()
	return header, nil
}

func (t *ledgerTx) InsertTransactionLines(ctx context.Context, kind domain.TransactionKind, transactionID int64, lines []domain.LineItem) ([]domain.LineItem, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, tables.lines, tables.lineKey)

	out := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		line.TransactionID = transactionID
		if err := t.q.QueryRowContext(ctx, query, transactionID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal).Scan(&line.ID); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (t *ledgerTx) LockTransaction(ctx context.Context, kind domain.TransactionKind, id int64) error {
	tables, err := tablesFor(kind)
	if err != nil {
		return err
	}
	var locked int64
	err = t.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, tables.header), id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (t *ledgerTx) ListTransactionLines(ctx context.Context, kind domain.TransactionKind, id int64) ([]domain.LineItem, error) {
	tables, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := t.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, %[2]s, product_id, quantity, unit_price, subtotal
		FROM %[1]s
		WHERE %[2]s = $1
		ORDER BY id
	`, tables.lines, tables.lineKey), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LineItem, 0)
	for rows.Next() {
		var line domain.LineItem
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (t *ledgerTx) DeleteTransactionLines(ctx context.Context, kind domain.TransactionKind, id int64) error {
	tables, err := tablesFor(kind)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, tables.lines, tables.lineKey), id)
	return err
}

func (t *ledgerTx) DeleteTransactionHeader(ctx context.Context, kind domain.TransactionKind, id int64) error {
	tables, err := tablesFor(kind)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tables.header), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func nullInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func int64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}
