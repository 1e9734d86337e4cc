package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/service"
	"tokosamanda/backend/internal/store"
)

func TestLedgerRoundTripKeepsBatchesConserved(t *testing.T) {
	databaseURL := os.Getenv("TOKO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, 2*time.Second)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-IT-%d", stamp)
	username := fmt.Sprintf("it-%d", stamp)

	var productID, userID int64
	if err := s.db.QueryRowContext(ctx, `INSERT INTO products (sku, name) VALUES ($1, 'Produk Integrasi') RETURNING id`, sku).Scan(&productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if err := s.EnsureUser(ctx, domain.UserAccount{Username: username, Name: "Integrasi", PasswordHash: "x", Role: "admin", Active: true}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	user, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	userID = user.ID

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE user_id = $1`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_items WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchases WHERE user_id = $1`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_batches WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := service.New(s, service.Options{Logger: logger})
	actx := service.WithActor(ctx, domain.Actor{UserID: userID, Username: username, Role: "admin"})

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 0, 7)
	first, err := svc.CreatePurchase(actx, domain.PurchaseRequest{
		Items:     []domain.LineInput{{ProductID: productID, Quantity: 5, UnitPrice: decimal.NewFromInt(1000)}},
		BatchDate: &older,
	})
	if err != nil {
		t.Fatalf("create first purchase: %v", err)
	}
	if _, err := svc.CreatePurchase(actx, domain.PurchaseRequest{
		Items:     []domain.LineInput{{ProductID: productID, Quantity: 5, UnitPrice: decimal.NewFromInt(1200)}},
		BatchDate: &newer,
	}); err != nil {
		t.Fatalf("create second purchase: %v", err)
	}

	sale, err := svc.CreateSale(actx, domain.SaleRequest{
		Items: []domain.LineInput{{ProductID: productID, Quantity: 7, UnitPrice: decimal.NewFromInt(2000)}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if stock, err := svc.CurrentStock(ctx, productID); err != nil || stock != 3 {
		t.Fatalf("expected stock 3 after sale, got %d (err=%v)", stock, err)
	}

	_, err = svc.CreateSale(actx, domain.SaleRequest{
		Items: []domain.LineInput{{ProductID: productID, Quantity: 4, UnitPrice: decimal.NewFromInt(2000)}},
	})
	var short *service.InsufficientStockError
	if !errors.As(err, &short) || short.Shortfall != 1 {
		t.Fatalf("expected shortfall of 1, got %v", err)
	}

	if _, err := svc.DeletePurchase(ctx, first.ID); err != nil {
		t.Fatalf("delete purchase: %v", err)
	}
	if _, err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if _, err := svc.DeleteSale(ctx, sale.ID); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	err = s.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		batches, err := tx.ListBatches(ctx, store.BatchFilter{ProductID: productID})
		if err != nil {
			return err
		}
		for _, b := range batches {
			movements, err := tx.ListMovements(ctx, store.MovementFilter{BatchID: b.ID})
			if err != nil {
				return err
			}
			net := 0
			for _, m := range movements {
				net += m.Signed()
			}
			if net != b.QuantityRemaining {
				return fmt.Errorf("batch %d: movements net %d, remaining %d", b.ID, net, b.QuantityRemaining)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("conservation: %v", err)
	}
}
