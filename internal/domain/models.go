package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

type ReferenceKind string

const (
	ReferencePurchase         ReferenceKind = "purchase"
	ReferenceSale             ReferenceKind = "sale"
	ReferencePurchaseDeletion ReferenceKind = "purchase_deletion"
	ReferenceSaleDeletion     ReferenceKind = "sale_deletion"
)

// TransactionKind distinguishes the two ledger documents. Purchases bring
// stock in and sales take it out.
type TransactionKind string

const (
	KindPurchase TransactionKind = "purchase"
	KindSale     TransactionKind = "sale"
)

func (k TransactionKind) Valid() bool {
	return k == KindPurchase || k == KindSale
}

// Reference is the movement reference kind written when the transaction is created.
func (k TransactionKind) Reference() ReferenceKind {
	if k == KindSale {
		return ReferenceSale
	}
	return ReferencePurchase
}

// DeletionReference is the movement reference kind written when the transaction is reversed.
func (k TransactionKind) DeletionReference() ReferenceKind {
	if k == KindSale {
		return ReferenceSaleDeletion
	}
	return ReferencePurchaseDeletion
}

type Product struct {
	ID           int64  `json:"id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	CategoryID   *int64 `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
}

type Batch struct {
	ID                  int64           `json:"id"`
	ProductID           int64           `json:"product_id"`
	SourceTransactionID *int64          `json:"source_transaction_id,omitempty"`
	QuantityOriginal    int             `json:"quantity_original"`
	QuantityRemaining   int             `json:"quantity_remaining"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
	BatchDate           time.Time       `json:"batch_date"`
	CreatedAt           time.Time       `json:"created_at"`
	SupplierName        string          `json:"supplier_name,omitempty"`
}

func (b Batch) Exhausted() bool {
	return b.QuantityRemaining <= 0
}

// FIFOBefore reports whether b is consumed before other: older batch_date
// first, creation order breaking ties.
func (b Batch) FIFOBefore(other Batch) bool {
	if !b.BatchDate.Equal(other.BatchDate) {
		return b.BatchDate.Before(other.BatchDate)
	}
	return b.ID < other.ID
}

type Movement struct {
	ID            int64         `json:"id"`
	ProductID     int64         `json:"product_id"`
	BatchID       int64         `json:"batch_id"`
	Direction     Direction     `json:"direction"`
	Quantity      int           `json:"quantity"`
	ReferenceKind ReferenceKind `json:"reference_kind"`
	ReferenceID   int64         `json:"reference_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Signed returns the quantity with the direction applied.
func (m Movement) Signed() int {
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

type Allocation struct {
	BatchID   int64 `json:"batch_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type LineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PurchaseRequest struct {
	SupplierID *int64      `json:"supplier_id,omitempty" validate:"omitempty,gt=0"`
	Items      []LineInput `json:"items" validate:"required,min=1,dive"`
	Notes      string      `json:"notes,omitempty" validate:"max=500"`
	BatchDate  *time.Time  `json:"batch_date,omitempty"`
}

type SaleRequest struct {
	CustomerID *int64      `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Items      []LineInput `json:"items" validate:"required,min=1,dive"`
	Notes      string      `json:"notes,omitempty" validate:"max=500"`
}

type LineItem struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name,omitempty"`
	SKU           string          `json:"sku,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

// Transaction is the header of a purchase or a sale together with its line items.
// CounterpartyID points at a supplier for purchases and a customer for sales.
type Transaction struct {
	ID               int64           `json:"id"`
	Kind             TransactionKind `json:"kind"`
	CounterpartyID   *int64          `json:"counterparty_id,omitempty"`
	CounterpartyName string          `json:"counterparty_name,omitempty"`
	UserID           int64           `json:"user_id"`
	UserName         string          `json:"user_name,omitempty"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Items            []LineItem      `json:"items,omitempty"`
}

type TransactionFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

type BatchAdjustment struct {
	BatchID   int64 `json:"batch_id"`
	ProductID int64 `json:"product_id"`
	// Change is the signed delta applied to quantity_remaining.
	Change int `json:"change"`
	// Compensated is the signed quantity written as a deletion movement.
	Compensated int `json:"compensated"`
}

type ReversalResult struct {
	TransactionID int64             `json:"transaction_id"`
	Kind          TransactionKind   `json:"kind"`
	Adjustments   []BatchAdjustment `json:"adjustments"`
	ReversedAt    time.Time         `json:"reversed_at"`
}

type StockBatchView struct {
	BatchID      int64           `json:"batch_id"`
	Remaining    int             `json:"quantity_remaining"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BatchDate    time.Time       `json:"batch_date"`
	SupplierName string          `json:"supplier_name,omitempty"`
}

type StockReportRow struct {
	ProductID       int64            `json:"product_id"`
	SKU             string           `json:"sku"`
	Name            string           `json:"name"`
	CategoryName    string           `json:"category_name,omitempty"`
	CurrentStock    int              `json:"current_stock"`
	OldestBatchDate *time.Time       `json:"oldest_batch_date,omitempty"`
	NewestBatchDate *time.Time       `json:"newest_batch_date,omitempty"`
	Batches         []StockBatchView `json:"batches"`
}

type StockReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Rows        []StockReportRow `json:"rows"`
}

type LowStockItem struct {
	ProductID    int64  `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	CurrentStock int    `json:"current_stock"`
}

// ProductLedger is the stock card of one product.
type ProductLedger struct {
	Product      Product    `json:"product"`
	CurrentStock int        `json:"current_stock"`
	Batches      []Batch    `json:"batches"`
	Movements    []Movement `json:"movements"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID           int64
	Username     string
	Name         string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}
