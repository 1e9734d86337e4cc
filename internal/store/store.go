package store

import (
	"context"
	"errors"

	"tokosamanda/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a lock could not be acquired in time or the
	// database aborted the transaction because of a concurrent writer.
	ErrConflict         = errors.New("concurrent update conflict")
	ErrInvalidReference = errors.New("invalid reference")
)

// Ledger is the durable store behind the inventory ledger. Every ledger write
// happens inside WithTx: fn's writes are committed together when it returns
// nil and rolled back when it returns an error or panics.
type Ledger interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// WithReadTx runs fn against a single consistent snapshot.
	WithReadTx(ctx context.Context, fn func(ctx context.Context, tx ReadTx) error) error
	FindUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	Close() error
}

type MovementFilter struct {
	ReferenceKind domain.ReferenceKind
	ReferenceID   int64
	ProductID     int64
	BatchID       int64
	Descending    bool
}

type BatchFilter struct {
	ProductID int64
	OpenOnly  bool
}

type ReadTx interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CounterpartyExists(ctx context.Context, kind domain.TransactionKind, id int64) (bool, error)

	// ListBatches returns batches in FIFO order with SupplierName resolved.
	ListBatches(ctx context.Context, filter BatchFilter) ([]domain.Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.Movement, error)

	GetTransaction(ctx context.Context, kind domain.TransactionKind, id int64) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, kind domain.TransactionKind, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// Tx is a read-write unit of work. Batch reads through Tx lock the rows they
// return until the unit of work ends.
type Tx interface {
	ReadTx

	// LockOpenBatches locks the open batches of every product in productIDs.
	// Callers pass the ids in ascending order.
	LockOpenBatches(ctx context.Context, productIDs []int64) error
	GetOpenBatches(ctx context.Context, productID int64) ([]domain.Batch, error)
	ListBatchesBySource(ctx context.Context, purchaseID int64) ([]domain.Batch, error)
	GetBatch(ctx context.Context, batchID int64) (domain.Batch, error)
	InsertBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	UpdateBatchRemaining(ctx context.Context, batchID int64, remaining int) error

	InsertMovement(ctx context.Context, movement domain.Movement) (domain.Movement, error)
	DeleteMovements(ctx context.Context, kind domain.ReferenceKind, referenceID int64) (int64, error)

	InsertTransactionHeader(ctx context.Context, header domain.Transaction) (domain.Transaction, error)
	InsertTransactionLines(ctx context.Context, kind domain.TransactionKind, transactionID int64, lines []domain.LineItem) ([]domain.LineItem, error)
	LockTransaction(ctx context.Context, kind domain.TransactionKind, id int64) error
	ListTransactionLines(ctx context.Context, kind domain.TransactionKind, id int64) ([]domain.LineItem, error)
	DeleteTransactionLines(ctx context.Context, kind domain.TransactionKind, id int64) error
	DeleteTransactionHeader(ctx context.Context, kind domain.TransactionKind, id int64) error
}
