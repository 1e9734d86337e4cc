package memory

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/store"
)

const defaultLockTimeout = 5 * time.Second

// Store is a single-process Ledger. One unit of work runs at a time; a
// waiter gives up with store.ErrConflict once the lock timeout elapses.
type Store struct {
	sem         chan struct{}
	lockTimeout time.Duration
	now         func() time.Time

	categories map[int64]string
	products   map[int64]domain.Product
	suppliers  map[int64]string
	customers  map[int64]string
	users      map[int64]domain.UserAccount

	batches   map[int64]domain.Batch
	movements map[int64]domain.Movement
	headers   map[domain.TransactionKind]map[int64]domain.Transaction
	lines     map[domain.TransactionKind]map[int64][]domain.LineItem

	seq struct {
		category, product, supplier, customer, user int64
		batch, movement, line                       int64
		header                                      map[domain.TransactionKind]int64
	}
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides the time source used for created_at and default batch dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		sem:         make(chan struct{}, 1),
		lockTimeout: defaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		categories:  make(map[int64]string),
		products:    make(map[int64]domain.Product),
		suppliers:   make(map[int64]string),
		customers:   make(map[int64]string),
		users:       make(map[int64]domain.UserAccount),
		batches:     make(map[int64]domain.Batch),
		movements:   make(map[int64]domain.Movement),
		headers: map[domain.TransactionKind]map[int64]domain.Transaction{
			domain.KindPurchase: {},
			domain.KindSale:     {},
		},
		lines: map[domain.TransactionKind]map[int64][]domain.LineItem{
			domain.KindPurchase: {},
			domain.KindSale:     {},
		},
	}
	s.seq.header = map[domain.TransactionKind]int64{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a store with a small demo catalog and the default accounts.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)

	sembako := s.AddCategory("Sembako")
	minuman := s.AddCategory("Minuman")
	rumah := s.AddCategory("Kebutuhan Rumah")
	for _, p := range []struct {
		sku, name string
		category  int64
	}{
		{"BRS-5KG", "Beras Pandan Wangi 5kg", sembako},
		{"MYK-1L", "Minyak Goreng 1L", sembako},
		{"GUL-1KG", "Gula Pasir 1kg", sembako},
		{"TLR-1KG", "Telur Ayam 1kg", sembako},
		{"TEH-25", "Teh Celup isi 25", minuman},
		{"KOP-10", "Kopi Sachet isi 10", minuman},
		{"AIR-600", "Air Mineral 600ml", minuman},
		{"SBN-01", "Sabun Mandi", rumah},
		{"DTJ-800", "Deterjen 800g", rumah},
	} {
		s.AddProduct(p.sku, p.name, p.category)
	}
	s.AddSupplier("CV Sumber Rejeki")
	s.AddSupplier("UD Tani Makmur")
	s.AddCustomer("Warung Bu Sri")
	s.AddCustomer("Toko Berkah")

	for _, u := range seedUsers() {
		s.AddUser(u)
	}
	return s
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_STAFF_PASSWORD with dev defaults when unset.
func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logrus.WithField("module", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username, name, password, role string
	}{
		{"admin", "Administrator", adminPwd, "admin"},
		{"staff", "Staf Gudang", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("module", "memory-store").Fatalf("hash seed password for %s: %v", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:     u.username,
			Name:         u.name,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) AddCategory(name string) int64 {
	s.sem <- struct{}{}
	defer s.release()
	s.seq.category++
	s.categories[s.seq.category] = name
	return s.seq.category
}

func (s *Store) AddProduct(sku, name string, categoryID int64) domain.Product {
	s.sem <- struct{}{}
	defer s.release()
	s.seq.product++
	p := domain.Product{ID: s.seq.product, SKU: sku, Name: name}
	if categoryID > 0 {
		id := categoryID
		p.CategoryID = &id
	}
	s.products[p.ID] = p
	return p
}

func (s *Store) AddSupplier(name string) int64 {
	s.sem <- struct{}{}
	defer s.release()
	s.seq.supplier++
	s.suppliers[s.seq.supplier] = name
	return s.seq.supplier
}

func (s *Store) AddCustomer(name string) int64 {
	s.sem <- struct{}{}
	defer s.release()
	s.seq.customer++
	s.customers[s.seq.customer] = name
	return s.seq.customer
}

func (s *Store) AddUser(user domain.UserAccount) domain.UserAccount {
	s.sem <- struct{}{}
	defer s.release()
	s.seq.user++
	user.ID = s.seq.user
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = user
	return user
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	for _, u := range s.users {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Store) WithReadTx(ctx context.Context, fn func(ctx context.Context, tx store.ReadTx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn(ctx, &memTx{s: s})
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("memory: lock wait exceeded %s: %w", s.lockTimeout, store.ErrConflict)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.sem
}
