package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"tokosamanda/backend/internal/cache"
	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/observability"
	"tokosamanda/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultReportTTL         = 30 * time.Second
	defaultLowStockThreshold = 10
	defaultLowStockLimit     = 5
)

type Options struct {
	Cache             cache.StockReportCache
	Metrics           *observability.Metrics
	Logger            logrus.FieldLogger
	ReportTTL         time.Duration
	LowStockThreshold int
	LowStockLimit     int
	Now               func() time.Time
}

type Service struct {
	ledger            store.Ledger
	cache             cache.StockReportCache
	metrics           *observability.Metrics
	logger            logrus.FieldLogger
	validate          *validator.Validate
	reports           singleflight.Group
	reportTTL         time.Duration
	lowStockThreshold int
	lowStockLimit     int
	now               func() time.Time
}

func New(ledger store.Ledger, opts Options) *Service {
	s := &Service{
		ledger:            ledger,
		cache:             opts.Cache,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		validate:          newValidator(),
		reportTTL:         opts.ReportTTL,
		lowStockThreshold: opts.LowStockThreshold,
		lowStockLimit:     opts.LowStockLimit,
		now:               opts.Now,
	}
	if s.cache == nil {
		s.cache = cache.NoopStockReportCache{}
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.reportTTL <= 0 {
		s.reportTTL = defaultReportTTL
	}
	if s.lowStockThreshold <= 0 {
		s.lowStockThreshold = defaultLowStockThreshold
	}
	if s.lowStockLimit <= 0 {
		s.lowStockLimit = defaultLowStockLimit
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) GetTransaction(ctx context.Context, kind domain.TransactionKind, id int64) (domain.Transaction, error) {
	if id <= 0 {
		return domain.Transaction{}, &ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	var found *domain.Transaction
	err := s.ledger.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		var err error
		found, err = tx.GetTransaction(ctx, kind, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Transaction{}, &NotFoundError{Kind: string(kind), ID: id}
	}
	if err != nil {
		return domain.Transaction{}, classify("get_"+string(kind), err)
	}
	return *found, nil
}

func (s *Service) ListTransactions(ctx context.Context, kind domain.TransactionKind, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, &ValidationError{Field: "to", Message: "must be after from"}
	}
	var list []domain.Transaction
	err := s.ledger.WithReadTx(ctx, func(ctx context.Context, tx store.ReadTx) error {
		var err error
		list, err = tx.ListTransactions(ctx, kind, filter)
		return err
	})
	if err != nil {
		return nil, classify("list_"+string(kind), err)
	}
	return list, nil
}

// fail classifies err, logs it at a level matching its kind and counts it.
func (s *Service) fail(op string, err error, fields logrus.Fields) error {
	err = classify(op, err)
	entry := s.logger.WithFields(fields).WithField("op", op)

	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		entry.WithFields(logrus.Fields{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
			"shortfall":  stockErr.Shortfall,
		}).Info("rejected: insufficient stock")
		s.metrics.LedgerOperation(op, "insufficient_stock")
	case errors.Is(err, ErrValidation):
		entry.WithError(err).Debug("rejected: invalid request")
		s.metrics.LedgerOperation(op, "invalid")
	case errors.Is(err, ErrNotFound):
		entry.WithError(err).Debug("rejected: not found")
		s.metrics.LedgerOperation(op, "not_found")
	case errors.Is(err, ErrConflict):
		entry.WithError(err).Warn("aborted: concurrent conflict")
		s.metrics.LedgerOperation(op, "conflict")
	default:
		entry.WithError(err).Error("ledger operation failed")
		s.metrics.LedgerOperation(op, "error")
	}
	return err
}

// committed records a successful ledger write and invalidates cached reports.
func (s *Service) committed(ctx context.Context, op string, fields logrus.Fields) {
	s.metrics.LedgerOperation(op, "ok")
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WithError(err).WithField("op", op).Warn("stock report cache invalidation failed")
	}
	s.logAudit(ctx, op, fields)
}

func (s *Service) logAudit(ctx context.Context, action string, fields logrus.Fields) {
	entry := s.logger.WithFields(fields).WithField("action", action)
	if actor, ok := ActorFromContext(ctx); ok {
		entry = entry.WithFields(logrus.Fields{"actor_id": actor.UserID, "actor": actor.Username})
	}
	entry.Info("audit")
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID <= 0 {
		return domain.Actor{}, &ValidationError{Field: "user", Message: "an authenticated user is required"}
	}
	return actor, nil
}
