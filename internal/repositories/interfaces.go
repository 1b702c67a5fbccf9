package repositories

import (
	"context"
	"time"

	domain "github.com/boltlink/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Quotes() QuoteRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Products() ProductRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// QuoteRepository persists parent and immutable quotes.
type QuoteRepository interface {
	Insert(ctx context.Context, quote domain.Quote) (domain.Quote, error)
	Update(ctx context.Context, quote domain.Quote) error
	FindByID(ctx context.Context, quoteID string) (domain.Quote, error)
	SetActive(ctx context.Context, quoteID string, active bool, updatedAt time.Time) error
	SetReservedOrderID(ctx context.Context, quoteID string, incrementID string, updatedAt time.Time) error
	// ListImmutableCreatedBefore returns immutable quotes (ParentQuoteID set)
	// created before the cutoff, up to limit, oldest first.
	ListImmutableCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Quote, error)
	// ListActiveParentsCreatedBefore returns still-active parent quotes
	// created before the cutoff, up to limit.
	ListActiveParentsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Quote, error)
	Delete(ctx context.Context, quoteID string) error
}

// OrderRepository persists merchant orders keyed by their reserved increment id.
type OrderRepository interface {
	// Insert creates the order. Implementations must fail with a conflict
	// error when an order with the same increment id already exists, so the
	// create path stays race-free inside a unit of work.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	FindByIncrementID(ctx context.Context, incrementID string) (domain.Order, error)
	FindByQuoteID(ctx context.Context, quoteID string) (domain.Order, error)
	FindByParentQuoteID(ctx context.Context, parentQuoteID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
	// ListPreAuthCreatedBefore returns pre-auth pending orders created before
	// the cutoff, up to limit.
	ListPreAuthCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	Delete(ctx context.Context, orderID string) error
}

// CouponRepository persists coupons, their price rules and usage counters.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	FindRule(ctx context.Context, ruleID string) (domain.Rule, error)
	Usage(ctx context.Context, customerID string, code string) (domain.CouponUsage, error)
	// RecordRedemption increments the coupon, rule and per-customer usage
	// counters for one redemption.
	RecordRedemption(ctx context.Context, code string, ruleID string, customerID string) error
	// RollbackRedemption reverses RecordRedemption when a pre-auth order is
	// discarded before activation. Counters never go below zero.
	RollbackRedemption(ctx context.Context, code string, ruleID string, customerID string) error
}

// ProductRepository exposes the catalog slice needed for stock validation.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKU(ctx context.Context, sku string) (domain.Product, error)
}

// CounterRepository hands out monotonically increasing order increment ids.
type CounterRepository interface {
	// NextIncrementID reserves and returns the next human-readable order
	// number for the store.
	NextIncrementID(ctx context.Context, storeID string) (string, error)
}
