package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/boltlink/api/internal/platform/firestore"
	"github.com/boltlink/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider
	quotes   *QuoteRepository
	orders   *OrderRepository
	coupons  *CouponRepository
	products *ProductRepository
	counters *CounterRepository
}

// NewRegistry constructs the repository registry on a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	quotes, err := NewQuoteRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		quotes:   quotes,
		orders:   orders,
		coupons:  coupons,
		products: products,
		counters: counters,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Quotes returns the quote repository.
func (r *Registry) Quotes() repositories.QuoteRepository { return r.quotes }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx groups repository operations. Individual repositories already use
// Firestore transactions for their atomic counters; the grouping boundary
// runs fn directly and exists so services can stay backend-agnostic.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return fn(ctx)
}
