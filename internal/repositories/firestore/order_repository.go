package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/boltlink/api/internal/domain"
	pfirestore "github.com/boltlink/api/internal/platform/firestore"
)

const orderCollection = "orders"

type orderDocument struct {
	IncrementID      string              `firestore:"incrementId"`
	QuoteID          string              `firestore:"quoteId"`
	ParentQuoteID    string              `firestore:"parentQuoteId,omitempty"`
	Status           string              `firestore:"status"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	BoltReference    string              `firestore:"boltReference,omitempty"`
	TransactionID    string              `firestore:"transactionId,omitempty"`
	CustomerID       string              `firestore:"customerId,omitempty"`
	CustomerEmail    string              `firestore:"customerEmail,omitempty"`
	CustomerNote     string              `firestore:"customerNote,omitempty"`
	CouponCode       string              `firestore:"couponCode,omitempty"`
	AppliedRuleIDs   []string            `firestore:"appliedRuleIds,omitempty"`
	CreatedByWebhook bool                `firestore:"createdByWebhook"`
	Totals           orderTotalsDocument `firestore:"totals"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

type orderTotalsDocument struct {
	SubtotalCents   int64  `firestore:"subtotalCents"`
	DiscountCents   int64  `firestore:"discountCents"`
	TaxCents        int64  `firestore:"taxCents"`
	ShippingCents   int64  `firestore:"shippingCents"`
	GrandTotalCents int64  `firestore:"grandTotalCents"`
	CurrencyCode    string `firestore:"currencyCode,omitempty"`
}

// OrderRepository persists merchant orders within Firestore. Documents are
// keyed by the reserved increment id so duplicate creation surfaces as an
// AlreadyExists conflict instead of a silent second order.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil),
	}, nil
}

// Insert creates the order document, failing with a conflict when the
// increment id is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	incrementID := strings.TrimSpace(order.IncrementID)
	if incrementID == "" {
		return domain.Order{}, errors.New("order repository: increment id is required")
	}
	if order.ID == "" {
		order.ID = incrementID
	}
	if _, err := r.base.Create(ctx, incrementID, orderToDocument(order)); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	incrementID := strings.TrimSpace(order.IncrementID)
	if incrementID == "" {
		return errors.New("order repository: increment id is required")
	}
	_, err := r.base.Set(ctx, incrementID, orderToDocument(order))
	return err
}

// FindByIncrementID fetches an order by its reserved increment id.
func (r *OrderRepository) FindByIncrementID(ctx context.Context, incrementID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(incrementID))
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

// FindByQuoteID fetches the order created from the given immutable quote.
func (r *OrderRepository) FindByQuoteID(ctx context.Context, quoteID string) (domain.Order, error) {
	return r.findOneBy(ctx, "quoteId", quoteID)
}

// FindByParentQuoteID fetches the order whose immutable quote descends from
// the given parent.
func (r *OrderRepository) FindByParentQuoteID(ctx context.Context, parentQuoteID string) (domain.Order, error) {
	return r.findOneBy(ctx, "parentQuoteId", parentQuoteID)
}

// UpdateStatus transitions the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	_, err := r.base.Update(ctx, orderID, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

// ListPreAuthCreatedBefore returns pre-auth pending orders older than the cutoff.
func (r *OrderRepository) ListPreAuthCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusPreAuthPending)).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(queryLimit(limit))
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

// Delete removes the order document.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Delete(ctx, orderID)
}

func (r *OrderRepository) findOneBy(ctx context.Context, field string, value string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Order{}, pfirestore.NotFoundError("orders.query", fmt.Errorf("%s is required", field))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFoundError("orders.query", fmt.Errorf("no order with %s %q", field, value))
	}
	return orderFromDocument(docs[0].ID, docs[0].Data), nil
}

func orderToDocument(order domain.Order) orderDocument {
	return orderDocument{
		IncrementID:      strings.TrimSpace(order.IncrementID),
		QuoteID:          strings.TrimSpace(order.QuoteID),
		ParentQuoteID:    strings.TrimSpace(order.ParentQuoteID),
		Status:           string(order.Status),
		PaymentMethod:    order.PaymentMethod,
		BoltReference:    strings.TrimSpace(order.BoltReference),
		TransactionID:    strings.TrimSpace(order.TransactionID),
		CustomerID:       strings.TrimSpace(order.CustomerID),
		CustomerEmail:    strings.TrimSpace(order.CustomerEmail),
		CustomerNote:     order.CustomerNote,
		CouponCode:       strings.TrimSpace(order.CouponCode),
		AppliedRuleIDs:   append([]string(nil), order.AppliedRuleIDs...),
		CreatedByWebhook: order.CreatedByWebhook,
		Totals: orderTotalsDocument{
			SubtotalCents:   order.Totals.SubtotalCents,
			DiscountCents:   order.Totals.DiscountCents,
			TaxCents:        order.Totals.TaxCents,
			ShippingCents:   order.Totals.ShippingCents,
			GrandTotalCents: order.Totals.GrandTotalCents,
			CurrencyCode:    order.Totals.CurrencyCode,
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

func orderFromDocument(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:               id,
		IncrementID:      doc.IncrementID,
		QuoteID:          doc.QuoteID,
		ParentQuoteID:    doc.ParentQuoteID,
		Status:           domain.OrderStatus(doc.Status),
		PaymentMethod:    doc.PaymentMethod,
		BoltReference:    doc.BoltReference,
		TransactionID:    doc.TransactionID,
		CustomerID:       doc.CustomerID,
		CustomerEmail:    doc.CustomerEmail,
		CustomerNote:     doc.CustomerNote,
		CouponCode:       doc.CouponCode,
		AppliedRuleIDs:   append([]string(nil), doc.AppliedRuleIDs...),
		CreatedByWebhook: doc.CreatedByWebhook,
		Totals: domain.OrderTotals{
			SubtotalCents:   doc.Totals.SubtotalCents,
			DiscountCents:   doc.Totals.DiscountCents,
			TaxCents:        doc.Totals.TaxCents,
			ShippingCents:   doc.Totals.ShippingCents,
			GrandTotalCents: doc.Totals.GrandTotalCents,
			CurrencyCode:    doc.Totals.CurrencyCode,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
