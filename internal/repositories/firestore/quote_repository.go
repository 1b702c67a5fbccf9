package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/boltlink/api/internal/domain"
	pfirestore "github.com/boltlink/api/internal/platform/firestore"
)

const quoteCollection = "quotes"

type quoteDocument struct {
	ParentQuoteID       string              `firestore:"parentQuoteId,omitempty"`
	ReservedOrderID     string              `firestore:"reservedOrderId,omitempty"`
	StoreID             string              `firestore:"storeId,omitempty"`
	CurrencyCode        string              `firestore:"currencyCode,omitempty"`
	IsActive            bool                `firestore:"isActive"`
	IsVirtual           bool                `firestore:"isVirtual"`
	CustomerID          string              `firestore:"customerId,omitempty"`
	CustomerEmail       string              `firestore:"customerEmail,omitempty"`
	CustomerFirstName   string              `firestore:"customerFirstName,omitempty"`
	CustomerLastName    string              `firestore:"customerLastName,omitempty"`
	CustomerIsGuest     bool                `firestore:"customerIsGuest"`
	CustomerNote        string              `firestore:"customerNote,omitempty"`
	Items               []quoteItemDocument `firestore:"items"`
	BillingAddress      *addressDocument    `firestore:"billingAddress,omitempty"`
	ShippingAddress     *addressDocument    `firestore:"shippingAddress,omitempty"`
	ShippingMethod      string              `firestore:"shippingMethod,omitempty"`
	ShippingDescription string              `firestore:"shippingDescription,omitempty"`
	ShippingRates       []rateDocument      `firestore:"shippingRates,omitempty"`
	CouponCode          string              `firestore:"couponCode,omitempty"`
	AppliedRuleIDs      []string            `firestore:"appliedRuleIds,omitempty"`
	Totals              totalsDocument      `firestore:"totals"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
}

type quoteItemDocument struct {
	ID          string  `firestore:"id"`
	ProductID   string  `firestore:"productId,omitempty"`
	SKU         string  `firestore:"sku"`
	Name        string  `firestore:"name"`
	Description string  `firestore:"description,omitempty"`
	ImageURL    string  `firestore:"imageUrl,omitempty"`
	Quantity    int64   `firestore:"quantity"`
	UnitPrice   float64 `firestore:"unitPrice"`
	RowTotal    float64 `firestore:"rowTotal"`
	IsVirtual   bool    `firestore:"isVirtual"`
}

type addressDocument struct {
	FirstName   string `firestore:"firstName,omitempty"`
	LastName    string `firestore:"lastName,omitempty"`
	Company     string `firestore:"company,omitempty"`
	Street1     string `firestore:"street1,omitempty"`
	Street2     string `firestore:"street2,omitempty"`
	City        string `firestore:"city,omitempty"`
	Region      string `firestore:"region,omitempty"`
	PostalCode  string `firestore:"postalCode,omitempty"`
	CountryCode string `firestore:"countryCode,omitempty"`
	Phone       string `firestore:"phone,omitempty"`
	Email       string `firestore:"email,omitempty"`
}

type rateDocument struct {
	Code         string  `firestore:"code"`
	CarrierTitle string  `firestore:"carrierTitle,omitempty"`
	MethodTitle  string  `firestore:"methodTitle,omitempty"`
	Price        float64 `firestore:"price"`
}

type totalsDocument struct {
	Subtotal             float64 `firestore:"subtotal"`
	SubtotalWithDiscount float64 `firestore:"subtotalWithDiscount"`
	Discount             float64 `firestore:"discount"`
	Tax                  float64 `firestore:"tax"`
	Shipping             float64 `firestore:"shipping"`
	ShippingTax          float64 `firestore:"shippingTax"`
	GrandTotal           float64 `firestore:"grandTotal"`
}

// QuoteRepository persists parent and immutable quotes within Firestore.
type QuoteRepository struct {
	base *pfirestore.BaseRepository[quoteDocument]
}

// NewQuoteRepository constructs a Firestore-backed quote repository.
func NewQuoteRepository(provider *pfirestore.Provider) (*QuoteRepository, error) {
	if provider == nil {
		return nil, errors.New("quote repository requires firestore provider")
	}
	return &QuoteRepository{
		base: pfirestore.NewBaseRepository[quoteDocument](provider, quoteCollection, nil),
	}, nil
}

// Insert creates the quote document.
func (r *QuoteRepository) Insert(ctx context.Context, quote domain.Quote) (domain.Quote, error) {
	if r == nil || r.base == nil {
		return domain.Quote{}, errors.New("quote repository not initialised")
	}
	if strings.TrimSpace(quote.ID) == "" {
		return domain.Quote{}, errors.New("quote repository: quote id is required")
	}
	if _, err := r.base.Create(ctx, quote.ID, quoteToDocument(quote)); err != nil {
		return domain.Quote{}, err
	}
	return quote, nil
}

// Update replaces the quote document.
func (r *QuoteRepository) Update(ctx context.Context, quote domain.Quote) error {
	if r == nil || r.base == nil {
		return errors.New("quote repository not initialised")
	}
	if strings.TrimSpace(quote.ID) == "" {
		return errors.New("quote repository: quote id is required")
	}
	_, err := r.base.Set(ctx, quote.ID, quoteToDocument(quote))
	return err
}

// FindByID fetches a quote by document id.
func (r *QuoteRepository) FindByID(ctx context.Context, quoteID string) (domain.Quote, error) {
	if r == nil || r.base == nil {
		return domain.Quote{}, errors.New("quote repository not initialised")
	}
	doc, err := r.base.Get(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	return quoteFromDocument(doc.ID, doc.Data), nil
}

// SetActive flips the active flag on a quote.
func (r *QuoteRepository) SetActive(ctx context.Context, quoteID string, active bool, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("quote repository not initialised")
	}
	_, err := r.base.Update(ctx, quoteID, []firestore.Update{
		{Path: "isActive", Value: active},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

// SetReservedOrderID records the reserved increment id on a quote.
func (r *QuoteRepository) SetReservedOrderID(ctx context.Context, quoteID string, incrementID string, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("quote repository not initialised")
	}
	_, err := r.base.Update(ctx, quoteID, []firestore.Update{
		{Path: "reservedOrderId", Value: strings.TrimSpace(incrementID)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

// ListImmutableCreatedBefore returns immutable quotes created before the cutoff, oldest first.
func (r *QuoteRepository) ListImmutableCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Quote, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("quote repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("parentQuoteId", "!=", "").
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(queryLimit(limit))
	})
	if err != nil {
		return nil, err
	}
	return quotesFromDocuments(docs), nil
}

// ListActiveParentsCreatedBefore returns still-active parent quotes created before the cutoff.
func (r *QuoteRepository) ListActiveParentsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Quote, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("quote repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(queryLimit(limit))
	})
	if err != nil {
		return nil, err
	}
	quotes := quotesFromDocuments(docs)
	parents := quotes[:0]
	for _, q := range quotes {
		if q.ParentQuoteID == "" {
			parents = append(parents, q)
		}
	}
	return parents, nil
}

// Delete removes a quote document.
func (r *QuoteRepository) Delete(ctx context.Context, quoteID string) error {
	if r == nil || r.base == nil {
		return errors.New("quote repository not initialised")
	}
	return r.base.Delete(ctx, quoteID)
}

func queryLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func quotesFromDocuments(docs []pfirestore.Document[quoteDocument]) []domain.Quote {
	quotes := make([]domain.Quote, 0, len(docs))
	for _, doc := range docs {
		quotes = append(quotes, quoteFromDocument(doc.ID, doc.Data))
	}
	return quotes
}

func quoteToDocument(quote domain.Quote) quoteDocument {
	doc := quoteDocument{
		ParentQuoteID:       strings.TrimSpace(quote.ParentQuoteID),
		ReservedOrderID:     strings.TrimSpace(quote.ReservedOrderID),
		StoreID:             strings.TrimSpace(quote.StoreID),
		CurrencyCode:        strings.ToUpper(strings.TrimSpace(quote.CurrencyCode)),
		IsActive:            quote.IsActive,
		IsVirtual:           quote.IsVirtual,
		CustomerID:          strings.TrimSpace(quote.CustomerID),
		CustomerEmail:       strings.TrimSpace(quote.CustomerEmail),
		CustomerFirstName:   strings.TrimSpace(quote.CustomerFirstName),
		CustomerLastName:    strings.TrimSpace(quote.CustomerLastName),
		CustomerIsGuest:     quote.CustomerIsGuest,
		CustomerNote:        quote.CustomerNote,
		ShippingMethod:      strings.TrimSpace(quote.ShippingMethod),
		ShippingDescription: strings.TrimSpace(quote.ShippingDescription),
		CouponCode:          strings.TrimSpace(quote.CouponCode),
		AppliedRuleIDs:      append([]string(nil), quote.AppliedRuleIDs...),
		Totals: totalsDocument{
			Subtotal:             quote.Totals.Subtotal,
			SubtotalWithDiscount: quote.Totals.SubtotalWithDiscount,
			Discount:             quote.Totals.Discount,
			Tax:                  quote.Totals.Tax,
			Shipping:             quote.Totals.Shipping,
			ShippingTax:          quote.Totals.ShippingTax,
			GrandTotal:           quote.Totals.GrandTotal,
		},
		CreatedAt: quote.CreatedAt.UTC(),
		UpdatedAt: quote.UpdatedAt.UTC(),
	}

	doc.Items = make([]quoteItemDocument, 0, len(quote.Items))
	for _, item := range quote.Items {
		doc.Items = append(doc.Items, quoteItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			Name:        item.Name,
			Description: item.Description,
			ImageURL:    item.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			RowTotal:    item.RowTotal,
			IsVirtual:   item.IsVirtual,
		})
	}
	for _, rate := range quote.ShippingRates {
		doc.ShippingRates = append(doc.ShippingRates, rateDocument{
			Code:         rate.Code,
			CarrierTitle: rate.CarrierTitle,
			MethodTitle:  rate.MethodTitle,
			Price:        rate.Price,
		})
	}
	doc.BillingAddress = addressToDocument(quote.BillingAddress)
	doc.ShippingAddress = addressToDocument(quote.ShippingAddress)
	return doc
}

func quoteFromDocument(id string, doc quoteDocument) domain.Quote {
	quote := domain.Quote{
		ID:                  id,
		ParentQuoteID:       doc.ParentQuoteID,
		ReservedOrderID:     doc.ReservedOrderID,
		StoreID:             doc.StoreID,
		CurrencyCode:        doc.CurrencyCode,
		IsActive:            doc.IsActive,
		IsVirtual:           doc.IsVirtual,
		CustomerID:          doc.CustomerID,
		CustomerEmail:       doc.CustomerEmail,
		CustomerFirstName:   doc.CustomerFirstName,
		CustomerLastName:    doc.CustomerLastName,
		CustomerIsGuest:     doc.CustomerIsGuest,
		CustomerNote:        doc.CustomerNote,
		ShippingMethod:      doc.ShippingMethod,
		ShippingDescription: doc.ShippingDescription,
		CouponCode:          doc.CouponCode,
		AppliedRuleIDs:      append([]string(nil), doc.AppliedRuleIDs...),
		Totals: domain.QuoteTotals{
			Subtotal:             doc.Totals.Subtotal,
			SubtotalWithDiscount: doc.Totals.SubtotalWithDiscount,
			Discount:             doc.Totals.Discount,
			Tax:                  doc.Totals.Tax,
			Shipping:             doc.Totals.Shipping,
			ShippingTax:          doc.Totals.ShippingTax,
			GrandTotal:           doc.Totals.GrandTotal,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}

	quote.Items = make([]domain.QuoteItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		quote.Items = append(quote.Items, domain.QuoteItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			Name:        item.Name,
			Description: item.Description,
			ImageURL:    item.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			RowTotal:    item.RowTotal,
			IsVirtual:   item.IsVirtual,
		})
	}
	for _, rate := range doc.ShippingRates {
		quote.ShippingRates = append(quote.ShippingRates, domain.ShippingRate{
			Code:         rate.Code,
			CarrierTitle: rate.CarrierTitle,
			MethodTitle:  rate.MethodTitle,
			Price:        rate.Price,
		})
	}
	quote.BillingAddress = addressFromDocument(doc.BillingAddress)
	quote.ShippingAddress = addressFromDocument(doc.ShippingAddress)
	return quote
}

func addressToDocument(a *domain.Address) *addressDocument {
	if a == nil {
		return nil
	}
	return &addressDocument{
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Company:     a.Company,
		Street1:     a.Street1,
		Street2:     a.Street2,
		City:        a.City,
		Region:      a.Region,
		PostalCode:  a.PostalCode,
		CountryCode: a.CountryCode,
		Phone:       a.Phone,
		Email:       a.Email,
	}
}

func addressFromDocument(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		FirstName:   doc.FirstName,
		LastName:    doc.LastName,
		Company:     doc.Company,
		Street1:     doc.Street1,
		Street2:     doc.Street2,
		City:        doc.City,
		Region:      doc.Region,
		PostalCode:  doc.PostalCode,
		CountryCode: doc.CountryCode,
		Phone:       doc.Phone,
		Email:       doc.Email,
	}
}
