package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/repositories"
)

// Cart builder failures.
var (
	ErrCartBuilderInvalidInput = errors.New("cart builder: invalid input")
	ErrCartBuilderUnavailable  = errors.New("cart builder: dependency unavailable")
)

// Shopper-facing validation messages returned in the token envelope.
const (
	msgEmptyCart        = "Your shopping cart is empty. Please add products to your cart and try again."
	msgNoShippingMethod = "Please select a shipping method."
	msgBadBilling       = "Please enter a valid billing address."
	msgTokenUnavailable = "Checkout is temporarily unavailable. Please try again."
)

// virtualShipmentService labels the synthetic shipment attached to carts
// that need no physical delivery.
const virtualShipmentService = "No Shipping Required"

// CartBuilderDeps enumerates the dependencies of the cart builder.
type CartBuilderDeps struct {
	Quotes          repositories.QuoteRepository
	Coupons         repositories.CouponRepository
	Counters        repositories.CounterRepository
	Gateway         TransactionGateway
	Pipeline        *CartFilterPipeline
	TokenCache      OrderTokenCache
	DiscountSources []DiscountSource
	NewQuoteID      func() string
	Clock           Clock
	Logger          Logger
}

type cartBuilderService struct {
	quotes     repositories.QuoteRepository
	coupons    repositories.CouponRepository
	counters   repositories.CounterRepository
	gateway    TransactionGateway
	pipeline   *CartFilterPipeline
	tokenCache OrderTokenCache
	sources    []DiscountSource
	newQuoteID func() string
	clock      Clock
	log        Logger
}

// NewCartBuilderService validates dependencies and builds the cart builder.
func NewCartBuilderService(deps CartBuilderDeps) (CartBuilderService, error) {
	if deps.Quotes == nil {
		return nil, errors.New("cart builder service requires quote repository")
	}
	if deps.Counters == nil {
		return nil, errors.New("cart builder service requires counter repository")
	}
	if deps.Gateway == nil {
		return nil, errors.New("cart builder service requires transaction gateway")
	}

	svc := &cartBuilderService{
		quotes:     deps.Quotes,
		coupons:    deps.Coupons,
		counters:   deps.Counters,
		gateway:    deps.Gateway,
		pipeline:   deps.Pipeline,
		tokenCache: deps.TokenCache,
		sources:    append([]DiscountSource(nil), deps.DiscountSources...),
		newQuoteID: deps.NewQuoteID,
		clock:      deps.Clock,
		log:        deps.Logger,
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	if svc.tokenCache == nil {
		svc.tokenCache = NewMemoryTokenCache(DefaultCartCacheTTL)
	}
	if svc.newQuoteID == nil {
		svc.newQuoteID = func() string { return "qte_" + ulid.Make().String() }
	}
	if len(svc.sources) == 0 && deps.Coupons != nil {
		svc.sources = []DiscountSource{CouponDiscountSource(deps.Coupons)}
	}
	return svc, nil
}

// CouponDiscountSource contributes the quote's applied coupon as a typed
// discount row, resolving the platform discount type from the price rule.
func CouponDiscountSource(coupons repositories.CouponRepository) DiscountSource {
	return func(ctx context.Context, quote Quote) ([]DiscountRow, error) {
		if quote.Totals.Discount <= 0 {
			return nil, nil
		}
		row := DiscountRow{
			Code:        quote.CouponCode,
			Description: "Discount",
			Amount:      quote.Totals.Discount,
		}
		if code := strings.TrimSpace(quote.CouponCode); code != "" && coupons != nil {
			row.Description = "Discount (" + code + ")"
			if coupon, err := coupons.FindByCode(ctx, code); err == nil {
				if rule, err := coupons.FindRule(ctx, coupon.RuleID); err == nil {
					row.Type = rule.DiscountType()
					if strings.TrimSpace(rule.Description) != "" {
						row.Description = rule.Description
					}
				}
			}
		}
		return []DiscountRow{row}, nil
	}
}

// BuildCart assembles the platform cart payload for a quote.
func (s *cartBuilderService) BuildCart(ctx context.Context, cmd BuildCartCommand) (CartPayload, error) {
	quote := cmd.Quote
	if strings.TrimSpace(quote.ID) == "" {
		return CartPayload{}, fmt.Errorf("%w: quote id is required", ErrCartBuilderInvalidInput)
	}

	payload := CartPayload{
		OrderReference: orderReference(quote),
		CurrencyCode:   quote.CurrencyCode,
		BillingAddress: domain.AddressToPayload(quote.BillingAddress),
	}
	if strings.TrimSpace(quote.ReservedOrderID) != "" {
		payload.DisplayID = domain.NewDisplayID(quote.ReservedOrderID, quote.ID)
	}

	var calculatedTotal int64
	payload.Items = make([]domain.CartItemPayload, 0, len(quote.Items))
	for _, item := range quote.Items {
		unitCents := domain.ToCents(item.UnitPrice)
		rowCents := unitCents * item.Quantity
		calculatedTotal += rowCents
		payload.Items = append(payload.Items, domain.CartItemPayload{
			Reference:   item.ID,
			Name:        item.Name,
			SKU:         item.SKU,
			Description: domain.TruncateDescription(item.Description),
			ImageURL:    item.ImageURL,
			TotalAmount: rowCents,
			UnitPrice:   unitCents,
			Quantity:    item.Quantity,
			Type:        domain.ItemType(item),
			Properties:  domain.ItemProperties(item),
		})
	}

	discountTotal, discounts, err := s.collectDiscounts(ctx, quote)
	if err != nil {
		return CartPayload{}, err
	}
	payload.Discounts = discounts
	payload.SubtotalAmount = calculatedTotal
	payload.DiscountAmount = discountTotal

	if cmd.MultiPage {
		// A multipage cart is tokenised before the shopper has picked a
		// shipping method, so tax and shipping are not final yet. Send the
		// discounted subtotal only and let the later stages add the rest.
		payload.TotalAmount = calculatedTotal - discountTotal
		if payload.TotalAmount < 0 {
			payload.TotalAmount = 0
		}
	} else {
		payload.TaxAmount = domain.ToCents(quote.Totals.Tax)

		var shippingCents int64
		shipment, cost := s.buildShipment(quote, cmd.AdminOrder)
		if shipment != nil {
			payload.Shipments = []domain.ShipmentPayload{*shipment}
			shippingCents = cost
		}
		payload.ShippingAmount = shippingCents

		projected := calculatedTotal - discountTotal + payload.TaxAmount + shippingCents
		derived := domain.ToCents(quote.Totals.GrandTotal)
		payload.TotalAmount = s.correctedTotal(ctx, quote.ID, projected, derived)
	}

	if s.pipeline != nil {
		payload = s.pipeline.Run(ctx, payload)
	}
	return payload, nil
}

// GetOrderToken validates the parent quote, freezes it into an immutable
// clone and exchanges the cart for a checkout token, replaying a cached
// token when the cart content is unchanged.
func (s *cartBuilderService) GetOrderToken(ctx context.Context, cmd OrderTokenCommand) (OrderTokenResult, error) {
	quoteID := strings.TrimSpace(cmd.QuoteID)
	if quoteID == "" {
		return OrderTokenResult{}, fmt.Errorf("%w: quote id is required", ErrCartBuilderInvalidInput)
	}

	parent, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		return OrderTokenResult{}, mapRepositoryError(err, ErrQuoteNotFound)
	}

	if msg := s.validateForToken(parent, cmd); msg != "" {
		return OrderTokenResult{Error: msg}, nil
	}

	parentPayload, err := s.BuildCart(ctx, BuildCartCommand{Quote: parent, MultiPage: cmd.MultiPage, AdminOrder: cmd.AdminOrder})
	if err != nil {
		return OrderTokenResult{}, err
	}

	now := s.clock()
	cacheKey := CartCacheKey(parent.ID, parentPayload)
	if cached, ok := s.tokenCache.Get(cacheKey, now); ok && cached.Token != "" {
		s.log(ctx, "cart.token.cache_hit", map[string]any{"quote_id": parent.ID})
		return cached, nil
	}

	immutable, err := s.cloneFromQuote(ctx, parent)
	if err != nil {
		return OrderTokenResult{}, err
	}

	payload, err := s.BuildCart(ctx, BuildCartCommand{Quote: immutable, MultiPage: cmd.MultiPage, AdminOrder: cmd.AdminOrder})
	if err != nil {
		return OrderTokenResult{}, err
	}

	token, err := s.gateway.CreateOrderToken(ctx, payload)
	if err != nil {
		s.log(ctx, "cart.token.failed", map[string]any{
			"quote_id":           parent.ID,
			"immutable_quote_id": immutable.ID,
			"error":              err.Error(),
		})
		return OrderTokenResult{Cart: payload, Error: msgTokenUnavailable}, nil
	}

	result := OrderTokenResult{Token: token, Cart: payload}
	s.tokenCache.Put(cacheKey, result, now)
	s.log(ctx, "cart.token.issued", map[string]any{
		"quote_id":           parent.ID,
		"immutable_quote_id": immutable.ID,
		"display_id":         payload.DisplayID,
	})
	return result, nil
}

// CloneQuote freezes the parent quote into a new immutable quote carrying a
// reserved order increment id.
func (s *cartBuilderService) CloneQuote(ctx context.Context, parentQuoteID string) (Quote, error) {
	parent, err := s.quotes.FindByID(ctx, strings.TrimSpace(parentQuoteID))
	if err != nil {
		return Quote{}, mapRepositoryError(err, ErrQuoteNotFound)
	}
	return s.cloneFromQuote(ctx, parent)
}

func (s *cartBuilderService) cloneFromQuote(ctx context.Context, parent Quote) (Quote, error) {
	now := s.clock()

	immutable := parent
	immutable.ID = s.newQuoteID()
	immutable.ParentQuoteID = parent.ID
	immutable.IsActive = false
	immutable.CreatedAt = now
	immutable.UpdatedAt = now
	immutable.Items = append([]QuoteItem(nil), parent.Items...)
	immutable.ShippingRates = append([]domain.ShippingRate(nil), parent.ShippingRates...)
	immutable.AppliedRuleIDs = append([]string(nil), parent.AppliedRuleIDs...)
	immutable.BillingAddress = cloneAddress(parent.BillingAddress)
	immutable.ShippingAddress = cloneAddress(parent.ShippingAddress)

	reserved := strings.TrimSpace(parent.ReservedOrderID)
	if reserved == "" {
		next, err := s.counters.NextIncrementID(ctx, parent.StoreID)
		if err != nil {
			return Quote{}, mapRepositoryError(err, nil)
		}
		reserved = next
	}
	immutable.ReservedOrderID = reserved

	if filled := s.correctBillingAddress(ctx, &immutable); len(filled) > 0 {
		s.log(ctx, "cart.billing.corrected", map[string]any{
			"quote_id":        parent.ID,
			"immutable_quote": immutable.ID,
			"fields":          filled,
		})
	}

	if _, err := s.quotes.Insert(ctx, immutable); err != nil {
		return Quote{}, mapRepositoryError(err, nil)
	}
	return immutable, nil
}

// correctBillingAddress backfills the missing fields of an incomplete billing
// address from the shipping address and customer identity. Fields the shopper
// did enter on the billing address are kept as given. Returns the names of
// the fields that were filled in.
func (s *cartBuilderService) correctBillingAddress(ctx context.Context, quote *Quote) []string {
	if quote == nil || quote.BillingAddress.Complete() {
		return nil
	}
	if !quote.ShippingAddress.Complete() {
		s.log(ctx, "cart.billing.insufficient", map[string]any{
			"quote_id":       quote.ID,
			"missing_fields": missingAddressFields(quote.BillingAddress),
		})
		return nil
	}

	corrected := domain.Address{}
	if quote.BillingAddress != nil {
		corrected = *quote.BillingAddress
	}
	shipping := quote.ShippingAddress

	var filled []string
	fill := func(name string, dst *string, src string) {
		if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
			*dst = src
			filled = append(filled, name)
		}
	}
	fill("first_name", &corrected.FirstName, shipping.FirstName)
	fill("last_name", &corrected.LastName, shipping.LastName)
	fill("company", &corrected.Company, shipping.Company)
	fill("street1", &corrected.Street1, shipping.Street1)
	fill("street2", &corrected.Street2, shipping.Street2)
	fill("city", &corrected.City, shipping.City)
	fill("region", &corrected.Region, shipping.Region)
	fill("postal_code", &corrected.PostalCode, shipping.PostalCode)
	fill("country_code", &corrected.CountryCode, shipping.CountryCode)
	fill("phone", &corrected.Phone, shipping.Phone)
	fill("email", &corrected.Email, shipping.Email)
	fill("email", &corrected.Email, quote.CustomerEmail)
	fill("first_name", &corrected.FirstName, quote.CustomerFirstName)
	fill("last_name", &corrected.LastName, quote.CustomerLastName)

	if len(filled) == 0 {
		return nil
	}
	quote.BillingAddress = &corrected
	return filled
}

// missingAddressFields names the required address fields that are absent, for
// the insufficient-address log line.
func missingAddressFields(a *domain.Address) []string {
	if a == nil {
		return []string{"first_name", "last_name", "street1", "city", "postal_code", "country_code"}
	}
	required := []struct {
		name  string
		value string
	}{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"street1", a.Street1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country_code", a.CountryCode},
	}
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func (s *cartBuilderService) validateForToken(quote Quote, cmd OrderTokenCommand) string {
	if len(quote.Items) == 0 {
		return msgEmptyCart
	}
	if quote.IsVirtual {
		if !quote.BillingAddress.Complete() {
			return msgBadBilling
		}
		return ""
	}
	if !cmd.MultiPage && strings.TrimSpace(quote.ShippingMethod) == "" {
		return msgNoShippingMethod
	}
	return ""
}

func (s *cartBuilderService) collectDiscounts(ctx context.Context, quote Quote) (int64, []domain.DiscountPayload, error) {
	var total int64
	payloads := make([]domain.DiscountPayload, 0, len(s.sources))
	for _, source := range s.sources {
		if source == nil {
			continue
		}
		rows, err := source(ctx, quote)
		if err != nil {
			s.log(ctx, "cart.discount_source.failed", map[string]any{
				"quote_id": quote.ID,
				"error":    err.Error(),
			})
			continue
		}
		for _, row := range rows {
			amount := domain.ToCents(row.Amount)
			if amount < 0 {
				amount = 0
			}
			total += amount
			payloads = append(payloads, domain.DiscountPayload{
				Amount:      amount,
				Description: row.Description,
				Reference:   row.Code,
				Type:        row.Type,
			})
		}
	}
	return total, payloads, nil
}

func (s *cartBuilderService) buildShipment(quote Quote, adminOrder bool) (*domain.ShipmentPayload, int64) {
	if quote.IsVirtual {
		if !adminOrder && quote.BillingAddress == nil {
			return nil, 0
		}
		return &domain.ShipmentPayload{
			ShippingAddress: domain.AddressToPayload(quote.BillingAddress),
			Service:         virtualShipmentService,
			Reference:       "noshipping",
			Cost:            0,
			TaxAmount:       0,
		}, 0
	}

	if strings.TrimSpace(quote.ShippingMethod) == "" {
		return nil, 0
	}
	cost := domain.ToCents(quote.Totals.Shipping)
	service := strings.TrimSpace(quote.ShippingDescription)
	if service == "" {
		service = quote.ShippingMethod
	}
	return &domain.ShipmentPayload{
		ShippingAddress: domain.AddressToPayload(quote.ShippingAddress),
		Service:         service,
		Reference:       quote.ShippingMethod,
		Cost:            cost,
		TaxAmount:       domain.ToCents(quote.Totals.ShippingTax),
	}, cost
}

// correctedTotal reconciles the accumulated item projection with the
// quote's own grand total. A collected total exactly double the projection
// is a known double-collection fault in upstream totals, so the projection
// wins; totals never go below zero.
func (s *cartBuilderService) correctedTotal(ctx context.Context, quoteID string, projected int64, derived int64) int64 {
	total := derived
	if projected > 0 && derived == 2*projected {
		s.log(ctx, "cart.total.halved.warning", map[string]any{
			"quote_id":  quoteID,
			"projected": projected,
			"derived":   derived,
		})
		total = projected
	}
	if total < 0 {
		total = 0
	}
	return total
}

func orderReference(quote Quote) string {
	if ref := strings.TrimSpace(quote.ParentQuoteID); ref != "" {
		return ref
	}
	return strings.TrimSpace(quote.ID)
}

func cloneAddress(a *domain.Address) *domain.Address {
	if a == nil {
		return nil
	}
	copied := *a
	return &copied
}
