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

// OrderCreatorDeps enumerates the dependencies of the order creator.
type OrderCreatorDeps struct {
	Quotes     repositories.QuoteRepository
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	Coupons    repositories.CouponRepository
	Counters   repositories.CounterRepository
	Reconciler TotalsReconcilerService
	Publisher  OrderEventPublisher
	UnitOfWork UnitOfWork
	Sanitize   Sanitizer
	NewOrderID func() string
	Clock      Clock
	Logger     Logger
}

type orderCreatorService struct {
	quotes     repositories.QuoteRepository
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	coupons    repositories.CouponRepository
	counters   repositories.CounterRepository
	reconciler TotalsReconcilerService
	publisher  OrderEventPublisher
	uow        UnitOfWork
	sanitize   Sanitizer
	newOrderID func() string
	clock      Clock
	log        Logger
}

// NewOrderCreatorService validates dependencies and builds the order creator.
func NewOrderCreatorService(deps OrderCreatorDeps) (OrderCreatorService, error) {
	if deps.Quotes == nil {
		return nil, errors.New("order creator requires quote repository")
	}
	if deps.Orders == nil {
		return nil, errors.New("order creator requires order repository")
	}
	if deps.Counters == nil {
		return nil, errors.New("order creator requires counter repository")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("order creator requires totals reconciler")
	}

	svc := &orderCreatorService{
		quotes:     deps.Quotes,
		orders:     deps.Orders,
		products:   deps.Products,
		coupons:    deps.Coupons,
		counters:   deps.Counters,
		reconciler: deps.Reconciler,
		publisher:  deps.Publisher,
		uow:        deps.UnitOfWork,
		sanitize:   deps.Sanitize,
		newOrderID: deps.NewOrderID,
		clock:      deps.Clock,
		log:        deps.Logger,
	}
	if svc.uow == nil {
		svc.uow = passthroughUnitOfWork{}
	}
	if svc.sanitize == nil {
		svc.sanitize = func(input string) string { return input }
	}
	if svc.newOrderID == nil {
		svc.newOrderID = func() string { return "ord_" + ulid.Make().String() }
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// CreateOrder materialises a merchant order from a platform-confirmed
// transaction. The operation is idempotent on the reserved increment id: a
// replayed hook for the same immutable quote returns the order created by the
// first delivery.
func (s *orderCreatorService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	tx := cmd.Transaction

	quoteID, err := tx.ImmutableQuoteID()
	if err != nil {
		return Order{}, NewOrderCreationError(OrderCreateErrGeneral,
			"transaction does not identify a cart").WithCause(err)
	}

	incrementID, _, derr := domain.ParseDisplayID(tx.Order.Cart.DisplayID)
	if derr != nil {
		incrementID = ""
	}

	immutable, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, NewOrderCreationError(OrderCreateErrCartExpired,
				fmt.Sprintf("immutable quote %q no longer exists", quoteID)).WithCause(err)
		}
		return Order{}, mapRepositoryError(err, nil)
	}
	if incrementID == "" {
		incrementID = strings.TrimSpace(immutable.ReservedOrderID)
	}
	if incrementID == "" {
		return Order{}, NewOrderCreationError(OrderCreateErrGeneral,
			fmt.Sprintf("quote %q carries no reserved order number", quoteID))
	}

	if existing, found, err := s.existingOrder(ctx, incrementID); err != nil {
		return Order{}, err
	} else if found {
		if existing.QuoteID == immutable.ID {
			s.log(ctx, "order.create.replayed", map[string]any{
				"increment_id": incrementID,
				"quote_id":     immutable.ID,
			})
			return existing, nil
		}
		// The reserved number was consumed by a different cart; hand this
		// cart a fresh one and continue.
		fresh, err := s.counters.NextIncrementID(ctx, immutable.StoreID)
		if err != nil {
			return Order{}, mapRepositoryError(err, nil)
		}
		s.log(ctx, "order.increment.reassigned", map[string]any{
			"quote_id": immutable.ID,
			"old":      incrementID,
			"new":      fresh,
		})
		incrementID = fresh
		immutable.ReservedOrderID = fresh
		if err := s.quotes.SetReservedOrderID(ctx, immutable.ID, fresh, s.clock()); err != nil {
			return Order{}, mapRepositoryError(err, ErrQuoteNotFound)
		}
	}

	parent, perr := s.loadParent(ctx, immutable, tx)
	if perr != nil {
		return Order{}, perr
	}

	if err := s.applyTransactionDetails(ctx, &immutable, tx); err != nil {
		return Order{}, err
	}

	if err := s.checkInventory(ctx, immutable); err != nil {
		return Order{}, err
	}
	if err := s.checkShippingMethod(ctx, immutable, tx); err != nil {
		return Order{}, err
	}

	totals, err := s.reconciler.ValidateBeforeOrderCommit(ctx, tx, immutable)
	if err != nil {
		return Order{}, err
	}
	if err := s.checkDiscountConsistency(tx, immutable); err != nil {
		return Order{}, err
	}

	order := s.buildOrder(incrementID, immutable, parent, tx, totals, cmd.PreAuth)

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		inserted, ierr := s.orders.Insert(ctx, order)
		if ierr != nil {
			if isConflict(ierr) {
				raced, rerr := s.orders.FindByIncrementID(ctx, incrementID)
				if rerr == nil && raced.QuoteID == immutable.ID {
					order = raced
					return nil
				}
				return NewOrderCreationError(OrderCreateErrOrderExists,
					fmt.Sprintf("order %q already exists", incrementID)).WithCause(ierr)
			}
			return mapRepositoryError(ierr, nil)
		}
		order = inserted

		if parent.ID != "" {
			now := s.clock()
			if err := s.quotes.SetActive(ctx, parent.ID, false, now); err != nil && !isNotFound(err) {
				return mapRepositoryError(err, nil)
			}
			// Point the parent back at its frozen clone so session recovery
			// can find the submitted cart.
			parent.ParentQuoteID = immutable.ID
			parent.IsActive = false
			parent.UpdatedAt = now
			if err := s.quotes.Update(ctx, parent); err != nil && !isNotFound(err) {
				return mapRepositoryError(err, nil)
			}
		}

		if code := strings.TrimSpace(immutable.CouponCode); code != "" && s.coupons != nil {
			if err := s.recordRedemption(ctx, code, immutable); err != nil {
				return NewOrderCreationError(OrderCreateErrDiscountApply,
					fmt.Sprintf("could not record redemption of code %q", code)).WithCause(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Name:        EventOrderCreated,
		IncrementID: order.IncrementID,
		QuoteID:     order.QuoteID,
		Reference:   tx.Reference,
		OccurredAt:  s.clock(),
	})
	s.log(ctx, "order.created", map[string]any{
		"increment_id": order.IncrementID,
		"quote_id":     order.QuoteID,
		"reference":    tx.Reference,
		"pre_auth":     cmd.PreAuth,
		"source":       cmd.Source,
	})
	return order, nil
}

// applyTransactionDetails writes the addresses the shopper entered on the
// hosted checkout back onto the immutable quote before it is reconciled and
// turned into an order. The quote was frozen before checkout, so for guests
// these fields only exist on the transaction. The shipping method is adopted
// only when the quote never had one; an already-selected method is validated
// separately instead of being overwritten.
func (s *orderCreatorService) applyTransactionDetails(ctx context.Context, quote *Quote, tx Transaction) error {
	cart := tx.Order.Cart
	changed := false

	if billing := domain.AddressFromPayload(cart.BillingAddress); billing != nil {
		quote.BillingAddress = billing
		changed = true
	}
	if len(cart.Shipments) > 0 {
		shipment := cart.Shipments[0]
		if shipping := domain.AddressFromPayload(shipment.ShippingAddress); shipping != nil {
			quote.ShippingAddress = shipping
			changed = true
		}
		reference := strings.TrimSpace(shipment.Reference)
		if reference != "" && strings.TrimSpace(quote.ShippingMethod) == "" &&
			strings.TrimSpace(shipment.Service) != virtualShipmentService {
			quote.ShippingMethod = reference
			if service := strings.TrimSpace(shipment.Service); service != "" {
				quote.ShippingDescription = service
			}
			changed = true
		}
	}

	if quote.CustomerIsGuest {
		if strings.TrimSpace(quote.CustomerFirstName) == "" && strings.TrimSpace(tx.From.FirstName) != "" {
			quote.CustomerFirstName = tx.From.FirstName
			changed = true
		}
		if strings.TrimSpace(quote.CustomerLastName) == "" && strings.TrimSpace(tx.From.LastName) != "" {
			quote.CustomerLastName = tx.From.LastName
			changed = true
		}
	}

	if !changed {
		return nil
	}
	quote.UpdatedAt = s.clock()
	if err := s.quotes.Update(ctx, *quote); err != nil && !isNotFound(err) {
		return mapRepositoryError(err, nil)
	}
	s.log(ctx, "order.quote.checkout_details", map[string]any{
		"quote_id": quote.ID,
	})
	return nil
}

// loadParent resolves the live parent cart. A missing or inactive parent
// normally means the session moved on and the cart is stale, except when the
// platform indemnifies the merchant for a back-office order.
func (s *orderCreatorService) loadParent(ctx context.Context, immutable Quote, tx Transaction) (Quote, error) {
	parentID := strings.TrimSpace(immutable.ParentQuoteID)
	if parentID == "" {
		return Quote{}, nil
	}
	parent, err := s.quotes.FindByID(ctx, parentID)
	if err != nil {
		if isNotFound(err) {
			if tx.IndemnifiedMerchant {
				s.log(ctx, "order.parent.indemnified", map[string]any{
					"quote_id":  immutable.ID,
					"parent_id": parentID,
				})
				return Quote{}, nil
			}
			return Quote{}, NewOrderCreationError(OrderCreateErrCartExpired,
				fmt.Sprintf("parent quote %q no longer exists", parentID)).WithCause(err)
		}
		return Quote{}, mapRepositoryError(err, nil)
	}
	if !parent.IsActive && !tx.IndemnifiedMerchant {
		// An inactive parent with its own order already placed means this
		// hook lost a race; the idempotency check upstream handles the
		// replay case, so a dead parent here is a stale cart.
		if _, err := s.orders.FindByParentQuoteID(ctx, parent.ID); err == nil {
			return Quote{}, NewOrderCreationError(OrderCreateErrCartExpired,
				fmt.Sprintf("parent quote %q already converted to an order", parentID))
		}
	}
	return parent, nil
}

func (s *orderCreatorService) existingOrder(ctx context.Context, incrementID string) (Order, bool, error) {
	existing, err := s.orders.FindByIncrementID(ctx, incrementID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, false, nil
		}
		return Order{}, false, mapRepositoryError(err, nil)
	}
	return existing, true, nil
}

func (s *orderCreatorService) checkInventory(ctx context.Context, quote Quote) error {
	if s.products == nil {
		return nil
	}
	for _, item := range quote.Items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			if isNotFound(err) {
				return NewOrderCreationError(OrderCreateErrOutOfInventory,
					fmt.Sprintf("product %q is no longer available", item.ProductID)).
					WithDetails(map[string]any{
						"product_id":         item.ProductID,
						"product_sku":        item.SKU,
						"available_quantity": 0,
						"needed_quantity":    item.Quantity,
					}).WithCause(err)
			}
			return mapRepositoryError(err, nil)
		}
		if !product.Available(item.Quantity) {
			return NewOrderCreationError(OrderCreateErrOutOfInventory,
				fmt.Sprintf("insufficient stock for product %q", item.ProductID)).
				WithDetails(map[string]any{
					"product_id":         item.ProductID,
					"product_sku":        item.SKU,
					"available_quantity": product.StockQuantity,
					"needed_quantity":    item.Quantity,
				})
		}
	}
	return nil
}

// checkShippingMethod verifies the shipment the platform confirmed still maps
// onto a shipping option the quote knows, matching by rate code first and by
// the legacy human-readable label second.
func (s *orderCreatorService) checkShippingMethod(ctx context.Context, quote Quote, tx Transaction) error {
	if quote.IsVirtual || len(tx.Order.Cart.Shipments) == 0 {
		return nil
	}
	shipment := tx.Order.Cart.Shipments[0]
	reference := strings.TrimSpace(shipment.Reference)
	service := strings.TrimSpace(shipment.Service)
	if service == virtualShipmentService {
		return nil
	}

	if reference != "" && reference == quote.ShippingMethod {
		return nil
	}
	if len(quote.ShippingRates) == 0 && reference != "" {
		// No rate snapshot to validate against; trust the platform echo.
		return nil
	}

	known := make([]string, 0, len(quote.ShippingRates))
	for _, rate := range quote.ShippingRates {
		if reference != "" && rate.Code == reference {
			return nil
		}
		if service != "" && rate.Label() == service {
			return nil
		}
		known = append(known, rate.Code)
	}
	return NewOrderCreationError(OrderCreateErrGeneral,
		fmt.Sprintf("shipping method %q is not available for this cart", reference)).
		WithDetails(map[string]any{
			"reference":   reference,
			"service":     service,
			"known_rates": known,
		})
}

// checkDiscountConsistency rejects carts whose platform-confirmed discount
// references a code the quote no longer carries.
func (s *orderCreatorService) checkDiscountConsistency(tx Transaction, quote Quote) error {
	for _, discount := range tx.Order.Cart.Discounts {
		code := strings.TrimSpace(discount.Reference)
		if code == "" {
			continue
		}
		if !strings.EqualFold(code, strings.TrimSpace(quote.CouponCode)) {
			return NewOrderCreationError(OrderCreateErrDiscountMissing,
				fmt.Sprintf("discount code %q is no longer applied to the cart", code)).
				WithDetails(map[string]any{"discount_code": code})
		}
	}
	return nil
}

func (s *orderCreatorService) buildOrder(incrementID string, immutable Quote, parent Quote, tx Transaction, totals domain.QuoteTotals, preAuth bool) Order {
	now := s.clock()

	email := strings.TrimSpace(immutable.CustomerEmail)
	if email == "" {
		email = tx.ConsumerEmail()
	}

	status := domain.OrderStatusProcessing
	if preAuth {
		status = domain.OrderStatusPreAuthPending
	}

	order := Order{
		ID:               s.newOrderID(),
		IncrementID:      incrementID,
		QuoteID:          immutable.ID,
		ParentQuoteID:    parent.ID,
		Status:           status,
		PaymentMethod:    domain.PaymentMethodBolt,
		BoltReference:    tx.Reference,
		TransactionID:    tx.ID,
		CustomerID:       immutable.CustomerID,
		CustomerEmail:    email,
		CustomerNote:     s.sanitize(userNote(tx, immutable)),
		CouponCode:       immutable.CouponCode,
		AppliedRuleIDs:   append([]string(nil), immutable.AppliedRuleIDs...),
		CreatedByWebhook: true,
		BillingAddress:   cloneAddress(immutable.BillingAddress),
		ShippingAddress:  cloneAddress(immutable.ShippingAddress),
		Totals: domain.OrderTotals{
			SubtotalCents:   domain.ToCents(totals.Subtotal),
			DiscountCents:   domain.ToCents(totals.Discount),
			TaxCents:        domain.ToCents(totals.Tax),
			ShippingCents:   domain.ToCents(totals.Shipping),
			GrandTotalCents: domain.ToCents(totals.GrandTotal),
			CurrencyCode:    immutable.CurrencyCode,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return order
}

func (s *orderCreatorService) recordRedemption(ctx context.Context, code string, quote Quote) error {
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			// Code vanished between apply and order; the discount was already
			// reconciled, so losing the counter is preferable to losing the
			// order.
			s.log(ctx, "order.redemption.code_missing", map[string]any{
				"quote_id": quote.ID,
				"code":     code,
			})
			return nil
		}
		return err
	}
	return s.coupons.RecordRedemption(ctx, code, coupon.RuleID, quote.CustomerID)
}

func (s *orderCreatorService) publish(ctx context.Context, event OrderEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.log(ctx, "order.event.publish.failed", map[string]any{
			"event":        event.Name,
			"increment_id": event.IncrementID,
			"error":        err.Error(),
		})
	}
}

func userNote(tx Transaction, quote Quote) string {
	if note := strings.TrimSpace(tx.Order.Cart.UserNote); note != "" {
		return note
	}
	return strings.TrimSpace(quote.CustomerNote)
}

// passthroughUnitOfWork runs the function directly when no transactional
// registry is wired.
type passthroughUnitOfWork struct{}

func (passthroughUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
