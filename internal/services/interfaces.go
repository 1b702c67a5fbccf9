package services

import (
	"context"
	"time"

	domain "github.com/boltlink/api/internal/domain"
)

// Type aliases keep service signatures terse while domain types stay the
// single source of truth.
type (
	// Quote aliases the domain quote model.
	Quote = domain.Quote
	// QuoteItem aliases the domain quote item model.
	QuoteItem = domain.QuoteItem
	// Order aliases the domain order model.
	Order = domain.Order
	// Transaction aliases the platform transaction payload.
	Transaction = domain.Transaction
	// CartPayload aliases the outbound platform cart document.
	CartPayload = domain.CartPayload
	// DiscountRow aliases the typed discount contribution.
	DiscountRow = domain.DiscountRow
)

// Clock yields the current time; injected for deterministic tests.
type Clock func() time.Time

// Logger records structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Sanitizer strips unsafe markup from free-text fields before persistence.
type Sanitizer func(input string) string

// TransactionGateway is the outbound surface of the payment platform API.
type TransactionGateway interface {
	CreateOrderToken(ctx context.Context, cart domain.CartPayload) (string, error)
	FetchTransaction(ctx context.Context, reference string) (domain.Transaction, error)
}

// OrderEvent is a lifecycle notification published after order mutations.
type OrderEvent struct {
	Name        string    `json:"name"`
	IncrementID string    `json:"increment_id"`
	QuoteID     string    `json:"quote_id,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Order lifecycle event names.
const (
	EventOrderCreated        = "order.created"
	EventOrderActivated      = "order.activated"
	EventOrderPreAuthRemoved = "order.preauth.removed"
)

// OrderEventPublisher fans order lifecycle events out to interested systems.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// UnitOfWork mirrors repositories.UnitOfWork for service-level injection.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DiscountSource contributes typed discount rows for a quote. Sources are
// consulted in registration order while assembling the cart payload.
type DiscountSource func(ctx context.Context, quote Quote) ([]DiscountRow, error)

// OrderTokenCommand requests a hosted-checkout token for a parent quote.
type OrderTokenCommand struct {
	QuoteID string
	// MultiPage requests a pre-checkout estimate cart: no shipments and no
	// shipping cost folded into the total.
	MultiPage bool
	// AdminOrder marks back-office carts, which collect totals eagerly and
	// label virtual shipments explicitly.
	AdminOrder bool
}

// OrderTokenResult is the token issuance envelope. Validation and platform
// failures surface in Error with an empty token; the HTTP layer returns the
// envelope either way.
type OrderTokenResult struct {
	Token string      `json:"token"`
	Cart  CartPayload `json:"cart"`
	Error string      `json:"error,omitempty"`
}

// BuildCartCommand assembles the platform cart payload for a quote.
type BuildCartCommand struct {
	Quote      Quote
	MultiPage  bool
	AdminOrder bool
}

// CartBuilderService assembles platform cart payloads and issues checkout
// tokens, caching unchanged carts.
type CartBuilderService interface {
	BuildCart(ctx context.Context, cmd BuildCartCommand) (CartPayload, error)
	GetOrderToken(ctx context.Context, cmd OrderTokenCommand) (OrderTokenResult, error)
	CloneQuote(ctx context.Context, parentQuoteID string) (Quote, error)
}

// TotalMismatch describes one within-tolerance totals difference.
type TotalMismatch struct {
	Field         string
	PlatformCents int64
	LocalCents    int64
}

// ReconcileReport lists within-tolerance differences found during
// reconciliation. An empty report means totals matched exactly.
type ReconcileReport struct {
	Warnings []TotalMismatch
}

// TotalsReconcilerService compares platform-confirmed totals against locally
// collected ones before an order is committed.
type TotalsReconcilerService interface {
	// Reconcile verifies the transaction cart against the quote. Differences
	// within tolerance are reported as warnings; larger ones fail with a
	// typed OrderCreationError.
	Reconcile(ctx context.Context, tx Transaction, quote Quote) (ReconcileReport, error)
	// ValidateBeforeOrderCommit is the pre-commit gate. Only a confirmation
	// request or an indemnified back-office transaction may commit at all;
	// other callers are refused with a generic failure. Within an allowed
	// commit, within-tolerance drift is absorbed by adjusting the returned
	// totals.
	ValidateBeforeOrderCommit(ctx context.Context, tx Transaction, quote Quote) (domain.QuoteTotals, error)
}

// CreateOrderCommand materialises an order from a confirmed transaction.
type CreateOrderCommand struct {
	Transaction Transaction
	// PreAuth creates the order in the provisional pre-auth pending state.
	PreAuth bool
	// Source names the trigger for audit logging, e.g. "webhook.pending".
	Source string
}

// OrderCreatorService idempotently materialises merchant orders.
type OrderCreatorService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// ReceiveOrderCommand finalises a pre-auth order after payment approval.
type ReceiveOrderCommand struct {
	IncrementID string
	Reference   string
}

// RemovePreAuthOrderCommand discards a pre-auth order after an irreversible
// rejection.
type RemovePreAuthOrderCommand struct {
	IncrementID string
	Reference   string
}

// CleanupReport summarises one scheduled cleanup sweep.
type CleanupReport struct {
	ExpiredOrders     int
	ActivatedOrders   int
	RemovedOrders     int
	DeletedQuotes     int
	DeactivatedQuotes int
}

// PreAuthLifecycleService owns the provisional order state machine and the
// scheduled cleanup sweeps.
type PreAuthLifecycleService interface {
	ReceiveOrder(ctx context.Context, cmd ReceiveOrderCommand) (Order, error)
	RemovePreAuthOrder(ctx context.Context, cmd RemovePreAuthOrderCommand) (Order, error)
	// SafeguardStatusChange vets a status transition attempted on a pre-auth
	// order. It returns the status that must be persisted, which is the
	// current one when the attempt is illegal or made outside a payment
	// confirmation request.
	SafeguardStatusChange(ctx context.Context, incrementID string, attempted domain.OrderStatus) (domain.OrderStatus, error)
	RunCleanup(ctx context.Context) (CleanupReport, error)
}

// ApplyDiscountCommand runs the two-phase discount code application.
type ApplyDiscountCommand struct {
	Code string
	// DisplayID identifies the cart, "<incrementId>|<immutableQuoteId>".
	DisplayID string
	// OrderReference is the legacy fallback cart identifier.
	OrderReference string
	CustomerID     string
}

// DiscountTotalsSnapshot reports post-application cart totals in minor units.
type DiscountTotalsSnapshot struct {
	TotalAmount    int64 `json:"total_amount"`
	TaxAmount      int64 `json:"tax_amount"`
	DiscountAmount int64 `json:"discount_amount"`
}

// DiscountResult is the discount hook response envelope.
type DiscountResult struct {
	Status         string                 `json:"status"`
	DiscountCents  int64                  `json:"discount_amount"`
	Description    string                 `json:"description,omitempty"`
	DiscountCode   string                 `json:"discount_code,omitempty"`
	DiscountType   string                 `json:"discount_type,omitempty"`
	Totals         DiscountTotalsSnapshot `json:"cart"`
	RemainingUses  int64                  `json:"remaining_uses,omitempty"`
	AppliedRuleIDs []string               `json:"-"`
}

// CouponService validates and applies discount codes on behalf of the
// platform's discount hooks.
type CouponService interface {
	ApplyDiscount(ctx context.Context, cmd ApplyDiscountCommand) (DiscountResult, error)
}
