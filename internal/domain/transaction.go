package domain

import (
	"errors"
	"strings"
)

// ErrMalformedDisplayID reports a display id that does not carry both the
// reserved increment id and the immutable quote id.
var ErrMalformedDisplayID = errors.New("domain: malformed display id")

// Transaction hook/fetch statuses from the payment platform.
const (
	TransactionStatusPending              = "pending"
	TransactionStatusAuthorized           = "authorized"
	TransactionStatusCompleted            = "completed"
	TransactionStatusCancelled            = "cancelled"
	TransactionStatusRejectedIrreversible = "rejected_irreversible"
	TransactionStatusRejectedReversible   = "rejected_reversible"
)

// MinorAmount is the platform's money wrapper: integer minor units plus an
// ISO currency code.
type MinorAmount struct {
	Amount       int64  `json:"amount"`
	CurrencyCode string `json:"currency_code,omitempty"`
}

// Transaction is the platform's view of an authorization, received from
// webhooks or fetched back through the API.
type Transaction struct {
	ID                  string           `json:"id"`
	Type                string           `json:"type"`
	Status              string           `json:"status"`
	Reference           string           `json:"reference"`
	Amount              MinorAmount      `json:"amount"`
	Order               TransactionOrder `json:"order"`
	From                TransactionActor `json:"from_consumer"`
	IndemnifiedMerchant bool             `json:"merchant_back_office,omitempty"`
}

// TransactionActor carries the consumer identity attached to a transaction.
type TransactionActor struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Emails    []string `json:"emails,omitempty"`
	Phones    []string `json:"phones,omitempty"`
}

// TransactionOrder wraps the platform's snapshot of the cart.
type TransactionOrder struct {
	Token string          `json:"token,omitempty"`
	Cart  TransactionCart `json:"cart"`
}

// TransactionCart is the platform-confirmed cart state: the source of truth
// the merchant order is reconciled against.
type TransactionCart struct {
	DisplayID      string                `json:"display_id"`
	OrderReference string                `json:"order_reference"`
	CurrencyCode   string                `json:"currency,omitempty"`
	TotalAmount    MinorAmount           `json:"total_amount"`
	TaxAmount      MinorAmount           `json:"tax_amount"`
	SubtotalAmount MinorAmount           `json:"subtotal_amount"`
	DiscountAmount MinorAmount           `json:"discount_amount"`
	Items          []TransactionCartItem `json:"items"`
	Discounts      []DiscountPayload     `json:"discounts,omitempty"`
	Shipments      []TransactionShipment `json:"shipments,omitempty"`
	BillingAddress *AddressPayload       `json:"billing_address,omitempty"`
	UserNote       string                `json:"user_note,omitempty"`
}

// TransactionCartItem is one platform-confirmed cart line.
type TransactionCartItem struct {
	Reference   string      `json:"reference"`
	Name        string      `json:"name,omitempty"`
	SKU         string      `json:"sku,omitempty"`
	Quantity    int64       `json:"quantity"`
	UnitPrice   MinorAmount `json:"unit_price"`
	TotalAmount MinorAmount `json:"total_amount"`
}

// TransactionShipment is the platform-confirmed shipping selection.
type TransactionShipment struct {
	Service         string          `json:"service,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	Cost            MinorAmount     `json:"cost"`
	TaxAmount       MinorAmount     `json:"tax_amount"`
	ShippingAddress *AddressPayload `json:"shipping_address,omitempty"`
}

// ParseDisplayID splits "<incrementId>|<immutableQuoteId>". Both halves are
// required; a missing half means the caller cannot identify the order.
func ParseDisplayID(displayID string) (incrementID string, quoteID string, err error) {
	incrementID, quoteID, found := strings.Cut(displayID, DisplayIDSeparator)
	incrementID = strings.TrimSpace(incrementID)
	quoteID = strings.TrimSpace(quoteID)
	if !found || incrementID == "" || quoteID == "" {
		return "", "", ErrMalformedDisplayID
	}
	return incrementID, quoteID, nil
}

// ImmutableQuoteID resolves the immutable quote id for a transaction,
// preferring the display id and falling back to the order reference for
// carts produced before display ids carried both halves.
func (t Transaction) ImmutableQuoteID() (string, error) {
	if _, quoteID, err := ParseDisplayID(t.Order.Cart.DisplayID); err == nil {
		return quoteID, nil
	}
	if ref := strings.TrimSpace(t.Order.Cart.OrderReference); ref != "" {
		return ref, nil
	}
	return "", ErrMalformedDisplayID
}

// ConsumerEmail returns the first consumer email on the transaction, falling
// back to the billing address email.
func (t Transaction) ConsumerEmail() string {
	for _, email := range t.From.Emails {
		if e := strings.TrimSpace(email); e != "" {
			return e
		}
	}
	if t.Order.Cart.BillingAddress != nil {
		return strings.TrimSpace(t.Order.Cart.BillingAddress.Email)
	}
	return ""
}
