package domain

import (
	"strings"
	"time"
)

// Quote is a merchant-side cart. A quote plays one of two roles: a parent
// quote is the live cart the shopper mutates, and an immutable quote is the
// frozen clone of a parent taken at checkout time and sent to the payment
// platform. Immutable quotes reference their parent through ParentQuoteID.
type Quote struct {
	ID                  string
	ParentQuoteID       string
	ReservedOrderID     string
	StoreID             string
	CurrencyCode        string
	IsActive            bool
	IsVirtual           bool
	CustomerID          string
	CustomerEmail       string
	CustomerFirstName   string
	CustomerLastName    string
	CustomerIsGuest     bool
	CustomerNote        string
	Items               []QuoteItem
	BillingAddress      *Address
	ShippingAddress     *Address
	ShippingMethod      string
	ShippingDescription string
	ShippingRates       []ShippingRate
	CouponCode          string
	AppliedRuleIDs      []string
	Totals              QuoteTotals
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// QuoteItem is a single line in a quote. Monetary fields are decimal major
// units; conversion to minor units happens at the platform boundary.
type QuoteItem struct {
	ID          string
	ProductID   string
	SKU         string
	Name        string
	Description string
	ImageURL    string
	Quantity    int64
	UnitPrice   float64
	RowTotal    float64
	IsVirtual   bool
	Options     []ItemOption
}

// ItemOption is one buyer-selected product option on a quote item, such as a
// configurable attribute, a custom option, or a bundle selection. Bundle
// options carry their selections in Bundle instead of a flat Value.
type ItemOption struct {
	Name   string
	Value  string
	Bundle []BundleSelection
}

// BundleSelection is one chosen product inside a bundle option.
type BundleSelection struct {
	Quantity int64
	Title    string
	Price    float64
}

// QuoteTotals carries the collected totals of a quote in decimal major units.
// Discount is a non-negative magnitude.
type QuoteTotals struct {
	Subtotal             float64
	SubtotalWithDiscount float64
	Discount             float64
	Tax                  float64
	Shipping             float64
	ShippingTax          float64
	GrandTotal           float64
}

// Address is a postal address attached to a quote or order.
type Address struct {
	FirstName   string
	LastName    string
	Company     string
	Street1     string
	Street2     string
	City        string
	Region      string
	PostalCode  string
	CountryCode string
	Phone       string
	Email       string
}

// Complete reports whether the address carries the fields the payment
// platform refuses to work without.
func (a *Address) Complete() bool {
	if a == nil {
		return false
	}
	required := []string{a.FirstName, a.LastName, a.Street1, a.City, a.PostalCode, a.CountryCode}
	for _, field := range required {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// ShippingRate is one shipping option quoted for a cart.
type ShippingRate struct {
	Code         string
	CarrierTitle string
	MethodTitle  string
	Price        float64
}

// Label renders the human label legacy integrations matched shipping methods
// by, "<carrier> - <method>", collapsing to the bare carrier title when the
// method title is empty.
func (r ShippingRate) Label() string {
	carrier := strings.TrimSpace(r.CarrierTitle)
	method := strings.TrimSpace(r.MethodTitle)
	if method == "" {
		return carrier
	}
	return carrier + " - " + method
}

// OrderStatus is the lifecycle state of a merchant order.
type OrderStatus string

const (
	// OrderStatusPreAuthPending marks an order created at authorization time
	// that is still awaiting final payment approval.
	OrderStatusPreAuthPending OrderStatus = "pending_payment"
	// OrderStatusProcessing is the activated, payment-approved state.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCanceled is a regular cancellation.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusPreAuthCanceled marks a pre-auth order rejected before
	// activation and retained for audit.
	OrderStatusPreAuthCanceled OrderStatus = "pre_auth_canceled"
)

// PreAuth reports whether the status denotes a provisional pre-auth order.
func (s OrderStatus) PreAuth() bool {
	return s == OrderStatusPreAuthPending
}

// PaymentMethodBolt tags orders placed through the hosted checkout.
const PaymentMethodBolt = "boltpay"

// Order is a materialized merchant order.
type Order struct {
	ID               string
	IncrementID      string
	QuoteID          string
	ParentQuoteID    string
	Status           OrderStatus
	PaymentMethod    string
	BoltReference    string
	TransactionID    string
	CustomerID       string
	CustomerEmail    string
	CustomerNote     string
	CouponCode       string
	AppliedRuleIDs   []string
	CreatedByWebhook bool
	BillingAddress   *Address
	ShippingAddress  *Address
	Totals           OrderTotals
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderTotals carries order amounts in integer minor units.
type OrderTotals struct {
	SubtotalCents   int64
	DiscountCents   int64
	TaxCents        int64
	ShippingCents   int64
	GrandTotalCents int64
	CurrencyCode    string
}

// Coupon is a redeemable discount code pointing at a price rule.
type Coupon struct {
	Code             string
	RuleID           string
	UsageLimit       int64
	UsagePerCustomer int64
	TimesUsed        int64
	ExpiresAt        *time.Time
}

// Rule is the price rule a coupon activates. AppliesToShipping marks rules
// whose discount lands on the shipping amount even when the action is not
// by_shipping; TaxOnDiscount marks percentage rules configured to discount
// the tax portion as well.
type Rule struct {
	ID                string
	Name              string
	Description       string
	IsActive          bool
	FromDate          *time.Time
	ToDate            *time.Time
	Action            string
	DiscountAmount    float64
	MinimumSubtotal   float64
	UsesPerCustomer   int64
	TimesUsed         int64
	AppliesToShipping bool
	TaxOnDiscount     bool
}

// Rule actions as stored on the merchant side.
const (
	RuleActionFixed     = "by_fixed"
	RuleActionCartFixed = "cart_fixed"
	RuleActionPercent   = "by_percent"
	RuleActionShipping  = "by_shipping"
)

// DiscountType maps the rule action onto the platform's discount type
// vocabulary. Unknown actions map to an empty type.
func (r Rule) DiscountType() string {
	switch r.Action {
	case RuleActionFixed, RuleActionCartFixed:
		return "fixed_amount"
	case RuleActionPercent:
		return "percentage"
	case RuleActionShipping:
		return "shipping"
	default:
		return ""
	}
}

// CouponUsage tracks redemptions of a coupon by a single customer.
type CouponUsage struct {
	CustomerID string
	CouponCode string
	TimesUsed  int64
}

// Product is the catalog view the integration needs for stock validation.
type Product struct {
	ID            string
	SKU           string
	Name          string
	ManageStock   bool
	InStock       bool
	StockQuantity int64
}

// Available reports whether the requested quantity can be fulfilled.
func (p Product) Available(qty int64) bool {
	if !p.ManageStock {
		return true
	}
	return p.InStock && p.StockQuantity >= qty
}

// DiscountRow is one typed discount contribution to a cart payload. Sources
// append rows instead of mutating a shared totals bag, so every contribution
// stays attributable to the code that produced it.
type DiscountRow struct {
	Code        string
	Description string
	Type        string
	Amount      float64
}
