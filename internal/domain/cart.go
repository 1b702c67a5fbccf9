package domain

import (
	"fmt"
	"strings"
)

// MaxItemDescriptionLength is the hard limit the platform enforces on item
// descriptions; longer values are rejected wholesale, so we truncate.
const MaxItemDescriptionLength = 8182

// DisplayIDSeparator joins the reserved increment id and the immutable quote
// id into the display id round-tripped through the platform.
const DisplayIDSeparator = "|"

// Cart item types understood by the platform.
const (
	ItemTypePhysical = "physical"
	ItemTypeDigital  = "digital"
)

// CartPayload is the canonical cart document sent to the payment platform.
// All amounts are integer minor units.
type CartPayload struct {
	OrderReference string            `json:"order_reference"`
	DisplayID      string            `json:"display_id,omitempty"`
	CurrencyCode   string            `json:"currency,omitempty"`
	TotalAmount    int64             `json:"total_amount"`
	SubtotalAmount int64             `json:"subtotal_amount"`
	TaxAmount      int64             `json:"tax_amount"`
	ShippingAmount int64             `json:"shipping_amount"`
	DiscountAmount int64             `json:"discount_amount"`
	Items          []CartItemPayload `json:"items"`
	Discounts      []DiscountPayload `json:"discounts"`
	Shipments      []ShipmentPayload `json:"shipments,omitempty"`
	BillingAddress *AddressPayload   `json:"billing_address,omitempty"`
}

// CartItemPayload is one line of the platform cart.
type CartItemPayload struct {
	Reference   string                `json:"reference"`
	Name        string                `json:"name"`
	SKU         string                `json:"sku,omitempty"`
	Description string                `json:"description,omitempty"`
	ImageURL    string                `json:"image_url,omitempty"`
	TotalAmount int64                 `json:"total_amount"`
	UnitPrice   int64                 `json:"unit_price"`
	Quantity    int64                 `json:"quantity"`
	Type        string                `json:"type"`
	Properties  []ItemPropertyPayload `json:"properties,omitempty"`
}

// ItemPropertyPayload is one name/value pair shown under a cart line on the
// hosted checkout, such as "Color: Blue".
type ItemPropertyPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DiscountPayload is one discount row of the platform cart. Amount is a
// non-negative minor-unit magnitude.
type DiscountPayload struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ShipmentPayload is one shipping option or selection of the platform cart.
type ShipmentPayload struct {
	ShippingAddress *AddressPayload `json:"shipping_address,omitempty"`
	TaxAmount       int64           `json:"tax_amount"`
	Service         string          `json:"service"`
	Cost            int64           `json:"cost"`
	Reference       string          `json:"reference,omitempty"`
}

// AddressPayload is the platform-facing address shape.
type AddressPayload struct {
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Company         string `json:"company,omitempty"`
	StreetAddress1  string `json:"street_address1,omitempty"`
	StreetAddress2  string `json:"street_address2,omitempty"`
	Locality        string `json:"locality,omitempty"`
	Region          string `json:"region,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	CountryCode     string `json:"country_code,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty"`
}

// NewDisplayID joins a reserved increment id and an immutable quote id.
func NewDisplayID(incrementID, quoteID string) string {
	return incrementID + DisplayIDSeparator + quoteID
}

// TruncateDescription clamps an item description to the platform limit.
func TruncateDescription(description string) string {
	if len(description) <= MaxItemDescriptionLength {
		return description
	}
	return description[:MaxItemDescriptionLength]
}

// AddressToPayload converts a merchant address to the platform shape.
func AddressToPayload(a *Address) *AddressPayload {
	if a == nil {
		return nil
	}
	return &AddressPayload{
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		Company:        a.Company,
		StreetAddress1: a.Street1,
		StreetAddress2: a.Street2,
		Locality:       a.City,
		Region:         a.Region,
		PostalCode:     a.PostalCode,
		CountryCode:    a.CountryCode,
		Phone:          a.Phone,
		Email:          a.Email,
	}
}

// AddressFromPayload converts a platform address back to the merchant shape.
func AddressFromPayload(p *AddressPayload) *Address {
	if p == nil {
		return nil
	}
	return &Address{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Company:     p.Company,
		Street1:     p.StreetAddress1,
		Street2:     p.StreetAddress2,
		City:        p.Locality,
		Region:      p.Region,
		PostalCode:  p.PostalCode,
		CountryCode: p.CountryCode,
		Phone:       p.Phone,
		Email:       p.Email,
	}
}

// ItemProperties flattens a quote item's selected options into the platform's
// name/value pairs. Bundle options render each selection as
// "<qty> x <title> <price>", joined with commas, matching how the storefront
// summarises a bundle. Options missing a name or any value are dropped.
func ItemProperties(item QuoteItem) []ItemPropertyPayload {
	if len(item.Options) == 0 {
		return nil
	}
	properties := make([]ItemPropertyPayload, 0, len(item.Options))
	for _, option := range item.Options {
		name := strings.TrimSpace(option.Name)
		if name == "" {
			continue
		}
		value := strings.TrimSpace(option.Value)
		if len(option.Bundle) > 0 {
			value = bundleOptionValue(option.Bundle)
		}
		if value == "" {
			continue
		}
		properties = append(properties, ItemPropertyPayload{Name: name, Value: value})
	}
	if len(properties) == 0 {
		return nil
	}
	return properties
}

func bundleOptionValue(selections []BundleSelection) string {
	parts := make([]string, 0, len(selections))
	for _, sel := range selections {
		title := strings.TrimSpace(sel.Title)
		if title == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d x %s %.2f", sel.Quantity, title, sel.Price))
	}
	return strings.Join(parts, ", ")
}

// ItemType classifies a quote item for the platform.
func ItemType(item QuoteItem) string {
	if item.IsVirtual {
		return ItemTypeDigital
	}
	return ItemTypePhysical
}

func (c CartPayload) String() string {
	return fmt.Sprintf("cart{ref=%s display=%s total=%d items=%d}",
		c.OrderReference, c.DisplayID, c.TotalAmount, len(c.Items))
}

// HasDiscountCode reports whether any discount row carries the given code.
func (c CartPayload) HasDiscountCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	for _, d := range c.Discounts {
		if strings.EqualFold(d.Reference, code) {
			return true
		}
	}
	return false
}
