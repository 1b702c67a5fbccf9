package domain

import (
	"strings"
	"testing"
)

func TestToCentsRoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{0, 0},
		{1, 100},
		{58.08, 5808},
		{0.005, 1},
		{0.004, 0},
		{-0.005, -1},
		{19.999, 2000},
	}
	for _, tt := range tests {
		if got := ToCents(tt.amount); got != tt.want {
			t.Errorf("ToCents(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestFromCentsRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 5808, 1000000} {
		if got := ToCents(FromCents(cents)); got != cents {
			t.Errorf("round trip of %d produced %d", cents, got)
		}
	}
}

func TestTruncateDescription(t *testing.T) {
	short := "a short description"
	if got := TruncateDescription(short); got != short {
		t.Errorf("short description must pass through, got %q", got)
	}

	long := strings.Repeat("x", MaxItemDescriptionLength+100)
	got := TruncateDescription(long)
	if len(got) != MaxItemDescriptionLength {
		t.Errorf("truncated length = %d, want %d", len(got), MaxItemDescriptionLength)
	}
}

func TestShippingRateLabel(t *testing.T) {
	rate := ShippingRate{CarrierTitle: "Flat Rate", MethodTitle: "Fixed"}
	if got := rate.Label(); got != "Flat Rate - Fixed" {
		t.Errorf("Label = %q, want carrier - method", got)
	}

	rate.MethodTitle = ""
	if got := rate.Label(); got != "Flat Rate" {
		t.Errorf("Label = %q, want bare carrier", got)
	}
}

func TestRuleDiscountType(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{RuleActionFixed, "fixed_amount"},
		{RuleActionCartFixed, "fixed_amount"},
		{RuleActionPercent, "percentage"},
		{RuleActionShipping, "shipping"},
		{"buy_x_get_y", ""},
	}
	for _, tt := range tests {
		rule := Rule{Action: tt.action}
		if got := rule.DiscountType(); got != tt.want {
			t.Errorf("DiscountType(%q) = %q, want %q", tt.action, got, tt.want)
		}
	}
}

func TestAddressComplete(t *testing.T) {
	var nilAddr *Address
	if nilAddr.Complete() {
		t.Error("nil address must not be complete")
	}

	addr := &Address{
		FirstName:   "Jane",
		LastName:    "Shopper",
		Street1:     "1 Main St",
		City:        "Springfield",
		PostalCode:  "62701",
		CountryCode: "US",
	}
	if !addr.Complete() {
		t.Error("address with all required fields must be complete")
	}

	addr.City = "  "
	if addr.Complete() {
		t.Error("blank required field must fail completeness")
	}
}

func TestProductAvailable(t *testing.T) {
	unmanaged := Product{ManageStock: false}
	if !unmanaged.Available(100) {
		t.Error("unmanaged stock is always available")
	}

	managed := Product{ManageStock: true, InStock: true, StockQuantity: 3}
	if !managed.Available(3) {
		t.Error("exact stock must be available")
	}
	if managed.Available(4) {
		t.Error("over-stock request must be unavailable")
	}

	outOfStock := Product{ManageStock: true, InStock: false, StockQuantity: 3}
	if outOfStock.Available(1) {
		t.Error("out-of-stock flag must win over quantity")
	}
}

func TestItemProperties(t *testing.T) {
	item := QuoteItem{Options: []ItemOption{
		{Name: "Color", Value: "Blue"},
		{Name: "Size", Value: "  "},
		{Name: "", Value: "orphaned"},
		{Name: "Gift Set", Bundle: []BundleSelection{
			{Quantity: 1, Title: "Mug", Price: 9.99},
			{Quantity: 2, Title: "Coaster", Price: 3.50},
			{Quantity: 1, Title: "  "},
		}},
	}}

	props := ItemProperties(item)
	if len(props) != 2 {
		t.Fatalf("want 2 properties, got %+v", props)
	}
	if props[0].Name != "Color" || props[0].Value != "Blue" {
		t.Errorf("unexpected property: %+v", props[0])
	}
	if props[1].Name != "Gift Set" || props[1].Value != "1 x Mug 9.99, 2 x Coaster 3.50" {
		t.Errorf("unexpected bundle rendering: %+v", props[1])
	}

	if got := ItemProperties(QuoteItem{}); got != nil {
		t.Errorf("item without options must have no properties, got %+v", got)
	}
}

func TestAddressPayloadRoundTrip(t *testing.T) {
	addr := &Address{
		FirstName:   "Jane",
		LastName:    "Shopper",
		Street1:     "1 Main St",
		Street2:     "Apt 2",
		City:        "Springfield",
		Region:      "IL",
		PostalCode:  "62701",
		CountryCode: "US",
		Phone:       "555-0100",
		Email:       "jane@example.com",
	}

	got := AddressFromPayload(AddressToPayload(addr))
	if got == nil || *got != *addr {
		t.Errorf("round trip produced %+v, want %+v", got, addr)
	}

	if AddressFromPayload(nil) != nil {
		t.Error("nil payload must convert to nil address")
	}
}

func TestHasDiscountCode(t *testing.T) {
	cart := CartPayload{Discounts: []DiscountPayload{{Reference: "SAVE10"}}}
	if !cart.HasDiscountCode("save10") {
		t.Error("code match must be case-insensitive")
	}
	if cart.HasDiscountCode("OTHER") {
		t.Error("unknown code must not match")
	}
	if cart.HasDiscountCode("  ") {
		t.Error("blank code must not match")
	}
}
