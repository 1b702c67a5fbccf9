package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/boltlink/api/internal/domain"
)

type couponFixture struct {
	svc     CouponService
	quotes  *memQuotes
	orders  *memOrders
	coupons *memCoupons
}

func newCouponFixture(t *testing.T, seed ...domain.Quote) *couponFixture {
	t.Helper()
	f := &couponFixture{
		quotes:  newMemQuotes(seed...),
		orders:  newMemOrders(),
		coupons: newMemCoupons(),
	}
	svc, err := NewCouponService(CouponServiceDeps{
		Quotes:  f.quotes,
		Orders:  f.orders,
		Coupons: f.coupons,
		Clock:   testClock(),
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	f.svc = svc
	return f
}

func discountCommand() ApplyDiscountCommand {
	return ApplyDiscountCommand{
		Code:      "SAVE10",
		DisplayID: "100010289|q-parent",
	}
}

func assertCouponCode(t *testing.T, err error, want int) *CouponError {
	t.Helper()
	var cErr *CouponError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want CouponError", err)
	}
	if cErr.Code != want {
		t.Fatalf("code = %d, want %d (%v)", cErr.Code, want, cErr)
	}
	return cErr
}

func TestApplyDiscountPercentRule(t *testing.T) {
	f := newCouponFixture(t, physicalQuote())
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, Description: "Ten percent off", IsActive: true},
	)

	result, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if result.DiscountCents != 490 { // 10% of 49.00
		t.Errorf("discount = %d, want 490", result.DiscountCents)
	}
	if result.DiscountType != "percentage" {
		t.Errorf("type = %q, want percentage", result.DiscountType)
	}
	if result.Totals.TotalAmount != 5318 { // 58.08 - 4.90
		t.Errorf("total = %d, want 5318", result.Totals.TotalAmount)
	}

	updated, _ := f.quotes.get("q-parent")
	if updated.CouponCode != "SAVE10" {
		t.Errorf("quote coupon = %q, want SAVE10", updated.CouponCode)
	}
	if updated.Totals.Discount != 4.9 {
		t.Errorf("quote discount = %v, want 4.9", updated.Totals.Discount)
	}
}

func TestApplyDiscountFixedRuleClampedToSubtotal(t *testing.T) {
	f := newCouponFixture(t, physicalQuote())
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionCartFixed, DiscountAmount: 100, IsActive: true},
	)

	result, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if result.DiscountCents != 4900 { // clamped to the 49.00 subtotal
		t.Errorf("discount = %d, want clamped 4900", result.DiscountCents)
	}
	if result.DiscountType != "fixed_amount" {
		t.Errorf("type = %q, want fixed_amount", result.DiscountType)
	}
}

func TestApplyDiscountShippingRule(t *testing.T) {
	f := newCouponFixture(t, physicalQuote())
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionShipping, IsActive: true},
	)

	result, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if result.DiscountCents != 500 {
		t.Errorf("discount = %d, want shipping's 500", result.DiscountCents)
	}
	if result.DiscountType != "shipping" {
		t.Errorf("type = %q, want shipping", result.DiscountType)
	}
}

func TestApplyDiscountMirrorsOntoParentQuote(t *testing.T) {
	parent, immutable := quotePair()
	f := newCouponFixture(t, parent, immutable)
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
	)

	cmd := discountCommand()
	cmd.DisplayID = "100010289|q-imm"
	if _, err := f.svc.ApplyDiscount(context.Background(), cmd); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}

	mirrored, _ := f.quotes.get("q-parent")
	if mirrored.CouponCode != "SAVE10" {
		t.Errorf("parent coupon = %q, want mirrored SAVE10", mirrored.CouponCode)
	}
}

func TestApplyDiscountFallsBackToOrderReference(t *testing.T) {
	f := newCouponFixture(t, physicalQuote())
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
	)

	cmd := ApplyDiscountCommand{Code: "SAVE10", OrderReference: "q-parent"}
	if _, err := f.svc.ApplyDiscount(context.Background(), cmd); err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
}

func TestApplyDiscountValidationCodes(t *testing.T) {
	past := testTime.Add(-time.Hour)
	future := testTime.Add(time.Hour)

	t.Run("missing code", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		cmd := discountCommand()
		cmd.Code = "  "
		_, err := f.svc.ApplyDiscount(context.Background(), cmd)
		assertCouponCode(t, err, CouponErrInsufficientInfo)
	})

	t.Run("missing cart reference", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		_, err := f.svc.ApplyDiscount(context.Background(), ApplyDiscountCommand{Code: "SAVE10"})
		assertCouponCode(t, err, CouponErrInsufficientInfo)
	})

	t.Run("unknown cart", func(t *testing.T) {
		f := newCouponFixture(t)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrInsufficientInfo)
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		cErr := assertCouponCode(t, err, CouponErrInvalidCode)
		if cErr.Totals == nil {
			t.Error("rejection must snapshot the unmodified cart totals")
		}
	})

	t.Run("expired coupon", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1", ExpiresAt: &past},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrExpired)
	})

	t.Run("rule not started", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true, FromDate: &future},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrNotAvailable)
	})

	t.Run("inactive rule", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrNotAvailable)
	})

	t.Run("usage limit reached", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1", UsageLimit: 5, TimesUsed: 5},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrLimitReached)
	})

	t.Run("per customer limit requires account", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1", UsagePerCustomer: 1},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrUniqueEmailOnly)
	})

	t.Run("per customer limit reached", func(t *testing.T) {
		quote := physicalQuote()
		quote.CustomerID = "cust-1"
		f := newCouponFixture(t, quote)
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1", UsagePerCustomer: 1},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
		)
		f.coupons.usage["cust-1_save10"] = domain.CouponUsage{CustomerID: "cust-1", CouponCode: "SAVE10", TimesUsed: 1}
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrLimitReached)
	})

	t.Run("minimum cart amount", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
			domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true, MinimumSubtotal: 100},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrMinimumCartAmount)
	})

	t.Run("no eligible discount", func(t *testing.T) {
		f := newCouponFixture(t, physicalQuote())
		f.coupons.addCoupon(
			domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
			domain.Rule{ID: "rule-1", Action: "unknown_action", DiscountAmount: 10, IsActive: true},
		)
		_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
		assertCouponCode(t, err, CouponErrItemsNotEligible)
	})
}

func TestApplyDiscountRejectsConvertedCart(t *testing.T) {
	f := newCouponFixture(t, physicalQuote())
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
	)
	f.orders.orders["ord-1"] = domain.Order{ID: "ord-1", IncrementID: "100010289", QuoteID: "q-parent"}

	_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
	assertCouponCode(t, err, CouponErrInsufficientInfo)
}

func TestApplyDiscountRejectsEmptyCart(t *testing.T) {
	quote := physicalQuote()
	quote.Items = nil
	f := newCouponFixture(t, quote)
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
	)

	_, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
	assertCouponCode(t, err, CouponErrInsufficientInfo)
}

// codeDroppingQuotes persists updates but silently discards the coupon code,
// the way a storefront promotion engine declines a code without erroring.
type codeDroppingQuotes struct {
	*memQuotes
}

func (m codeDroppingQuotes) Update(ctx context.Context, quote domain.Quote) error {
	quote.CouponCode = ""
	return m.memQuotes.Update(ctx, quote)
}

func TestApplyDiscountDetectsSilentlyDeclinedCode(t *testing.T) {
	quotes := newMemQuotes(physicalQuote())
	coupons := newMemCoupons()
	coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1"},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
	)
	svc, err := NewCouponService(CouponServiceDeps{
		Quotes:  codeDroppingQuotes{quotes},
		Orders:  newMemOrders(),
		Coupons: coupons,
		Clock:   testClock(),
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}

	_, err = svc.ApplyDiscount(context.Background(), discountCommand())
	assertCouponCode(t, err, CouponErrService)
}

func TestApplyDiscountReportsRemainingUses(t *testing.T) {
	f := newCouponFixture(t, physicalQuote())
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1", UsageLimit: 5, TimesUsed: 2},
		domain.Rule{ID: "rule-1", Action: domain.RuleActionPercent, DiscountAmount: 10, IsActive: true},
	)

	result, err := f.svc.ApplyDiscount(context.Background(), discountCommand())
	if err != nil {
		t.Fatalf("ApplyDiscount: %v", err)
	}
	if result.RemainingUses != 3 {
		t.Errorf("remaining uses = %d, want 3", result.RemainingUses)
	}
}
