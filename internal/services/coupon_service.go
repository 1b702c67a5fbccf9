package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/repositories"
)

// CouponServiceDeps enumerates the dependencies of the discount hook service.
type CouponServiceDeps struct {
	Quotes  repositories.QuoteRepository
	Orders  repositories.OrderRepository
	Coupons repositories.CouponRepository
	Clock   Clock
	Logger  Logger
}

type couponService struct {
	quotes  repositories.QuoteRepository
	orders  repositories.OrderRepository
	coupons repositories.CouponRepository
	clock   Clock
	log     Logger
}

// NewCouponService validates dependencies and builds the coupon service.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Quotes == nil {
		return nil, errors.New("coupon service requires quote repository")
	}
	if deps.Orders == nil {
		return nil, errors.New("coupon service requires order repository")
	}
	if deps.Coupons == nil {
		return nil, errors.New("coupon service requires coupon repository")
	}
	svc := &couponService{
		quotes:  deps.Quotes,
		orders:  deps.Orders,
		coupons: deps.Coupons,
		clock:   deps.Clock,
		log:     deps.Logger,
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// ApplyDiscount validates a discount code against the cart and, only once
// every precondition holds, mutates the quote. Validation and mutation are
// deliberately separate phases so a rejected code never leaves a half-applied
// discount behind.
func (s *couponService) ApplyDiscount(ctx context.Context, cmd ApplyDiscountCommand) (DiscountResult, error) {
	code := strings.TrimSpace(cmd.Code)
	quoteID := resolveCartReference(cmd)
	if code == "" || quoteID == "" {
		return DiscountResult{}, NewCouponError(CouponErrInsufficientInfo,
			"The discount code request is missing the code or the cart reference.")
	}

	if cerr := s.rejectConvertedCart(ctx, cmd); cerr != nil {
		return DiscountResult{}, cerr
	}

	quote, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		if isNotFound(err) {
			return DiscountResult{}, NewCouponError(CouponErrInsufficientInfo,
				"The cart could not be found. Please refresh the page and try again.").WithCause(err)
		}
		return DiscountResult{}, NewCouponError(CouponErrService,
			"The discount service is temporarily unavailable.").WithCause(err)
	}
	snapshot := totalsSnapshot(quote.Totals)
	if len(quote.Items) == 0 {
		return DiscountResult{}, NewCouponError(CouponErrInsufficientInfo,
			"The cart is empty. Add an item before applying a discount code.").
			WithTotals(snapshot)
	}

	coupon, rule, cerr := s.validateCode(ctx, code, quote, cmd.CustomerID)
	if cerr != nil {
		return DiscountResult{}, cerr.WithTotals(snapshot)
	}

	discount := s.computeDiscount(rule, quote)
	if discount <= 0 {
		return DiscountResult{}, NewCouponError(CouponErrItemsNotEligible,
			fmt.Sprintf("Code %q is not applicable to the items in your cart.", code)).
			WithTotals(snapshot)
	}

	updated, err := s.applyToQuote(ctx, quote, code, rule, discount)
	if err != nil {
		return DiscountResult{}, NewCouponError(CouponErrService,
			"The discount could not be applied. Please try again.").
			WithCause(err).WithTotals(snapshot)
	}

	// Re-read what was persisted: a storage layer that silently declined the
	// write must not be reported to the shopper as a success.
	persisted, err := s.quotes.FindByID(ctx, updated.ID)
	if err != nil || !strings.EqualFold(strings.TrimSpace(persisted.CouponCode), code) {
		s.log(ctx, "coupon.apply.unverified", map[string]any{
			"quote_id": updated.ID,
			"code":     code,
		})
		return DiscountResult{}, NewCouponError(CouponErrService,
			"The discount could not be applied. Please try again.").WithTotals(snapshot)
	}

	result := DiscountResult{
		Status:         "success",
		DiscountCents:  domain.ToCents(discount),
		Description:    discountDescription(code, rule),
		DiscountCode:   code,
		DiscountType:   rule.DiscountType(),
		Totals:         totalsSnapshot(updated.Totals),
		AppliedRuleIDs: updated.AppliedRuleIDs,
	}
	if coupon.UsageLimit > 0 {
		remaining := coupon.UsageLimit - coupon.TimesUsed
		if remaining < 0 {
			remaining = 0
		}
		result.RemainingUses = remaining
	}
	s.log(ctx, "coupon.applied", map[string]any{
		"quote_id": quote.ID,
		"code":     code,
		"rule_id":  rule.ID,
		"discount": result.DiscountCents,
	})
	return result, nil
}

// rejectConvertedCart refuses discount changes once the cart has already been
// turned into an order. The order is looked up by the increment id half of the
// display id; hooks arriving after conversion carry exactly that id.
func (s *couponService) rejectConvertedCart(ctx context.Context, cmd ApplyDiscountCommand) *CouponError {
	displayID := strings.TrimSpace(cmd.DisplayID)
	if displayID == "" {
		return nil
	}
	incrementID, _, err := domain.ParseDisplayID(displayID)
	if err != nil || incrementID == "" {
		return nil
	}
	order, err := s.orders.FindByIncrementID(ctx, incrementID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return NewCouponError(CouponErrService,
			"The discount service is temporarily unavailable.").WithCause(err)
	}
	s.log(ctx, "coupon.cart.converted", map[string]any{
		"increment_id": incrementID,
		"order_id":     order.ID,
	})
	return NewCouponError(CouponErrInsufficientInfo,
		"The cart has already been placed as an order and can no longer be changed.")
}

// validateCode runs every precondition in a fixed order so identical carts
// always fail with the same code.
func (s *couponService) validateCode(ctx context.Context, code string, quote Quote, customerID string) (domain.Coupon, domain.Rule, *CouponError) {
	now := s.clock()

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrInvalidCode,
				fmt.Sprintf("Code %q is not a valid discount code.", code)).WithCause(err)
		}
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrService,
			"The discount service is temporarily unavailable.").WithCause(err)
	}

	rule, err := s.coupons.FindRule(ctx, coupon.RuleID)
	if err != nil {
		if isNotFound(err) {
			return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrInvalidCode,
				fmt.Sprintf("Code %q is not a valid discount code.", code)).WithCause(err)
		}
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrService,
			"The discount service is temporarily unavailable.").WithCause(err)
	}

	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(now) {
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrExpired,
			fmt.Sprintf("Code %q has expired.", code))
	}
	if rule.ToDate != nil && rule.ToDate.Before(now) {
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrExpired,
			fmt.Sprintf("Code %q has expired.", code))
	}
	if !rule.IsActive || (rule.FromDate != nil && rule.FromDate.After(now)) {
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrNotAvailable,
			fmt.Sprintf("Code %q is not available right now.", code))
	}

	if coupon.UsageLimit > 0 && coupon.TimesUsed >= coupon.UsageLimit {
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrLimitReached,
			fmt.Sprintf("Code %q has reached its usage limit.", code))
	}

	perCustomer := coupon.UsagePerCustomer
	if perCustomer == 0 {
		perCustomer = rule.UsesPerCustomer
	}
	if perCustomer > 0 {
		shopper := strings.TrimSpace(customerID)
		if shopper == "" {
			shopper = strings.TrimSpace(quote.CustomerID)
		}
		if shopper == "" {
			return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrUniqueEmailOnly,
				fmt.Sprintf("Code %q requires a signed-in customer account.", code))
		}
		usage, err := s.coupons.Usage(ctx, shopper, code)
		if err != nil && !isNotFound(err) {
			return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrService,
				"The discount service is temporarily unavailable.").WithCause(err)
		}
		if usage.TimesUsed >= perCustomer {
			return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrLimitReached,
				fmt.Sprintf("Code %q has reached its usage limit for this account.", code))
		}
	}

	if rule.MinimumSubtotal > 0 && quote.Totals.Subtotal < rule.MinimumSubtotal {
		return domain.Coupon{}, domain.Rule{}, NewCouponError(CouponErrMinimumCartAmount,
			fmt.Sprintf("Code %q requires a minimum cart amount of %.2f.", code, rule.MinimumSubtotal))
	}

	return coupon, rule, nil
}

func (s *couponService) computeDiscount(rule domain.Rule, quote Quote) float64 {
	subtotal := quote.Totals.Subtotal
	switch rule.Action {
	case domain.RuleActionFixed, domain.RuleActionCartFixed:
		if rule.DiscountAmount > subtotal {
			return subtotal
		}
		return rule.DiscountAmount
	case domain.RuleActionPercent:
		return domain.RoundAmount(subtotal * rule.DiscountAmount / 100)
	case domain.RuleActionShipping:
		return quote.Totals.Shipping
	default:
		return 0
	}
}

// applyToQuote writes the discount to the quote and, when it is an immutable
// clone, mirrors the change onto the live parent cart so the shopper keeps
// seeing it.
func (s *couponService) applyToQuote(ctx context.Context, quote Quote, code string, rule domain.Rule, discount float64) (Quote, error) {
	now := s.clock()
	updated := applyDiscountTotals(quote, code, rule.ID, discount, now)
	if err := s.quotes.Update(ctx, updated); err != nil {
		return Quote{}, mapRepositoryError(err, ErrQuoteNotFound)
	}

	if parentID := strings.TrimSpace(quote.ParentQuoteID); parentID != "" {
		parent, err := s.quotes.FindByID(ctx, parentID)
		if err == nil {
			mirrored := applyDiscountTotals(parent, code, rule.ID, discount, now)
			if err := s.quotes.Update(ctx, mirrored); err != nil {
				s.log(ctx, "coupon.parent_sync.failed", map[string]any{
					"quote_id":  quote.ID,
					"parent_id": parentID,
					"error":     err.Error(),
				})
			}
		} else if !isNotFound(err) {
			s.log(ctx, "coupon.parent_sync.failed", map[string]any{
				"quote_id":  quote.ID,
				"parent_id": parentID,
				"error":     err.Error(),
			})
		}
	}
	return updated, nil
}

func applyDiscountTotals(quote Quote, code string, ruleID string, discount float64, now time.Time) Quote {
	previous := quote.Totals.Discount
	quote.CouponCode = code
	if !containsString(quote.AppliedRuleIDs, ruleID) {
		quote.AppliedRuleIDs = append(append([]string(nil), quote.AppliedRuleIDs...), ruleID)
	}
	quote.Totals.Discount = discount
	quote.Totals.SubtotalWithDiscount = quote.Totals.Subtotal - discount
	if quote.Totals.SubtotalWithDiscount < 0 {
		quote.Totals.SubtotalWithDiscount = 0
	}
	quote.Totals.GrandTotal = quote.Totals.GrandTotal + previous - discount
	if quote.Totals.GrandTotal < 0 {
		quote.Totals.GrandTotal = 0
	}
	quote.UpdatedAt = now
	return quote
}

func discountDescription(code string, rule domain.Rule) string {
	if desc := strings.TrimSpace(rule.Description); desc != "" {
		return desc
	}
	if name := strings.TrimSpace(rule.Name); name != "" {
		return name
	}
	return "Discount (" + code + ")"
}

func totalsSnapshot(totals domain.QuoteTotals) DiscountTotalsSnapshot {
	return DiscountTotalsSnapshot{
		TotalAmount:    domain.ToCents(totals.GrandTotal),
		TaxAmount:      domain.ToCents(totals.Tax),
		DiscountAmount: domain.ToCents(totals.Discount),
	}
}

func resolveCartReference(cmd ApplyDiscountCommand) string {
	if displayID := strings.TrimSpace(cmd.DisplayID); displayID != "" {
		if _, quoteID, err := domain.ParseDisplayID(displayID); err == nil {
			return quoteID
		}
	}
	return strings.TrimSpace(cmd.OrderReference)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
