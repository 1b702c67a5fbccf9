package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/platform/requestctx"
	"github.com/boltlink/api/internal/repositories"
)

// DefaultToleranceCents is the tolerance the configuration falls back to when
// none is set. One cent absorbs rounding drift between float quote totals and
// the platform's integer amounts. A tolerance of zero is honoured as given:
// every mismatch, however small, fails the order.
const DefaultToleranceCents = 1

// Reconciled total fields, used in mismatch reports and log events.
const (
	totalFieldGrand    = "grand_total"
	totalFieldTax      = "tax"
	totalFieldDiscount = "discount"
	totalFieldShipping = "shipping"
)

// TotalsReconcilerDeps enumerates the dependencies of the totals reconciler.
type TotalsReconcilerDeps struct {
	// ToleranceCents is the maximum absolute difference, in minor units,
	// tolerated on each aggregate total. Differences within the tolerance
	// are logged; larger ones fail the order.
	ToleranceCents int64
	// PriceFaultTolerant downgrades per-item unit price mismatches from a
	// hard failure to a logged warning.
	PriceFaultTolerant bool
	Coupons            repositories.CouponRepository
	Clock              Clock
	Logger             Logger
}

type totalsReconcilerService struct {
	tolerance     int64
	faultTolerant bool
	coupons       repositories.CouponRepository
	clock         Clock
	log           Logger
}

// NewTotalsReconcilerService builds the totals reconciler.
func NewTotalsReconcilerService(deps TotalsReconcilerDeps) (TotalsReconcilerService, error) {
	if deps.Coupons == nil {
		return nil, fmt.Errorf("%w: totals reconciler requires coupon repository", ErrInvalidInput)
	}
	svc := &totalsReconcilerService{
		tolerance:     deps.ToleranceCents,
		faultTolerant: deps.PriceFaultTolerant,
		coupons:       deps.Coupons,
		clock:         deps.Clock,
		log:           deps.Logger,
	}
	if svc.tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance must not be negative", ErrInvalidInput)
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// Reconcile verifies the platform-confirmed cart against the local quote.
func (s *totalsReconcilerService) Reconcile(ctx context.Context, tx Transaction, quote Quote) (ReconcileReport, error) {
	cart := tx.Order.Cart
	report := ReconcileReport{}

	if err := s.reconcileItems(ctx, cart, quote); err != nil {
		return report, err
	}

	skipDiscountChecks, err := s.validateCoupons(ctx, quote)
	if err != nil {
		return report, err
	}

	checks := []struct {
		field    string
		platform int64
		local    int64
	}{
		{totalFieldDiscount, cart.DiscountAmount.Amount, domain.ToCents(quote.Totals.Discount)},
		{totalFieldShipping, shipmentCost(cart), domain.ToCents(quote.Totals.Shipping)},
		{totalFieldTax, cart.TaxAmount.Amount, domain.ToCents(quote.Totals.Tax)},
		{totalFieldGrand, cart.TotalAmount.Amount, domain.ToCents(quote.Totals.GrandTotal)},
	}

	for _, check := range checks {
		if skipDiscountChecks && (check.field == totalFieldDiscount || check.field == totalFieldShipping) {
			s.log(ctx, "totals.check.skipped", map[string]any{
				"quote_id": quote.ID,
				"field":    check.field,
			})
			continue
		}
		diff := absInt64(check.platform - check.local)
		if diff == 0 {
			continue
		}
		if diff <= s.tolerance {
			report.Warnings = append(report.Warnings, TotalMismatch{
				Field:         check.field,
				PlatformCents: check.platform,
				LocalCents:    check.local,
			})
			s.log(ctx, "totals.mismatch", map[string]any{
				"quote_id": quote.ID,
				"field":    check.field,
				"platform": check.platform,
				"local":    check.local,
			})
			continue
		}
		return report, NewOrderCreationError(OrderCreateErrCartExpired,
			fmt.Sprintf("cart total mismatch on %s", check.field)).
			WithDetails(map[string]any{
				"field":     check.field,
				"old_value": check.platform,
				"new_value": check.local,
			})
	}
	return report, nil
}

// ValidateBeforeOrderCommit gates order materialisation. Only a payment
// confirmation request or a back-office transaction may commit an order at
// all; any other caller is refused outright with a deliberately uninformative
// error so the endpoint cannot be used to enumerate cart state. Within an
// allowed commit, within-tolerance drift on the aggregate totals is absorbed
// by adjusting the returned totals towards the platform's amounts.
func (s *totalsReconcilerService) ValidateBeforeOrderCommit(ctx context.Context, tx Transaction, quote Quote) (domain.QuoteTotals, error) {
	if !requestctx.InConfirmation(ctx) && !tx.IndemnifiedMerchant {
		s.log(ctx, "totals.commit.refused", map[string]any{
			"quote_id": quote.ID,
		})
		return domain.QuoteTotals{}, NewOrderCreationError(OrderCreateErrGeneral,
			"order could not be created")
	}

	report, err := s.Reconcile(ctx, tx, quote)
	if err != nil {
		return domain.QuoteTotals{}, err
	}

	totals := quote.Totals
	if len(report.Warnings) == 0 {
		return totals, nil
	}

	for _, warning := range report.Warnings {
		adjusted := domain.FromCents(warning.PlatformCents)
		switch warning.Field {
		case totalFieldGrand:
			totals.GrandTotal = adjusted
		case totalFieldTax:
			totals.Tax = adjusted
		case totalFieldShipping:
			totals.Shipping = adjusted
		case totalFieldDiscount:
			totals.Discount = adjusted
		}
		s.log(ctx, "totals.adjusted", map[string]any{
			"quote_id": quote.ID,
			"field":    warning.Field,
			"platform": warning.PlatformCents,
			"local":    warning.LocalCents,
		})
	}
	return totals, nil
}

// reconcileItems matches every platform cart line against the quote's items.
// Line amounts are matched exactly: a unit price shift of any size means the
// catalogue changed under the shopper.
func (s *totalsReconcilerService) reconcileItems(ctx context.Context, cart domain.TransactionCart, quote Quote) error {
	byReference := make(map[string]domain.QuoteItem, len(quote.Items))
	bySKU := make(map[string]domain.QuoteItem, len(quote.Items))
	for _, item := range quote.Items {
		byReference[item.ID] = item
		if sku := strings.TrimSpace(item.SKU); sku != "" {
			bySKU[sku] = item
		}
	}

	for _, line := range cart.Items {
		item, ok := byReference[line.Reference]
		if !ok {
			item, ok = bySKU[strings.TrimSpace(line.SKU)]
		}
		if !ok {
			return NewOrderCreationError(OrderCreateErrCartExpired,
				fmt.Sprintf("cart item %q no longer in quote", line.Reference)).
				WithDetails(map[string]any{
					"reference": line.Reference,
					"sku":       line.SKU,
				})
		}

		localUnit := domain.ToCents(item.UnitPrice)
		if line.UnitPrice.Amount != localUnit {
			if s.faultTolerant {
				s.log(ctx, "totals.item_price.mismatch", map[string]any{
					"quote_id":  quote.ID,
					"reference": line.Reference,
					"platform":  line.UnitPrice.Amount,
					"local":     localUnit,
				})
				continue
			}
			return NewOrderCreationError(OrderCreateErrItemPriceChange,
				fmt.Sprintf("unit price changed for item %q", line.Reference)).
				WithDetails(map[string]any{
					"reference": line.Reference,
					"old_price": line.UnitPrice.Amount,
					"new_price": localUnit,
				})
		}
		if line.Quantity != item.Quantity {
			return NewOrderCreationError(OrderCreateErrCartExpired,
				fmt.Sprintf("quantity changed for item %q", line.Reference)).
				WithDetails(map[string]any{
					"reference":    line.Reference,
					"old_quantity": line.Quantity,
					"new_quantity": item.Quantity,
				})
		}
	}
	return nil
}

// validateCoupons confirms every sales rule recorded on the quote still
// exists and is still redeemable. A rule that acts on shipping, or a
// percentage rule that discounts tax, moves amounts between the aggregate
// buckets in ways the quote totals do not model; when one is present the
// discount and shipping band checks are skipped rather than mis-fired.
func (s *totalsReconcilerService) validateCoupons(ctx context.Context, quote Quote) (bool, error) {
	now := s.clock()
	skip := false

	for _, ruleID := range quote.AppliedRuleIDs {
		rule, err := s.coupons.FindRule(ctx, ruleID)
		if err != nil {
			if isNotFound(err) {
				return false, NewOrderCreationError(OrderCreateErrDiscountMissing,
					fmt.Sprintf("sales rule %q no longer exists", ruleID)).
					WithDetails(map[string]any{"rule_id": ruleID})
			}
			return false, NewOrderCreationError(OrderCreateErrGeneral,
				"sales rule lookup failed").WithCause(err)
		}
		if !rule.IsActive || (rule.ToDate != nil && rule.ToDate.Before(now)) {
			return false, NewOrderCreationError(OrderCreateErrDiscountApply,
				fmt.Sprintf("sales rule %q is no longer redeemable", ruleID)).
				WithDetails(map[string]any{"rule_id": ruleID})
		}
		if rule.Action == domain.RuleActionShipping || rule.AppliesToShipping ||
			(rule.Action == domain.RuleActionPercent && rule.TaxOnDiscount) {
			skip = true
		}
	}

	if code := strings.TrimSpace(quote.CouponCode); code != "" {
		coupon, err := s.coupons.FindByCode(ctx, code)
		if err != nil {
			if isNotFound(err) {
				return false, NewOrderCreationError(OrderCreateErrDiscountMissing,
					fmt.Sprintf("discount code %q no longer exists", code)).
					WithDetails(map[string]any{"code": code})
			}
			return false, NewOrderCreationError(OrderCreateErrGeneral,
				"discount code lookup failed").WithCause(err)
		}
		if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(now) {
			return false, NewOrderCreationError(OrderCreateErrDiscountApply,
				fmt.Sprintf("discount code %q has expired", code)).
				WithDetails(map[string]any{"code": code})
		}
	}
	return skip, nil
}

func shipmentCost(cart domain.TransactionCart) int64 {
	var total int64
	for _, shipment := range cart.Shipments {
		total += shipment.Cost.Amount
	}
	return total
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
