package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/boltlink/api/internal/domain"
	pfirestore "github.com/boltlink/api/internal/platform/firestore"
)

const (
	couponCollection      = "coupons"
	ruleCollection        = "rules"
	couponUsageCollection = "coupon_usage"
)

type couponDocument struct {
	RuleID           string     `firestore:"ruleId"`
	UsageLimit       int64      `firestore:"usageLimit"`
	UsagePerCustomer int64      `firestore:"usagePerCustomer"`
	TimesUsed        int64      `firestore:"timesUsed"`
	ExpiresAt        *time.Time `firestore:"expiresAt,omitempty"`
}

type ruleDocument struct {
	Name            string     `firestore:"name"`
	Description     string     `firestore:"description,omitempty"`
	IsActive        bool       `firestore:"isActive"`
	FromDate        *time.Time `firestore:"fromDate,omitempty"`
	ToDate          *time.Time `firestore:"toDate,omitempty"`
	Action          string     `firestore:"action"`
	DiscountAmount  float64    `firestore:"discountAmount"`
	MinimumSubtotal float64    `firestore:"minimumSubtotal"`
	UsesPerCustomer int64      `firestore:"usesPerCustomer"`
	TimesUsed       int64      `firestore:"timesUsed"`
}

type couponUsageDocument struct {
	CustomerID string    `firestore:"customerId"`
	CouponCode string    `firestore:"couponCode"`
	TimesUsed  int64     `firestore:"timesUsed"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// CouponRepository persists coupons, price rules and usage counters.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
	rules    *pfirestore.BaseRepository[ruleDocument]
	usage    *pfirestore.BaseRepository[couponUsageDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil),
		rules:    pfirestore.NewBaseRepository[ruleDocument](provider, ruleCollection, nil),
		usage:    pfirestore.NewBaseRepository[couponUsageDocument](provider, couponUsageCollection, nil),
	}, nil
}

// FindByCode fetches a coupon by its code. Codes are case-insensitive and
// stored lowercased.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	doc, err := r.coupons.Get(ctx, couponDocID(code))
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		Code:             strings.TrimSpace(code),
		RuleID:           doc.Data.RuleID,
		UsageLimit:       doc.Data.UsageLimit,
		UsagePerCustomer: doc.Data.UsagePerCustomer,
		TimesUsed:        doc.Data.TimesUsed,
		ExpiresAt:        doc.Data.ExpiresAt,
	}, nil
}

// FindRule fetches the price rule behind a coupon.
func (r *CouponRepository) FindRule(ctx context.Context, ruleID string) (domain.Rule, error) {
	if r == nil || r.rules == nil {
		return domain.Rule{}, errors.New("coupon repository not initialised")
	}
	doc, err := r.rules.Get(ctx, strings.TrimSpace(ruleID))
	if err != nil {
		return domain.Rule{}, err
	}
	return domain.Rule{
		ID:              doc.ID,
		Name:            doc.Data.Name,
		Description:     doc.Data.Description,
		IsActive:        doc.Data.IsActive,
		FromDate:        doc.Data.FromDate,
		ToDate:          doc.Data.ToDate,
		Action:          doc.Data.Action,
		DiscountAmount:  doc.Data.DiscountAmount,
		MinimumSubtotal: doc.Data.MinimumSubtotal,
		UsesPerCustomer: doc.Data.UsesPerCustomer,
		TimesUsed:       doc.Data.TimesUsed,
	}, nil
}

// Usage returns the per-customer redemption counter. A missing document means
// zero redemptions.
func (r *CouponRepository) Usage(ctx context.Context, customerID string, code string) (domain.CouponUsage, error) {
	if r == nil || r.usage == nil {
		return domain.CouponUsage{}, errors.New("coupon repository not initialised")
	}
	usage := domain.CouponUsage{CustomerID: customerID, CouponCode: strings.TrimSpace(code)}
	if strings.TrimSpace(customerID) == "" {
		return usage, nil
	}
	doc, err := r.usage.Get(ctx, usageDocID(customerID, code))
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return usage, nil
		}
		return domain.CouponUsage{}, err
	}
	usage.TimesUsed = doc.Data.TimesUsed
	return usage, nil
}

// RecordRedemption bumps the coupon, rule and per-customer counters in one
// transaction.
func (r *CouponRepository) RecordRedemption(ctx context.Context, code string, ruleID string, customerID string) error {
	return r.adjustUsage(ctx, code, ruleID, customerID, 1)
}

// RollbackRedemption reverses RecordRedemption. Counters never go below zero.
func (r *CouponRepository) RollbackRedemption(ctx context.Context, code string, ruleID string, customerID string) error {
	return r.adjustUsage(ctx, code, ruleID, customerID, -1)
}

func (r *CouponRepository) adjustUsage(ctx context.Context, code string, ruleID string, customerID string, delta int64) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("coupon repository: code is required")
	}

	couponRef, err := r.coupons.DocumentRef(ctx, couponDocID(code))
	if err != nil {
		return err
	}
	var ruleRef *firestore.DocumentRef
	if strings.TrimSpace(ruleID) != "" {
		if ruleRef, err = r.rules.DocumentRef(ctx, strings.TrimSpace(ruleID)); err != nil {
			return err
		}
	}
	var usageRef *firestore.DocumentRef
	if strings.TrimSpace(customerID) != "" {
		if usageRef, err = r.usage.DocumentRef(ctx, usageDocID(customerID, code)); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		couponSnap, err := tx.Get(couponRef)
		if err != nil {
			return err
		}
		var coupon couponDocument
		if err := couponSnap.DataTo(&coupon); err != nil {
			return err
		}

		var rule ruleDocument
		if ruleRef != nil {
			ruleSnap, err := tx.Get(ruleRef)
			if err != nil {
				return err
			}
			if err := ruleSnap.DataTo(&rule); err != nil {
				return err
			}
		}

		usage := couponUsageDocument{CustomerID: strings.TrimSpace(customerID), CouponCode: code}
		if usageRef != nil {
			usageSnap, err := tx.Get(usageRef)
			if err == nil {
				if err := usageSnap.DataTo(&usage); err != nil {
					return err
				}
			}
		}

		if err := tx.Update(couponRef, []firestore.Update{
			{Path: "timesUsed", Value: clampCounter(coupon.TimesUsed + delta)},
		}); err != nil {
			return err
		}
		if ruleRef != nil {
			if err := tx.Update(ruleRef, []firestore.Update{
				{Path: "timesUsed", Value: clampCounter(rule.TimesUsed + delta)},
			}); err != nil {
				return err
			}
		}
		if usageRef != nil {
			usage.TimesUsed = clampCounter(usage.TimesUsed + delta)
			usage.UpdatedAt = now
			if err := tx.Set(usageRef, usage); err != nil {
				return err
			}
		}
		return nil
	})
}

func clampCounter(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

func couponDocID(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func usageDocID(customerID string, code string) string {
	return fmt.Sprintf("%s_%s", strings.TrimSpace(customerID), couponDocID(code))
}
