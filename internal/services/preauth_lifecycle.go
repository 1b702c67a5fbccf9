package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/platform/requestctx"
	"github.com/boltlink/api/internal/repositories"
)

// Cleanup defaults applied when the deps leave the knobs zero.
const (
	DefaultPreAuthExpiryAge   = 15 * time.Minute
	DefaultOrphanQuoteTTL     = 14 * 24 * time.Hour
	DefaultCleanupBatchSize   = 200
	defaultActiveParentCutoff = 14 * 24 * time.Hour
)

// PreAuthLifecycleDeps enumerates the dependencies of the lifecycle manager.
type PreAuthLifecycleDeps struct {
	Orders    repositories.OrderRepository
	Quotes    repositories.QuoteRepository
	Coupons   repositories.CouponRepository
	Gateway   TransactionGateway
	Publisher OrderEventPublisher
	// ExpiryAge is how long a pre-auth order may stay pending before the
	// cleanup sweep re-checks it against the platform.
	ExpiryAge time.Duration
	// OrphanQuoteTTL is how long an immutable quote without an order is kept.
	OrphanQuoteTTL time.Duration
	// RetainCanceledOrders keeps discarded pre-auth orders around in the
	// pre_auth_canceled state instead of deleting them.
	RetainCanceledOrders bool
	CleanupBatchSize     int
	Clock                Clock
	Logger               Logger
}

type preAuthLifecycleService struct {
	orders    repositories.OrderRepository
	quotes    repositories.QuoteRepository
	coupons   repositories.CouponRepository
	gateway   TransactionGateway
	publisher OrderEventPublisher
	expiryAge time.Duration
	orphanTTL time.Duration
	retain    bool
	batchSize int
	clock     Clock
	log       Logger
}

// NewPreAuthLifecycleService validates dependencies and builds the lifecycle
// manager.
func NewPreAuthLifecycleService(deps PreAuthLifecycleDeps) (PreAuthLifecycleService, error) {
	if deps.Orders == nil {
		return nil, errors.New("pre-auth lifecycle requires order repository")
	}
	if deps.Quotes == nil {
		return nil, errors.New("pre-auth lifecycle requires quote repository")
	}

	svc := &preAuthLifecycleService{
		orders:    deps.Orders,
		quotes:    deps.Quotes,
		coupons:   deps.Coupons,
		gateway:   deps.Gateway,
		publisher: deps.Publisher,
		expiryAge: deps.ExpiryAge,
		orphanTTL: deps.OrphanQuoteTTL,
		retain:    deps.RetainCanceledOrders,
		batchSize: deps.CleanupBatchSize,
		clock:     deps.Clock,
		log:       deps.Logger,
	}
	if svc.expiryAge <= 0 {
		svc.expiryAge = DefaultPreAuthExpiryAge
	}
	if svc.orphanTTL <= 0 {
		svc.orphanTTL = DefaultOrphanQuoteTTL
	}
	if svc.batchSize <= 0 {
		svc.batchSize = DefaultCleanupBatchSize
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	if svc.log == nil {
		svc.log = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// ReceiveOrder finalises a pre-auth order after the platform approves the
// payment. Calling it on an already activated order is a no-op.
func (s *preAuthLifecycleService) ReceiveOrder(ctx context.Context, cmd ReceiveOrderCommand) (Order, error) {
	order, err := s.findOrder(ctx, cmd.IncrementID)
	if err != nil {
		return Order{}, err
	}

	if !order.Status.PreAuth() {
		s.log(ctx, "preauth.receive.noop", map[string]any{
			"increment_id": order.IncrementID,
			"status":       string(order.Status),
		})
		return order, nil
	}

	now := s.clock()
	if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusProcessing, now); err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	order.Status = domain.OrderStatusProcessing
	order.UpdatedAt = now

	s.publish(ctx, OrderEvent{
		Name:        EventOrderActivated,
		IncrementID: order.IncrementID,
		QuoteID:     order.QuoteID,
		Reference:   cmd.Reference,
		OccurredAt:  now,
	})
	s.log(ctx, "preauth.activated", map[string]any{
		"increment_id": order.IncrementID,
		"reference":    cmd.Reference,
	})
	return order, nil
}

// RemovePreAuthOrder discards a pre-auth order after an irreversible
// rejection: the coupon redemption is rolled back, the parent cart is handed
// back to the shopper and the order is either retained as canceled or
// deleted.
func (s *preAuthLifecycleService) RemovePreAuthOrder(ctx context.Context, cmd RemovePreAuthOrderCommand) (Order, error) {
	order, err := s.findOrder(ctx, cmd.IncrementID)
	if err != nil {
		return Order{}, err
	}

	if !order.Status.PreAuth() {
		s.log(ctx, "preauth.remove.noop", map[string]any{
			"increment_id": order.IncrementID,
			"status":       string(order.Status),
		})
		return order, nil
	}

	now := s.clock()
	s.rollbackRedemption(ctx, order)
	s.reactivateParent(ctx, order, now)

	if s.retain {
		if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPreAuthCanceled, now); err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound)
		}
		order.Status = domain.OrderStatusPreAuthCanceled
		order.UpdatedAt = now
	} else {
		if err := s.orders.Delete(ctx, order.ID); err != nil && !isNotFound(err) {
			return Order{}, mapRepositoryError(err, nil)
		}
		order.Status = domain.OrderStatusPreAuthCanceled
	}

	s.publish(ctx, OrderEvent{
		Name:        EventOrderPreAuthRemoved,
		IncrementID: order.IncrementID,
		QuoteID:     order.QuoteID,
		Reference:   cmd.Reference,
		OccurredAt:  now,
	})
	s.log(ctx, "preauth.removed", map[string]any{
		"increment_id": order.IncrementID,
		"reference":    cmd.Reference,
		"retained":     s.retain,
	})
	return order, nil
}

// SafeguardStatusChange vets a status transition attempted on a pre-auth
// order. The pending state may only be left inside a platform payment
// confirmation, and even then only towards the lifecycle states; a transition
// attempted by any other caller is reverted to the current status.
func (s *preAuthLifecycleService) SafeguardStatusChange(ctx context.Context, incrementID string, attempted domain.OrderStatus) (domain.OrderStatus, error) {
	order, err := s.findOrder(ctx, incrementID)
	if err != nil {
		return "", err
	}
	if !order.Status.PreAuth() {
		return attempted, nil
	}
	if !requestctx.InConfirmation(ctx) {
		s.log(ctx, "preauth.status.blocked.warning", map[string]any{
			"increment_id": order.IncrementID,
			"attempted":    string(attempted),
			"current":      string(order.Status),
			"reason":       "outside payment confirmation",
		})
		return order.Status, nil
	}
	switch attempted {
	case domain.OrderStatusPreAuthPending, domain.OrderStatusProcessing,
		domain.OrderStatusCanceled, domain.OrderStatusPreAuthCanceled:
		return attempted, nil
	default:
		s.log(ctx, "preauth.status.blocked.warning", map[string]any{
			"increment_id": order.IncrementID,
			"attempted":    string(attempted),
			"current":      string(order.Status),
		})
		return order.Status, nil
	}
}

// RunCleanup performs one scheduled maintenance sweep: stale pre-auth orders
// are resolved against the platform, orphaned immutable quotes are deleted
// and long-converted parent carts are deactivated.
func (s *preAuthLifecycleService) RunCleanup(ctx context.Context) (CleanupReport, error) {
	report := CleanupReport{}
	now := s.clock()

	stale, err := s.orders.ListPreAuthCreatedBefore(ctx, now.Add(-s.expiryAge), s.batchSize)
	if err != nil {
		return report, mapRepositoryError(err, nil)
	}
	for _, order := range stale {
		report.ExpiredOrders++
		s.resolveStaleOrder(ctx, order, &report)
	}

	orphans, err := s.quotes.ListImmutableCreatedBefore(ctx, now.Add(-s.orphanTTL), s.batchSize)
	if err != nil {
		return report, mapRepositoryError(err, nil)
	}
	for _, quote := range orphans {
		if _, err := s.orders.FindByQuoteID(ctx, quote.ID); err == nil {
			continue
		} else if !isNotFound(err) {
			continue
		}
		if err := s.quotes.Delete(ctx, quote.ID); err != nil {
			s.log(ctx, "cleanup.quote.delete.failed", map[string]any{
				"quote_id": quote.ID,
				"error":    err.Error(),
			})
			continue
		}
		report.DeletedQuotes++
	}

	parents, err := s.quotes.ListActiveParentsCreatedBefore(ctx, now.Add(-defaultActiveParentCutoff), s.batchSize)
	if err != nil {
		return report, mapRepositoryError(err, nil)
	}
	for _, parent := range parents {
		if _, err := s.orders.FindByParentQuoteID(ctx, parent.ID); err != nil {
			continue
		}
		if err := s.quotes.SetActive(ctx, parent.ID, false, now); err != nil {
			s.log(ctx, "cleanup.parent.deactivate.failed", map[string]any{
				"quote_id": parent.ID,
				"error":    err.Error(),
			})
			continue
		}
		report.DeactivatedQuotes++
	}

	s.log(ctx, "cleanup.completed", map[string]any{
		"expired_orders":     report.ExpiredOrders,
		"activated_orders":   report.ActivatedOrders,
		"removed_orders":     report.RemovedOrders,
		"deleted_quotes":     report.DeletedQuotes,
		"deactivated_quotes": report.DeactivatedQuotes,
	})
	return report, nil
}

// resolveStaleOrder asks the platform what happened to a pre-auth order that
// outlived the expiry age, then converges the local state.
func (s *preAuthLifecycleService) resolveStaleOrder(ctx context.Context, order Order, report *CleanupReport) {
	if s.gateway == nil || strings.TrimSpace(order.BoltReference) == "" {
		s.discardStaleOrder(ctx, order, report)
		return
	}

	tx, err := s.gateway.FetchTransaction(ctx, order.BoltReference)
	if err != nil {
		s.log(ctx, "cleanup.transaction.fetch.failed", map[string]any{
			"increment_id": order.IncrementID,
			"reference":    order.BoltReference,
			"error":        err.Error(),
		})
		return
	}

	switch tx.Status {
	case domain.TransactionStatusAuthorized, domain.TransactionStatusCompleted:
		if _, err := s.ReceiveOrder(ctx, ReceiveOrderCommand{IncrementID: order.IncrementID, Reference: order.BoltReference}); err != nil {
			s.log(ctx, "cleanup.activate.failed", map[string]any{
				"increment_id": order.IncrementID,
				"error":        err.Error(),
			})
			return
		}
		report.ActivatedOrders++
	case domain.TransactionStatusCancelled, domain.TransactionStatusRejectedIrreversible:
		s.discardStaleOrder(ctx, order, report)
	default:
		// Still pending on the platform side; leave it for the next sweep.
		s.log(ctx, "cleanup.order.still_pending", map[string]any{
			"increment_id": order.IncrementID,
			"status":       tx.Status,
		})
	}
}

func (s *preAuthLifecycleService) discardStaleOrder(ctx context.Context, order Order, report *CleanupReport) {
	if _, err := s.RemovePreAuthOrder(ctx, RemovePreAuthOrderCommand{IncrementID: order.IncrementID, Reference: order.BoltReference}); err != nil {
		s.log(ctx, "cleanup.remove.failed", map[string]any{
			"increment_id": order.IncrementID,
			"error":        err.Error(),
		})
		return
	}
	report.RemovedOrders++
}

func (s *preAuthLifecycleService) findOrder(ctx context.Context, incrementID string) (Order, error) {
	id := strings.TrimSpace(incrementID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: increment id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByIncrementID(ctx, id)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *preAuthLifecycleService) rollbackRedemption(ctx context.Context, order Order) {
	code := strings.TrimSpace(order.CouponCode)
	if code == "" || s.coupons == nil {
		return
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		s.log(ctx, "preauth.redemption.rollback.failed", map[string]any{
			"increment_id": order.IncrementID,
			"code":         code,
			"error":        err.Error(),
		})
		return
	}
	if err := s.coupons.RollbackRedemption(ctx, code, coupon.RuleID, order.CustomerID); err != nil {
		s.log(ctx, "preauth.redemption.rollback.failed", map[string]any{
			"increment_id": order.IncrementID,
			"code":         code,
			"error":        err.Error(),
		})
	}
}

func (s *preAuthLifecycleService) reactivateParent(ctx context.Context, order Order, now time.Time) {
	parentID := strings.TrimSpace(order.ParentQuoteID)
	if parentID == "" {
		return
	}
	if err := s.quotes.SetActive(ctx, parentID, true, now); err != nil && !isNotFound(err) {
		s.log(ctx, "preauth.parent.reactivate.failed", map[string]any{
			"increment_id": order.IncrementID,
			"parent_id":    parentID,
			"error":        err.Error(),
		})
	}
}

func (s *preAuthLifecycleService) publish(ctx context.Context, event OrderEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.log(ctx, "preauth.event.publish.failed", map[string]any{
			"event":        event.Name,
			"increment_id": event.IncrementID,
			"error":        err.Error(),
		})
	}
}
