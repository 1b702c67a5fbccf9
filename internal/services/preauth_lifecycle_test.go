package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/platform/requestctx"
)

type lifecycleFixture struct {
	svc       PreAuthLifecycleService
	orders    *memOrders
	quotes    *memQuotes
	coupons   *memCoupons
	gateway   *stubGateway
	publisher *memPublisher
	logs      *eventRecorder
}

func newLifecycleFixture(t *testing.T, retain bool, seedOrders []domain.Order, seedQuotes []domain.Quote) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		orders:    newMemOrders(seedOrders...),
		quotes:    newMemQuotes(seedQuotes...),
		coupons:   newMemCoupons(),
		gateway:   &stubGateway{fetch: make(map[string]domain.Transaction)},
		publisher: &memPublisher{},
		logs:      &eventRecorder{},
	}
	svc, err := NewPreAuthLifecycleService(PreAuthLifecycleDeps{
		Orders:               f.orders,
		Quotes:               f.quotes,
		Coupons:              f.coupons,
		Gateway:              f.gateway,
		Publisher:            f.publisher,
		ExpiryAge:            15 * time.Minute,
		RetainCanceledOrders: retain,
		Clock:                testClock(),
		Logger:               f.logs.logger(),
	})
	if err != nil {
		t.Fatalf("NewPreAuthLifecycleService: %v", err)
	}
	f.svc = svc
	return f
}

func preAuthOrder() domain.Order {
	return domain.Order{
		ID:            "ord-1",
		IncrementID:   "100010289",
		QuoteID:       "q-imm",
		ParentQuoteID: "q-parent",
		Status:        domain.OrderStatusPreAuthPending,
		BoltReference: "ref-1",
		CustomerID:    "cust-1",
		CreatedAt:     testTime.Add(-time.Hour),
		UpdatedAt:     testTime.Add(-time.Hour),
	}
}

func TestReceiveOrderActivates(t *testing.T) {
	f := newLifecycleFixture(t, true, []domain.Order{preAuthOrder()}, nil)

	order, err := f.svc.ReceiveOrder(context.Background(), ReceiveOrderCommand{IncrementID: "100010289", Reference: "ref-1"})
	if err != nil {
		t.Fatalf("ReceiveOrder: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %q, want processing", order.Status)
	}
	if !f.publisher.published(EventOrderActivated) {
		t.Error("order.activated event must be published")
	}
}

func TestReceiveOrderIsIdempotent(t *testing.T) {
	activated := preAuthOrder()
	activated.Status = domain.OrderStatusProcessing
	f := newLifecycleFixture(t, true, []domain.Order{activated}, nil)

	order, err := f.svc.ReceiveOrder(context.Background(), ReceiveOrderCommand{IncrementID: "100010289"})
	if err != nil {
		t.Fatalf("ReceiveOrder: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %q, want unchanged processing", order.Status)
	}
	if f.publisher.published(EventOrderActivated) {
		t.Error("replayed activation must not publish again")
	}
	if !f.logs.has("preauth.receive.noop") {
		t.Error("expected the no-op to be logged")
	}
}

func TestReceiveOrderUnknownIncrementID(t *testing.T) {
	f := newLifecycleFixture(t, true, nil, nil)
	_, err := f.svc.ReceiveOrder(context.Background(), ReceiveOrderCommand{IncrementID: "100010289"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestRemovePreAuthOrderRetained(t *testing.T) {
	order := preAuthOrder()
	order.CouponCode = "SAVE10"
	parent := physicalQuote()
	parent.IsActive = false
	f := newLifecycleFixture(t, true, []domain.Order{order}, []domain.Quote{parent})
	f.coupons.addCoupon(
		domain.Coupon{Code: "SAVE10", RuleID: "rule-1", TimesUsed: 1},
		domain.Rule{ID: "rule-1", TimesUsed: 1},
	)

	removed, err := f.svc.RemovePreAuthOrder(context.Background(), RemovePreAuthOrderCommand{IncrementID: "100010289", Reference: "ref-1"})
	if err != nil {
		t.Fatalf("RemovePreAuthOrder: %v", err)
	}
	if removed.Status != domain.OrderStatusPreAuthCanceled {
		t.Errorf("status = %q, want pre_auth_canceled", removed.Status)
	}
	if f.orders.count() != 1 {
		t.Error("retained order must not be deleted")
	}
	if got := f.coupons.timesUsed("SAVE10"); got != 0 {
		t.Errorf("coupon times used = %d, want rolled back to 0", got)
	}
	reactivated, _ := f.quotes.get("q-parent")
	if !reactivated.IsActive {
		t.Error("parent quote must be handed back to the shopper")
	}
	if !f.publisher.published(EventOrderPreAuthRemoved) {
		t.Error("order.preauth.removed event must be published")
	}
}

func TestRemovePreAuthOrderDeletedWhenNotRetained(t *testing.T) {
	f := newLifecycleFixture(t, false, []domain.Order{preAuthOrder()}, nil)

	if _, err := f.svc.RemovePreAuthOrder(context.Background(), RemovePreAuthOrderCommand{IncrementID: "100010289"}); err != nil {
		t.Fatalf("RemovePreAuthOrder: %v", err)
	}
	if f.orders.count() != 0 {
		t.Errorf("orders remaining = %d, want 0", f.orders.count())
	}
}

func TestRemovePreAuthOrderIgnoresActivatedOrder(t *testing.T) {
	activated := preAuthOrder()
	activated.Status = domain.OrderStatusProcessing
	f := newLifecycleFixture(t, true, []domain.Order{activated}, nil)

	order, err := f.svc.RemovePreAuthOrder(context.Background(), RemovePreAuthOrderCommand{IncrementID: "100010289"})
	if err != nil {
		t.Fatalf("RemovePreAuthOrder: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %q, activated order must be untouched", order.Status)
	}
}

func TestSafeguardStatusChangeOutsideConfirmation(t *testing.T) {
	f := newLifecycleFixture(t, true, []domain.Order{preAuthOrder()}, nil)

	// Without a payment confirmation on the context, even the lifecycle
	// states may not be reached from pending: any caller could otherwise
	// activate an unpaid order.
	got, err := f.svc.SafeguardStatusChange(context.Background(), "100010289", domain.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("SafeguardStatusChange: %v", err)
	}
	if got != domain.OrderStatusPreAuthPending {
		t.Errorf("status = %q, transition outside confirmation must be reverted", got)
	}
	if !f.logs.has("preauth.status.blocked.warning") {
		t.Error("expected the blocked transition to be logged")
	}
}

func TestSafeguardStatusChangeInConfirmation(t *testing.T) {
	f := newLifecycleFixture(t, true, []domain.Order{preAuthOrder()}, nil)
	ctx := requestctx.WithConfirmation(context.Background(), requestctx.ConfirmationInfo{
		Source:    "webhook.pending",
		Reference: "ref-1",
	})

	got, err := f.svc.SafeguardStatusChange(ctx, "100010289", domain.OrderStatus("complete"))
	if err != nil {
		t.Fatalf("SafeguardStatusChange: %v", err)
	}
	if got != domain.OrderStatusPreAuthPending {
		t.Errorf("status = %q, illegal transition must be reverted", got)
	}

	got, err = f.svc.SafeguardStatusChange(ctx, "100010289", domain.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("SafeguardStatusChange: %v", err)
	}
	if got != domain.OrderStatusProcessing {
		t.Errorf("status = %q, lifecycle transition must pass through", got)
	}
}

func TestSafeguardStatusChangePassesThroughActivatedOrders(t *testing.T) {
	activated := preAuthOrder()
	activated.Status = domain.OrderStatusProcessing
	f := newLifecycleFixture(t, true, []domain.Order{activated}, nil)

	got, err := f.svc.SafeguardStatusChange(context.Background(), "100010289", domain.OrderStatus("complete"))
	if err != nil {
		t.Fatalf("SafeguardStatusChange: %v", err)
	}
	if got != domain.OrderStatus("complete") {
		t.Errorf("status = %q, non-preauth orders are not safeguarded", got)
	}
}

func TestRunCleanupActivatesApprovedOrders(t *testing.T) {
	f := newLifecycleFixture(t, true, []domain.Order{preAuthOrder()}, nil)
	f.gateway.fetch["ref-1"] = domain.Transaction{
		Reference: "ref-1",
		Status:    domain.TransactionStatusCompleted,
	}

	report, err := f.svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if report.ExpiredOrders != 1 || report.ActivatedOrders != 1 {
		t.Errorf("report = %+v, want 1 expired and 1 activated", report)
	}

	order, _ := f.orders.FindByIncrementID(context.Background(), "100010289")
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %q, want processing", order.Status)
	}
}

func TestRunCleanupRemovesRejectedOrders(t *testing.T) {
	f := newLifecycleFixture(t, true, []domain.Order{preAuthOrder()}, nil)
	f.gateway.fetch["ref-1"] = domain.Transaction{
		Reference: "ref-1",
		Status:    domain.TransactionStatusRejectedIrreversible,
	}

	report, err := f.svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if report.RemovedOrders != 1 {
		t.Errorf("report = %+v, want 1 removed", report)
	}

	order, _ := f.orders.FindByIncrementID(context.Background(), "100010289")
	if order.Status != domain.OrderStatusPreAuthCanceled {
		t.Errorf("status = %q, want pre_auth_canceled", order.Status)
	}
}

func TestRunCleanupLeavesPendingOrders(t *testing.T) {
	f := newLifecycleFixture(t, true, []domain.Order{preAuthOrder()}, nil)
	f.gateway.fetch["ref-1"] = domain.Transaction{
		Reference: "ref-1",
		Status:    domain.TransactionStatusPending,
	}

	report, err := f.svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if report.ActivatedOrders != 0 || report.RemovedOrders != 0 {
		t.Errorf("report = %+v, pending order must be left alone", report)
	}
	if !f.logs.has("cleanup.order.still_pending") {
		t.Error("expected the pending order to be logged")
	}
}

func TestRunCleanupDeletesOrphanedImmutableQuotes(t *testing.T) {
	orphan := physicalQuote()
	orphan.ID = "q-orphan"
	orphan.ParentQuoteID = "q-parent"
	orphan.IsActive = false
	orphan.CreatedAt = testTime.Add(-30 * 24 * time.Hour)

	kept := orphan
	kept.ID = "q-ordered"

	order := preAuthOrder()
	order.Status = domain.OrderStatusProcessing
	order.QuoteID = "q-ordered"

	f := newLifecycleFixture(t, true, []domain.Order{order}, []domain.Quote{orphan, kept})

	report, err := f.svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if report.DeletedQuotes != 1 {
		t.Errorf("deleted quotes = %d, want 1", report.DeletedQuotes)
	}
	if _, ok := f.quotes.get("q-orphan"); ok {
		t.Error("orphaned immutable quote must be deleted")
	}
	if _, ok := f.quotes.get("q-ordered"); !ok {
		t.Error("immutable quote with an order must be kept")
	}
}

func TestRunCleanupDeactivatesConvertedParents(t *testing.T) {
	parent := physicalQuote()
	parent.CreatedAt = testTime.Add(-30 * 24 * time.Hour)

	order := preAuthOrder()
	order.Status = domain.OrderStatusProcessing

	f := newLifecycleFixture(t, true, []domain.Order{order}, []domain.Quote{parent})

	report, err := f.svc.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if report.DeactivatedQuotes != 1 {
		t.Errorf("deactivated quotes = %d, want 1", report.DeactivatedQuotes)
	}
	reloaded, _ := f.quotes.get("q-parent")
	if reloaded.IsActive {
		t.Error("converted parent quote must be deactivated")
	}
}
