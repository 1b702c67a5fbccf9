package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/platform/httpx"
	"github.com/boltlink/api/internal/platform/idempotency"
	"github.com/boltlink/api/internal/platform/requestctx"
	"github.com/boltlink/api/internal/services"
)

// Hook types delivered by the platform.
const (
	hookPending              = "pending"
	hookPayment              = "payment"
	hookAuth                 = "auth"
	hookRejectedReversible   = "rejected_reversible"
	hookRejectedIrreversible = "rejected_irreversible"
	hookCancelled            = "cancelled"
	hookDiscountApply        = "discounts.code.apply"
)

type webhookHandler struct {
	orders      services.OrderCreatorService
	lifecycle   services.PreAuthLifecycleService
	coupons     services.CouponService
	idempotency idempotency.Store
	clock       services.Clock
}

func newWebhookHandler(deps RouterDeps) *webhookHandler {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &webhookHandler{
		orders:      deps.Orders,
		lifecycle:   deps.Lifecycle,
		coupons:     deps.Coupons,
		idempotency: deps.Idempotency,
		clock:       clock,
	}
}

type webhookRequest struct {
	Type        string             `json:"type"`
	Reference   string             `json:"reference"`
	DisplayID   string             `json:"display_id,omitempty"`
	Transaction domain.Transaction `json:"transaction"`

	// Discount hook fields.
	DiscountCode   string `json:"discount_code,omitempty"`
	OrderReference string `json:"order_reference,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
}

type webhookResponse struct {
	Status      string `json:"status"`
	DisplayID   string `json:"display_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
	Message     string `json:"message,omitempty"`
}

// handle dispatches one platform hook. Deliveries are deduplicated through
// the idempotency store: a replayed hook gets the stored first response, and
// a concurrent duplicate gets 409 so the platform retries later.
func (h *webhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "hook body is not valid JSON", http.StatusBadRequest))
		return
	}
	hookType := strings.TrimSpace(req.Type)
	if hookType == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "hook type is required", http.StatusBadRequest))
		return
	}

	key := h.idempotencyKey(req)
	if h.idempotency != nil && key != "" {
		reservation, err := h.idempotency.Reserve(ctx, key, h.clock())
		if err != nil {
			if errors.Is(err, idempotency.ErrKeyInFlight) {
				httpx.WriteError(ctx, w, httpx.NewError("hook_in_flight", "a duplicate delivery is being processed", http.StatusConflict))
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "idempotency store unavailable", http.StatusServiceUnavailable))
			return
		}
		if !reservation.Fresh {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(reservation.ReplayStatus)
			_, _ = w.Write(reservation.ReplayBody)
			return
		}
	}

	status, payload := h.dispatch(ctx, hookType, req)
	body, _ := json.Marshal(payload)

	if h.idempotency != nil && key != "" {
		if status >= http.StatusInternalServerError {
			// Leave the key free so the platform's retry can re-execute.
			_ = h.idempotency.Release(ctx, key)
		} else {
			_ = h.idempotency.SaveResponse(ctx, key, status, body, h.clock())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bytes.TrimSpace(body))
}

func (h *webhookHandler) dispatch(ctx context.Context, hookType string, req webhookRequest) (int, any) {
	switch hookType {
	case hookPending:
		return h.createOrder(ctx, req, true)

	case hookPayment, hookAuth:
		return h.activateOrder(ctx, req)

	case hookRejectedIrreversible, hookCancelled:
		return h.removeOrder(ctx, req)

	case hookRejectedReversible:
		// Reversible rejections may still be approved; acknowledge and wait.
		return http.StatusOK, webhookResponse{Status: "success", Message: "acknowledged"}

	case hookDiscountApply:
		return h.applyDiscount(ctx, req)

	default:
		return http.StatusUnprocessableEntity, map[string]any{
			"status": "failure",
			"error":  map[string]any{"code": "unknown_hook_type", "message": "unsupported hook type " + hookType},
		}
	}
}

func (h *webhookHandler) createOrder(ctx context.Context, req webhookRequest, preAuth bool) (int, any) {
	tx := req.Transaction
	if tx.Reference == "" {
		tx.Reference = req.Reference
	}
	if tx.Order.Cart.DisplayID == "" {
		tx.Order.Cart.DisplayID = req.DisplayID
	}

	ctx = requestctx.WithConfirmation(ctx, requestctx.ConfirmationInfo{
		Source:    hookPending,
		Reference: tx.Reference,
	})

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Transaction: tx,
		PreAuth:     preAuth,
		Source:      "webhook." + hookPending,
	})
	if err != nil {
		return orderCreationFailure(err)
	}
	return http.StatusOK, webhookResponse{
		Status:      "success",
		DisplayID:   domain.NewDisplayID(order.IncrementID, order.QuoteID),
		OrderStatus: string(order.Status),
	}
}

func (h *webhookHandler) activateOrder(ctx context.Context, req webhookRequest) (int, any) {
	incrementID, ok := h.incrementID(req)
	if !ok {
		return http.StatusBadRequest, failureEnvelope("invalid_request", "hook does not identify an order", nil)
	}
	order, err := h.lifecycle.ReceiveOrder(ctx, services.ReceiveOrderCommand{
		IncrementID: incrementID,
		Reference:   req.Reference,
	})
	if err != nil {
		return lifecycleFailure(err)
	}
	return http.StatusOK, webhookResponse{
		Status:      "success",
		DisplayID:   domain.NewDisplayID(order.IncrementID, order.QuoteID),
		OrderStatus: string(order.Status),
	}
}

func (h *webhookHandler) removeOrder(ctx context.Context, req webhookRequest) (int, any) {
	incrementID, ok := h.incrementID(req)
	if !ok {
		return http.StatusBadRequest, failureEnvelope("invalid_request", "hook does not identify an order", nil)
	}
	order, err := h.lifecycle.RemovePreAuthOrder(ctx, services.RemovePreAuthOrderCommand{
		IncrementID: incrementID,
		Reference:   req.Reference,
	})
	if err != nil {
		return lifecycleFailure(err)
	}
	return http.StatusOK, webhookResponse{
		Status:      "success",
		DisplayID:   domain.NewDisplayID(order.IncrementID, order.QuoteID),
		OrderStatus: string(order.Status),
	}
}

func (h *webhookHandler) applyDiscount(ctx context.Context, req webhookRequest) (int, any) {
	result, err := h.coupons.ApplyDiscount(ctx, services.ApplyDiscountCommand{
		Code:           req.DiscountCode,
		DisplayID:      req.DisplayID,
		OrderReference: req.OrderReference,
		CustomerID:     req.CustomerID,
	})
	if err != nil {
		var cErr *services.CouponError
		if errors.As(err, &cErr) {
			payload := map[string]any{
				"status": "failure",
				"error": map[string]any{
					"code":    cErr.Code,
					"message": cErr.Message,
				},
			}
			if cErr.Totals != nil {
				payload["cart"] = cErr.Totals
			}
			return http.StatusUnprocessableEntity, payload
		}
		return http.StatusInternalServerError, failureEnvelope("internal_error", "discount application failed", nil)
	}
	return http.StatusOK, result
}

// incrementID resolves the order number from the hook's display id or, for
// older deliveries, from the embedded transaction cart.
func (h *webhookHandler) incrementID(req webhookRequest) (string, bool) {
	if incrementID, _, err := domain.ParseDisplayID(req.DisplayID); err == nil {
		return incrementID, true
	}
	if incrementID, _, err := domain.ParseDisplayID(req.Transaction.Order.Cart.DisplayID); err == nil {
		return incrementID, true
	}
	return "", false
}

func (h *webhookHandler) idempotencyKey(req webhookRequest) string {
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		ref = strings.TrimSpace(req.Transaction.Reference)
	}
	if ref == "" {
		ref = strings.TrimSpace(req.DisplayID)
	}
	if ref == "" {
		return ""
	}
	return strings.TrimSpace(req.Type) + ":" + ref
}

func orderCreationFailure(err error) (int, any) {
	var ocErr *services.OrderCreationError
	if errors.As(err, &ocErr) {
		errBody := map[string]any{
			"code":    ocErr.Code,
			"message": ocErr.Reason,
		}
		for k, v := range ocErr.Details {
			errBody[k] = v
		}
		return http.StatusUnprocessableEntity, map[string]any{"status": "failure", "error": errBody}
	}
	if errors.Is(err, services.ErrStorageUnavailable) {
		return http.StatusServiceUnavailable, failureEnvelope("storage_unavailable", "storage temporarily unavailable", nil)
	}
	return http.StatusInternalServerError, failureEnvelope("internal_error", "order creation failed", nil)
}

func lifecycleFailure(err error) (int, any) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		return http.StatusNotFound, failureEnvelope("order_not_found", "no order matches the hook", nil)
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, failureEnvelope("invalid_request", err.Error(), nil)
	case errors.Is(err, services.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, failureEnvelope("storage_unavailable", "storage temporarily unavailable", nil)
	default:
		return http.StatusInternalServerError, failureEnvelope("internal_error", "hook processing failed", nil)
	}
}

func failureEnvelope(code string, message string, extra map[string]any) map[string]any {
	errBody := map[string]any{"code": code, "message": message}
	for k, v := range extra {
		errBody[k] = v
	}
	return map[string]any{"status": "failure", "error": errBody}
}
