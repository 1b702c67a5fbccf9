package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/boltlink/api/internal/platform/httpx"
	"github.com/boltlink/api/internal/services"
)

type checkoutHandler struct {
	carts services.CartBuilderService
}

type tokenRequest struct {
	CartID     string `json:"cart_id"`
	MultiPage  bool   `json:"multipage,omitempty"`
	AdminOrder bool   `json:"admin_order,omitempty"`
}

// createToken exchanges a cart for a hosted-checkout token. Shopper-facing
// validation problems come back as HTTP 200 with the error in the envelope;
// the storefront renders them inline instead of breaking the page.
func (h *checkoutHandler) createToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.CartID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart_id is required", http.StatusBadRequest))
		return
	}

	result, err := h.carts.GetOrderToken(ctx, services.OrderTokenCommand{
		QuoteID:    req.CartID,
		MultiPage:  req.MultiPage,
		AdminOrder: req.AdminOrder,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrQuoteNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "the cart does not exist", http.StatusNotFound))
		case errors.Is(err, services.ErrInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrStorageUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to create checkout token", http.StatusInternalServerError))
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}
