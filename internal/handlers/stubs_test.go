package handlers

import (
	"context"
	"time"

	domain "github.com/boltlink/api/internal/domain"
	"github.com/boltlink/api/internal/platform/requestctx"
	"github.com/boltlink/api/internal/services"
)

var handlerTestTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type stubCartBuilder struct {
	result  services.OrderTokenResult
	err     error
	lastCmd services.OrderTokenCommand
}

func (s *stubCartBuilder) BuildCart(context.Context, services.BuildCartCommand) (services.CartPayload, error) {
	return services.CartPayload{}, nil
}

func (s *stubCartBuilder) GetOrderToken(_ context.Context, cmd services.OrderTokenCommand) (services.OrderTokenResult, error) {
	s.lastCmd = cmd
	return s.result, s.err
}

func (s *stubCartBuilder) CloneQuote(context.Context, string) (services.Quote, error) {
	return services.Quote{}, nil
}

type stubOrderCreator struct {
	order     services.Order
	err       error
	calls     int
	confirmed bool
	lastCmd   services.CreateOrderCommand
}

func (s *stubOrderCreator) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.calls++
	s.lastCmd = cmd
	s.confirmed = requestctx.InConfirmation(ctx)
	return s.order, s.err
}

type stubLifecycle struct {
	order    services.Order
	err      error
	received []services.ReceiveOrderCommand
	removed  []services.RemovePreAuthOrderCommand
}

func (s *stubLifecycle) ReceiveOrder(_ context.Context, cmd services.ReceiveOrderCommand) (services.Order, error) {
	s.received = append(s.received, cmd)
	return s.order, s.err
}

func (s *stubLifecycle) RemovePreAuthOrder(_ context.Context, cmd services.RemovePreAuthOrderCommand) (services.Order, error) {
	s.removed = append(s.removed, cmd)
	return s.order, s.err
}

func (s *stubLifecycle) SafeguardStatusChange(_ context.Context, _ string, attempted domain.OrderStatus) (domain.OrderStatus, error) {
	return attempted, nil
}

func (s *stubLifecycle) RunCleanup(context.Context) (services.CleanupReport, error) {
	return services.CleanupReport{}, nil
}

type stubCouponService struct {
	result  services.DiscountResult
	err     error
	lastCmd services.ApplyDiscountCommand
}

func (s *stubCouponService) ApplyDiscount(_ context.Context, cmd services.ApplyDiscountCommand) (services.DiscountResult, error) {
	s.lastCmd = cmd
	return s.result, s.err
}
