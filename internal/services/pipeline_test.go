package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/boltlink/api/internal/domain"
)

func TestPipelineRunsStagesInOrder(t *testing.T) {
	pipeline := NewCartFilterPipeline(nil)
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		err := pipeline.Register(CartFilterStage{
			Name: name,
			Apply: func(_ context.Context, cart domain.CartPayload) (domain.CartPayload, error) {
				order = append(order, name)
				cart.TotalAmount++
				return cart, nil
			},
		})
		if err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	out := pipeline.Run(context.Background(), domain.CartPayload{})
	if out.TotalAmount != 3 {
		t.Errorf("total = %d, want every stage applied", out.TotalAmount)
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("stage order = %v, want registration order", order)
	}
}

func TestPipelineRejectsDuplicateAndUnnamedStages(t *testing.T) {
	pipeline := NewCartFilterPipeline(nil)
	passthrough := func(_ context.Context, cart domain.CartPayload) (domain.CartPayload, error) {
		return cart, nil
	}

	if err := pipeline.Register(CartFilterStage{Name: "dup", Apply: passthrough}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := pipeline.Register(CartFilterStage{Name: "dup", Apply: passthrough}); err == nil {
		t.Error("duplicate stage name must be rejected")
	}
	if err := pipeline.Register(CartFilterStage{Name: "  ", Apply: passthrough}); err == nil {
		t.Error("blank stage name must be rejected")
	}
	if err := pipeline.Register(CartFilterStage{Name: "noop"}); err == nil {
		t.Error("stage without apply function must be rejected")
	}
}

func TestPipelineIsolatesFailingStage(t *testing.T) {
	logs := &eventRecorder{}
	pipeline := NewCartFilterPipeline(logs.logger())

	mustRegister := func(stage CartFilterStage) {
		t.Helper()
		if err := pipeline.Register(stage); err != nil {
			t.Fatalf("Register(%s): %v", stage.Name, err)
		}
	}

	mustRegister(CartFilterStage{
		Name: "failing",
		Apply: func(_ context.Context, cart domain.CartPayload) (domain.CartPayload, error) {
			return domain.CartPayload{}, errors.New("boom")
		},
	})
	mustRegister(CartFilterStage{
		Name: "panicking",
		Apply: func(_ context.Context, _ domain.CartPayload) (domain.CartPayload, error) {
			panic("unexpected")
		},
	})
	mustRegister(CartFilterStage{
		Name: "surviving",
		Apply: func(_ context.Context, cart domain.CartPayload) (domain.CartPayload, error) {
			cart.TotalAmount = 42
			return cart, nil
		},
	})

	out := pipeline.Run(context.Background(), domain.CartPayload{OrderReference: "q-1"})
	if out.TotalAmount != 42 {
		t.Errorf("total = %d, surviving stage must still run", out.TotalAmount)
	}
	if out.OrderReference != "q-1" {
		t.Errorf("reference = %q, failing stage output must be discarded", out.OrderReference)
	}
	if !logs.has("cart_filter.stage.failed") {
		t.Error("expected stage failures to be logged")
	}
}
