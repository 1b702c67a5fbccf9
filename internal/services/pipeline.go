package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/boltlink/api/internal/domain"
)

// CartFilterStage transforms the cart payload before it is sent to the
// platform. Stages run in registration order; each receives the output of
// the previous one.
type CartFilterStage struct {
	// Name identifies the stage in logs.
	Name string
	// Apply returns the transformed payload. Returning an error skips the
	// stage's output; the pipeline continues with the prior payload.
	Apply func(ctx context.Context, cart domain.CartPayload) (domain.CartPayload, error)
}

// CartFilterPipeline runs an ordered list of named payload transformations
// with per-stage fault isolation: a failing or panicking stage is logged and
// skipped, never aborting checkout.
type CartFilterPipeline struct {
	mu     sync.RWMutex
	stages []CartFilterStage
	log    Logger
}

// NewCartFilterPipeline constructs an empty pipeline.
func NewCartFilterPipeline(log Logger) *CartFilterPipeline {
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	return &CartFilterPipeline{log: log}
}

// Register appends a stage. Stage names must be unique and non-empty.
func (p *CartFilterPipeline) Register(stage CartFilterStage) error {
	if p == nil {
		return errors.New("cart filter pipeline not initialised")
	}
	name := strings.TrimSpace(stage.Name)
	if name == "" {
		return errors.New("cart filter stage requires a name")
	}
	if stage.Apply == nil {
		return fmt.Errorf("cart filter stage %q requires an apply function", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.stages {
		if existing.Name == name {
			return fmt.Errorf("cart filter stage %q already registered", name)
		}
	}
	stage.Name = name
	p.stages = append(p.stages, stage)
	return nil
}

// Run applies all stages to the payload in order.
func (p *CartFilterPipeline) Run(ctx context.Context, cart domain.CartPayload) domain.CartPayload {
	if p == nil {
		return cart
	}

	p.mu.RLock()
	stages := append([]CartFilterStage(nil), p.stages...)
	p.mu.RUnlock()

	for _, stage := range stages {
		next, err := p.applyStage(ctx, stage, cart)
		if err != nil {
			p.log(ctx, "cart_filter.stage.failed", map[string]any{
				"stage": stage.Name,
				"error": err.Error(),
			})
			continue
		}
		cart = next
	}
	return cart
}

func (p *CartFilterPipeline) applyStage(ctx context.Context, stage CartFilterStage, cart domain.CartPayload) (result domain.CartPayload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage panicked: %v", rec)
		}
	}()
	return stage.Apply(ctx, cart)
}
