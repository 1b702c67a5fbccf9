package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/boltlink/api/internal/domain"
)

// testTime is the frozen clock used across service tests.
var testTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func testClock() Clock {
	return func() time.Time { return testTime }
}

// eventRecorder captures structured log events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) logger() Logger {
	return func(_ context.Context, event string, _ map[string]any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
	}
}

func (r *eventRecorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// repoError is the categorised persistence failure used by the in-memory
// repositories below.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return e.msg }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return repoError{msg: what + " not found", notFound: true}
}

func conflictErr(what string) error {
	return repoError{msg: what + " already exists", conflict: true}
}

// memQuotes is an in-memory QuoteRepository.
type memQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
}

func newMemQuotes(seed ...domain.Quote) *memQuotes {
	m := &memQuotes{quotes: make(map[string]domain.Quote)}
	for _, q := range seed {
		m.quotes[q.ID] = q
	}
	return m
}

func (m *memQuotes) Insert(_ context.Context, quote domain.Quote) (domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quotes[quote.ID]; ok {
		return domain.Quote{}, conflictErr("quote " + quote.ID)
	}
	m.quotes[quote.ID] = quote
	return quote, nil
}

func (m *memQuotes) Update(_ context.Context, quote domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quotes[quote.ID]; !ok {
		return notFoundErr("quote " + quote.ID)
	}
	m.quotes[quote.ID] = quote
	return nil
}

func (m *memQuotes) FindByID(_ context.Context, quoteID string) (domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[quoteID]
	if !ok {
		return domain.Quote{}, notFoundErr("quote " + quoteID)
	}
	return quote, nil
}

func (m *memQuotes) SetActive(_ context.Context, quoteID string, active bool, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[quoteID]
	if !ok {
		return notFoundErr("quote " + quoteID)
	}
	quote.IsActive = active
	quote.UpdatedAt = updatedAt
	m.quotes[quoteID] = quote
	return nil
}

func (m *memQuotes) SetReservedOrderID(_ context.Context, quoteID string, incrementID string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[quoteID]
	if !ok {
		return notFoundErr("quote " + quoteID)
	}
	quote.ReservedOrderID = incrementID
	quote.UpdatedAt = updatedAt
	m.quotes[quoteID] = quote
	return nil
}

func (m *memQuotes) ListImmutableCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Quote
	for _, quote := range m.quotes {
		if quote.ParentQuoteID != "" && quote.CreatedAt.Before(cutoff) {
			out = append(out, quote)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memQuotes) ListActiveParentsCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Quote
	for _, quote := range m.quotes {
		if quote.ParentQuoteID == "" && quote.IsActive && quote.CreatedAt.Before(cutoff) {
			out = append(out, quote)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memQuotes) Delete(_ context.Context, quoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quotes[quoteID]; !ok {
		return notFoundErr("quote " + quoteID)
	}
	delete(m.quotes, quoteID)
	return nil
}

func (m *memQuotes) get(quoteID string) (domain.Quote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[quoteID]
	return quote, ok
}

// memOrders is an in-memory OrderRepository keyed by order id with an
// increment id uniqueness constraint.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrders(seed ...domain.Order) *memOrders {
	m := &memOrders{orders: make(map[string]domain.Order)}
	for _, o := range seed {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.IncrementID == order.IncrementID {
			return domain.Order{}, conflictErr("order " + order.IncrementID)
		}
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *memOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return notFoundErr("order " + order.ID)
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memOrders) FindByIncrementID(_ context.Context, incrementID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.IncrementID == incrementID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundErr("order " + incrementID)
}

func (m *memOrders) FindByQuoteID(_ context.Context, quoteID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.QuoteID == quoteID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundErr("order for quote " + quoteID)
}

func (m *memOrders) FindByParentQuoteID(_ context.Context, parentQuoteID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.ParentQuoteID == parentQuoteID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundErr("order for parent " + parentQuoteID)
}

func (m *memOrders) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return notFoundErr("order " + orderID)
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	m.orders[orderID] = order
	return nil
}

func (m *memOrders) ListPreAuthCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if order.Status.PreAuth() && order.CreatedAt.Before(cutoff) {
			out = append(out, order)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memOrders) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return notFoundErr("order " + orderID)
	}
	delete(m.orders, orderID)
	return nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// memCoupons is an in-memory CouponRepository.
type memCoupons struct {
	mu      sync.Mutex
	coupons map[string]domain.Coupon
	rules   map[string]domain.Rule
	usage   map[string]domain.CouponUsage
}

func newMemCoupons() *memCoupons {
	return &memCoupons{
		coupons: make(map[string]domain.Coupon),
		rules:   make(map[string]domain.Rule),
		usage:   make(map[string]domain.CouponUsage),
	}
}

func (m *memCoupons) addCoupon(coupon domain.Coupon, rule domain.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[strings.ToLower(coupon.Code)] = coupon
	m.rules[rule.ID] = rule
}

func (m *memCoupons) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coupon, ok := m.coupons[strings.ToLower(code)]
	if !ok {
		return domain.Coupon{}, notFoundErr("coupon " + code)
	}
	return coupon, nil
}

func (m *memCoupons) FindRule(_ context.Context, ruleID string) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[ruleID]
	if !ok {
		return domain.Rule{}, notFoundErr("rule " + ruleID)
	}
	return rule, nil
}

func (m *memCoupons) Usage(_ context.Context, customerID string, code string) (domain.CouponUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage, ok := m.usage[customerID+"_"+strings.ToLower(code)]
	if !ok {
		return domain.CouponUsage{CustomerID: customerID, CouponCode: code}, nil
	}
	return usage, nil
}

func (m *memCoupons) RecordRedemption(_ context.Context, code string, ruleID string, customerID string) error {
	return m.adjust(code, ruleID, customerID, 1)
}

func (m *memCoupons) RollbackRedemption(_ context.Context, code string, ruleID string, customerID string) error {
	return m.adjust(code, ruleID, customerID, -1)
}

func (m *memCoupons) adjust(code string, ruleID string, customerID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(code)
	coupon, ok := m.coupons[key]
	if !ok {
		return notFoundErr("coupon " + code)
	}
	coupon.TimesUsed += delta
	if coupon.TimesUsed < 0 {
		coupon.TimesUsed = 0
	}
	m.coupons[key] = coupon

	if rule, ok := m.rules[ruleID]; ok {
		rule.TimesUsed += delta
		if rule.TimesUsed < 0 {
			rule.TimesUsed = 0
		}
		m.rules[ruleID] = rule
	}

	if customerID != "" {
		usageKey := customerID + "_" + key
		usage := m.usage[usageKey]
		usage.CustomerID = customerID
		usage.CouponCode = code
		usage.TimesUsed += delta
		if usage.TimesUsed < 0 {
			usage.TimesUsed = 0
		}
		m.usage[usageKey] = usage
	}
	return nil
}

func (m *memCoupons) timesUsed(code string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[strings.ToLower(code)].TimesUsed
}

// memProducts is an in-memory ProductRepository.
type memProducts struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func newMemProducts(seed ...domain.Product) *memProducts {
	m := &memProducts{products: make(map[string]domain.Product)}
	for _, p := range seed {
		m.products[p.ID] = p
	}
	return m
}

func (m *memProducts) FindByID(_ context.Context, productID string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product " + productID)
	}
	return product, nil
}

func (m *memProducts) FindBySKU(_ context.Context, sku string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, product := range m.products {
		if product.SKU == sku {
			return product, nil
		}
	}
	return domain.Product{}, notFoundErr("product sku " + sku)
}

// memCounters hands out sequential increment ids.
type memCounters struct {
	mu   sync.Mutex
	next int64
}

func newMemCounters() *memCounters {
	return &memCounters{next: 100010290}
}

func (m *memCounters) NextIncrementID(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	return strconv.FormatInt(id, 10), nil
}

// stubGateway is a scripted TransactionGateway.
type stubGateway struct {
	mu         sync.Mutex
	token      string
	tokenErr   error
	tokenCalls int
	lastCart   domain.CartPayload
	fetch      map[string]domain.Transaction
	fetchErr   error
}

func (g *stubGateway) CreateOrderToken(_ context.Context, cart domain.CartPayload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenCalls++
	g.lastCart = cart
	if g.tokenErr != nil {
		return "", g.tokenErr
	}
	return g.token, nil
}

func (g *stubGateway) FetchTransaction(_ context.Context, reference string) (domain.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return domain.Transaction{}, g.fetchErr
	}
	tx, ok := g.fetch[reference]
	if !ok {
		return domain.Transaction{}, notFoundErr("transaction " + reference)
	}
	return tx, nil
}

func (g *stubGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokenCalls
}

// memPublisher records published order events.
type memPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *memPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-" + strconv.Itoa(len(p.events)), nil
}

func (p *memPublisher) published(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, event := range p.events {
		if event.Name == name {
			return true
		}
	}
	return false
}
