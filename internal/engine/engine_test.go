package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/marginbot/internal/config"
	"github.com/quantfold/marginbot/internal/domain"
)

// fakeExchange is an in-memory venue. Submitted orders settle instantly:
// market orders fill, trigger orders rest as triggers, limit orders rest on
// the book. Failure modes are switched on per order type.
type fakeExchange struct {
	mu     sync.Mutex
	nextID int
	orders map[string]*fakeOrder

	positions []domain.ExchangePosition
	balances  map[string]float64
	tickers   map[string]float64

	rejectTypes map[domain.OrderType]bool // Submit returns ErrOrderRejected
	failTypes   map[domain.OrderType]bool // order lands in status failed
	stallTypes  map[domain.OrderType]bool // order never progresses past placed

	cancelErr map[string]error // Cancel returns this error for the id

	submitHook func(req domain.OrderRequest) // runs inside Submit, before settling

	cancelled []string
	submitted []domain.OrderRequest

	active    map[string]int // concurrent Submit calls per symbol
	maxActive map[string]int
}

type fakeOrder struct {
	req    domain.OrderRequest
	status domain.OrderStatus
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		orders:      make(map[string]*fakeOrder),
		balances:    map[string]float64{"ZUSD": 10000},
		tickers:     map[string]float64{"XETHZUSD": 2000},
		rejectTypes: make(map[domain.OrderType]bool),
		failTypes:   make(map[domain.OrderType]bool),
		stallTypes:  make(map[domain.OrderType]bool),
		cancelErr:   make(map[string]error),
		active:      make(map[string]int),
		maxActive:   make(map[string]int),
	}
}

func (f *fakeExchange) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.tickers[symbol]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("%s: %w", symbol, domain.ErrExchangeUnavailable)
	}
	return domain.Ticker{Symbol: symbol, Last: price, Time: time.Now()}, nil
}

func (f *fakeExchange) Balance(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeExchange) OpenPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ExchangePosition(nil), f.positions...), nil
}

func (f *fakeExchange) Submit(ctx context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	f.active[req.Symbol]++
	if f.active[req.Symbol] > f.maxActive[req.Symbol] {
		f.maxActive[req.Symbol] = f.active[req.Symbol]
	}
	hook := f.submitHook
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[req.Symbol]--

	if f.rejectTypes[req.Type] {
		return "", fmt.Errorf("fake venue: %s: %w", req.Type, domain.ErrOrderRejected)
	}

	f.nextID++
	id := fmt.Sprintf("ORD-%d", f.nextID)
	status := settledStatus(req.Type)
	switch {
	case f.failTypes[req.Type]:
		status = domain.OrderStatusFailed
	case f.stallTypes[req.Type]:
		status = domain.OrderStatusPlaced
	}
	f.orders[id] = &fakeOrder{req: req, status: status}
	f.submitted = append(f.submitted, req)
	return id, nil
}

func settledStatus(t domain.OrderType) domain.OrderStatus {
	switch {
	case t == domain.OrderTypeMarket:
		return domain.OrderStatusFullyExecuted
	case t.IsTrigger():
		return domain.OrderStatusTriggerPlaced
	default:
		return domain.OrderStatusPlaced
	}
}

func (f *fakeExchange) OrderStatus(ctx context.Context, id string) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ord, ok := f.orders[id]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("%s: %w", id, domain.ErrNotFound)
	}
	return domain.OrderState{
		ID:     id,
		Status: ord.status,
		Volume: ord.req.Volume,
	}, nil
}

func (f *fakeExchange) Cancel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.cancelErr[id]; ok {
		return err
	}
	// Cancelling a filled order is a no-op here; the rollback sweep
	// tolerates it either way.
	if ord, ok := f.orders[id]; ok && ord.status.Resting() {
		ord.status = domain.OrderStatusCancelled
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

// setOrderStatus force-sets a venue order's status, for reconciliation tests.
func (f *fakeExchange) setOrderStatus(id string, status domain.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ord, ok := f.orders[id]; ok {
		ord.status = status
	} else {
		f.orders[id] = &fakeOrder{status: status}
	}
}

func (f *fakeExchange) wasCancelled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cancelled {
		if c == id {
			return true
		}
	}
	return false
}

func (f *fakeExchange) lastSubmitted() domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[len(f.submitted)-1]
}

// memStore is an in-memory PositionStore. The write counter backs the
// reconciliation idempotence tests.
type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	writes    int
	failAll   bool
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

var errStoreDown = fmt.Errorf("memstore: unavailable")

func (s *memStore) Create(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	if pos.Orders == nil {
		pos.Orders = make(map[domain.OrderRole]domain.ChildOrder)
	}
	s.positions[pos.ID] = pos
	s.writes++
	return nil
}

func (s *memStore) SetOrder(ctx context.Context, positionID string, role domain.OrderRole, ord domain.ChildOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	pos, ok := s.positions[positionID]
	if !ok {
		return domain.ErrNotFound
	}
	orders := make(map[domain.OrderRole]domain.ChildOrder, len(pos.Orders)+1)
	for k, v := range pos.Orders {
		orders[k] = v
	}
	orders[role] = ord
	pos.Orders = orders
	s.positions[positionID] = pos
	s.writes++
	return nil
}

func (s *memStore) Close(ctx context.Context, positionID string, exitPrice float64, reason domain.CloseReason, closingOrderID string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	pos, ok := s.positions[positionID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return domain.ErrNotFound
	}
	pnl := domain.RealizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Size)
	pos.Status = domain.PositionStatusClosed
	pos.ExitPrice = &exitPrice
	pos.RealizedPnL = &pnl
	pos.CloseReason = reason
	pos.ClosingOrderID = closingOrderID
	pos.ClosedAt = &closedAt
	s.positions[positionID] = pos
	s.writes++
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memStore) FindOpen(ctx context.Context, strategy, symbol string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.positions {
		if pos.Strategy == strategy && pos.Symbol == symbol && pos.Status == domain.PositionStatusOpen {
			return pos, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *memStore) ListOpen(ctx context.Context, strategy string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Strategy == strategy && pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt != nil && !pos.ClosedAt.Before(since) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// staticTable serves one InstrumentConfig for every symbol.
type staticTable struct {
	ic config.InstrumentConfig
}

func (t staticTable) Instrument(string) config.InstrumentConfig { return t.ic }

var testInstrument = config.InstrumentConfig{
	SizePrecision: 4,
	MinSize:       0.01,
	MaxSize:       100,
}

// testPolicy keeps verification polling fast without changing its shape.
var testPolicy = RetryPolicy{
	SettleDelay: 0,
	Delay:       time.Millisecond,
	MaxAttempts: 3,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(ex domain.Exchange, store domain.PositionStore) *Engine {
	return New(ex, store, nil, staticTable{ic: testInstrument}, "ZUSD", testPolicy, discardLogger())
}
