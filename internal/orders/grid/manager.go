// Package grid implements the grid trading controller: a ladder of limit
// orders between a lower and upper price, with each fill answered by a
// counter-order one level beyond it so the grid keeps cycling.
package grid

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

const (
	controllerName = "grid"

	defaultPollInterval = 10 * time.Second
	defaultRetries      = 3

	minLevels = 2
	maxLevels = 50
)

// Instruction statuses.
const (
	StatusActive    orders.Status = "ACTIVE"
	StatusCancelled orders.Status = "CANCELLED"
	StatusFailed    orders.Status = "FAILED"
)

// Error normalizes internal failures at the grid controller boundary.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return "grid: " + e.Err.Error()
	}
	return fmt.Sprintf("grid %s: %v", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Params is the user-supplied intent for one grid instruction.
type Params struct {
	Symbol           string
	Side             common.Side // primary direction, used for bookkeeping
	LowerPrice       float64
	UpperPrice       float64
	GridStep         float64
	QuantityPerLevel float64
	// Rebalance answers each fill with a counter-order one level beyond it.
	Rebalance    bool
	PollInterval time.Duration
}

// Snapshot is a point-in-time copy of an instruction record.
type Snapshot struct {
	ID             string               `json:"id"`
	Symbol         string               `json:"symbol"`
	Side           common.Side          `json:"side"`
	LowerPrice     float64              `json:"lower_price"`
	UpperPrice     float64              `json:"upper_price"`
	GridStep       float64              `json:"grid_step"`
	Quantity       float64              `json:"quantity_per_level"`
	PriceAtSubmit  float64              `json:"price_at_submit"`
	Orders         []*orders.ChildOrder `json:"orders"`
	TotalTrades    int                  `json:"total_trades"`
	RealizedProfit float64              `json:"realized_profit"`
	Rebalance      bool                 `json:"rebalance"`
	Status         orders.Status        `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	LastCheck      time.Time            `json:"last_check,omitempty"`
	FinishedAt     time.Time            `json:"finished_at,omitempty"`
}

type record struct {
	Snapshot
	pollInterval time.Duration
	stop         context.CancelFunc
}

// view copies the record's public state, detaching every child order so
// readers never alias one the monitor still mutates. Callers must hold
// m.mu in either mode.
func (rec *record) view() Snapshot {
	snap := rec.Snapshot
	snap.Orders = make([]*orders.ChildOrder, len(rec.Orders))
	for i, o := range rec.Orders {
		snap.Orders[i] = o.Clone()
	}
	return snap
}

// Manager owns the grid instruction registry and one monitoring goroutine
// per active grid.
type Manager struct {
	gw          common.Gateway
	bus         *events.Bus
	retries     int
	defaultPoll time.Duration

	mu      sync.RWMutex
	records map[string]*record

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a grid controller over the given gateway.
func NewManager(gw common.Gateway, bus *events.Bus) *Manager {
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		gw:          gw,
		bus:         bus,
		retries:     defaultRetries,
		defaultPoll: defaultPollInterval,
		records:     make(map[string]*record),
		root:        root,
		cancel:      cancel,
	}
}

// SetRetries overrides the per-call retry budget for gateway operations.
func (m *Manager) SetRetries(n int) {
	if n >= 0 {
		m.retries = n
	}
}

// SetPollInterval changes the poll interval applied when an instruction does
// not carry its own.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.defaultPoll = d
	}
}

// Close stops every monitoring goroutine and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func validateParams(p Params) error {
	if p.LowerPrice <= 0 {
		return orders.Validationf("lower price must be positive: %v", p.LowerPrice)
	}
	if p.UpperPrice <= p.LowerPrice {
		return orders.Validationf("upper price (%v) must be greater than lower price (%v)", p.UpperPrice, p.LowerPrice)
	}
	if p.GridStep <= 0 {
		return orders.Validationf("grid step must be positive: %v", p.GridStep)
	}
	if p.GridStep >= p.UpperPrice-p.LowerPrice {
		return orders.Validationf("grid step (%v) must be smaller than the price range (%v)", p.GridStep, p.UpperPrice-p.LowerPrice)
	}
	if p.QuantityPerLevel <= 0 {
		return orders.Validationf("quantity per level must be positive: %v", p.QuantityPerLevel)
	}
	if !p.Side.Valid() {
		return orders.Validationf("side must be BUY or SELL: %s", p.Side)
	}
	n := int((p.UpperPrice-p.LowerPrice)/p.GridStep) + 1
	if n > maxLevels {
		return orders.Validationf("too many grid levels (%d), max %d; increase step or narrow range", n, maxLevels)
	}
	if n < minLevels {
		return orders.Validationf("too few grid levels (%d), need at least %d", n, minLevels)
	}
	return nil
}

// levels returns the grid price levels from lower to upper in step
// increments. The upper bound is always a level even when the range is not
// an exact multiple of the step.
func levels(lower, upper, step float64) []float64 {
	var out []float64
	for p := lower; p < upper; p += step {
		out = append(out, p)
	}
	if len(out) == 0 || out[len(out)-1] != upper {
		out = append(out, upper)
	}
	return out
}

// Submit validates the instruction, seeds the initial ladder (buys below
// the current price, sells above, the level at the current price skipped)
// and starts the monitoring goroutine.
func (m *Manager) Submit(ctx context.Context, p Params) (Snapshot, error) {
	if err := validateParams(p); err != nil {
		return Snapshot{}, err
	}
	if p.PollInterval <= 0 {
		p.PollInterval = m.defaultPoll
	}

	info, err := common.Retry(ctx, "grid getSymbolInfo", m.retries, func() (*common.SymbolInfo, error) {
		return m.gw.GetSymbolInfo(ctx, p.Symbol)
	})
	if err != nil {
		return Snapshot{}, &Error{Err: &orders.GatewayError{Op: "getSymbolInfo", Err: err}}
	}
	if info == nil {
		return Snapshot{}, &Error{Err: &orders.GatewayError{Op: "getSymbolInfo", Err: fmt.Errorf("symbol %s not found on exchange", p.Symbol)}}
	}
	if !info.IsTrading() {
		return Snapshot{}, &Error{Err: &orders.GatewayError{Op: "getSymbolInfo", Err: fmt.Errorf("symbol %s is not currently trading", p.Symbol)}}
	}

	current, err := common.Retry(ctx, "grid getPrice", m.retries, func() (float64, error) {
		return m.gw.GetPrice(ctx, p.Symbol)
	})
	if err != nil {
		return Snapshot{}, &Error{Err: &orders.GatewayError{Op: "getPrice", Err: err}}
	}

	id := orders.NewID(controllerName, p.Symbol, p.Side)
	var seeded []*orders.ChildOrder
	for _, level := range levels(p.LowerPrice, p.UpperPrice, p.GridStep) {
		var side common.Side
		switch {
		case level < current:
			side = common.SideBuy
		case level > current:
			side = common.SideSell
		default:
			// No resting order at the current price.
			continue
		}
		ack, err := common.Retry(ctx, "grid seed level", m.retries, func() (common.OrderAck, error) {
			return m.gw.PlaceLimitOrder(ctx, p.Symbol, side, p.QuantityPerLevel, level)
		})
		if err != nil {
			if orders.IsInsufficientBalance(err) {
				log.Printf("grid %s: insufficient balance at level %v, stopping seeding with %d orders placed",
					id, level, len(seeded))
				break
			}
			log.Printf("grid %s: failed to seed level %v: %v", id, level, err)
			continue
		}
		seeded = append(seeded, &orders.ChildOrder{
			ExchangeID: ack.OrderID,
			Side:       side,
			Price:      level,
			Qty:        p.QuantityPerLevel,
			Status:     orders.ChildActive,
		})
		log.Printf("grid %s: seeded %s %v @ %v (order %s)", id, side, p.QuantityPerLevel, level, ack.OrderID)
	}
	if len(seeded) == 0 {
		return Snapshot{}, &Error{ID: id, Err: &orders.PlacementError{Reason: "grid seeding", Err: fmt.Errorf("no grid orders could be placed")}}
	}

	instCtx, stop := context.WithCancel(m.root)
	rec := &record{
		Snapshot: Snapshot{
			ID:            id,
			Symbol:        p.Symbol,
			Side:          p.Side,
			LowerPrice:    p.LowerPrice,
			UpperPrice:    p.UpperPrice,
			GridStep:      p.GridStep,
			Quantity:      p.QuantityPerLevel,
			PriceAtSubmit: current,
			Orders:        seeded,
			Rebalance:     p.Rebalance,
			Status:        StatusActive,
			CreatedAt:     time.Now(),
		},
		pollInterval: p.PollInterval,
		stop:         stop,
	}

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()

	m.wg.Add(1)
	go m.monitor(instCtx, rec)

	log.Printf("grid %s: active with %d orders between %v and %v", id, len(seeded), p.LowerPrice, p.UpperPrice)
	snap := m.snapshot(rec)
	m.publish(events.EventInstructionCreated, snap)
	return snap, nil
}

// monitor polls every active child order and rebalances each fill with a
// counter-order one level beyond it.
func (m *Manager) monitor(ctx context.Context, rec *record) {
	defer m.wg.Done()

	checks := 0
	for {
		m.mu.RLock()
		var active []*orders.ChildOrder
		for _, o := range rec.Orders {
			// Filled children without a counter-order yet come back around
			// so a failed rebalance gets retried next pass.
			if o.Status == orders.ChildActive || (o.Status == orders.ChildFilled && !o.PartnerPlaced) {
				active = append(active, o)
			}
		}
		m.mu.RUnlock()

		for _, o := range active {
			detail, err := m.gw.GetOrderStatus(ctx, rec.Symbol, o.ExchangeID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("grid %s: status poll error for order %s: %v", rec.ID, o.ExchangeID, err)
				continue
			}
			switch detail.Status {
			case common.StatusFilled:
				m.onFill(ctx, rec, o)
			case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
				log.Printf("grid %s: order %s gone from book (%s)", rec.ID, o.ExchangeID, detail.Status)
				m.mu.Lock()
				o.Status = orders.ChildCancelled
				m.mu.Unlock()
			}
		}

		m.mu.Lock()
		rec.LastCheck = time.Now()
		m.mu.Unlock()

		checks++
		if checks%6 == 0 {
			snap := m.snapshot(rec)
			log.Printf("grid %s: %d trades, realized profit %v", rec.ID, snap.TotalTrades, snap.RealizedProfit)
		}
		if !orders.Sleep(ctx, rec.pollInterval) {
			return
		}
	}
}

// onFill marks the child filled and places the counter-order one level
// beyond it. PartnerPlaced keeps a fill observed twice from rebalancing
// twice.
func (m *Manager) onFill(ctx context.Context, rec *record, o *orders.ChildOrder) {
	m.mu.Lock()
	if o.PartnerPlaced {
		m.mu.Unlock()
		return
	}
	first := o.Status == orders.ChildActive
	if first {
		o.Status = orders.ChildFilled
		o.FilledAt = time.Now()
		rec.TotalTrades++
		if o.Side == common.SideSell && o.Rebalance {
			// A rebalance sell realizes the round trip against the buy one
			// level below it.
			buyPrice := o.Price - rec.GridStep
			rec.RealizedProfit += (o.Price - buyPrice) * o.Qty
		}
	}
	o.PartnerPlaced = true
	m.mu.Unlock()

	if first {
		log.Printf("grid %s: %s order filled @ %v", rec.ID, o.Side, o.Price)
		m.publish(events.EventChildOrderFilled, events.ChildOrderUpdate{
			Controller:    controllerName,
			InstructionID: rec.ID,
			ExchangeID:    o.ExchangeID,
			Symbol:        rec.Symbol,
			Side:          string(o.Side),
			Price:         o.Price,
			Qty:           o.Qty,
			Status:        string(orders.ChildFilled),
			At:            time.Now(),
		})
	}

	if !rec.Rebalance {
		return
	}

	counterSide := o.Side.Opposite()
	var counterPrice float64
	if o.Side == common.SideBuy {
		counterPrice = o.Price + rec.GridStep
	} else {
		counterPrice = o.Price - rec.GridStep
	}
	if counterPrice < rec.LowerPrice || counterPrice > rec.UpperPrice {
		log.Printf("grid %s: counter level %v outside grid range, not rebalancing", rec.ID, counterPrice)
		return
	}

	ack, err := common.Retry(ctx, "grid rebalance", m.retries, func() (common.OrderAck, error) {
		return m.gw.PlaceLimitOrder(ctx, rec.Symbol, counterSide, o.Qty, counterPrice)
	})
	if err != nil {
		log.Printf("grid %s: failed to place rebalance %s @ %v: %v", rec.ID, counterSide, counterPrice, err)
		m.mu.Lock()
		o.PartnerPlaced = false
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	rec.Orders = append(rec.Orders, &orders.ChildOrder{
		ExchangeID: ack.OrderID,
		Side:       counterSide,
		Price:      counterPrice,
		Qty:        o.Qty,
		Status:     orders.ChildActive,
		Rebalance:  true,
	})
	m.mu.Unlock()

	log.Printf("grid %s: rebalanced with %s %v @ %v (order %s)", rec.ID, counterSide, o.Qty, counterPrice, ack.OrderID)
	m.publish(events.EventChildOrderPlaced, events.ChildOrderUpdate{
		Controller:    controllerName,
		InstructionID: rec.ID,
		ExchangeID:    ack.OrderID,
		Symbol:        rec.Symbol,
		Side:          string(counterSide),
		Price:         counterPrice,
		Qty:           o.Qty,
		Status:        string(orders.ChildActive),
		At:            time.Now(),
	})
}

// Cancel stops monitoring and cancels every order still on the book,
// recording the per-order outcome.
func (m *Manager) Cancel(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, &Error{ID: id, Err: orders.ErrNotFound}
	}
	rec.stop()
	if rec.Status == StatusActive {
		rec.Status = StatusCancelled
		rec.FinishedAt = time.Now()
	}
	symbol := rec.Symbol
	var active []*orders.ChildOrder
	for _, o := range rec.Orders {
		if o.Status == orders.ChildActive {
			active = append(active, o)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	for _, o := range active {
		if err := m.gw.CancelOrder(ctx, symbol, o.ExchangeID); err != nil {
			log.Printf("grid %s: failed to cancel order %s: %v", id, o.ExchangeID, err)
			m.mu.Lock()
			o.CancelErr = err.Error()
			m.mu.Unlock()
			continue
		}
		m.mu.Lock()
		o.Status = orders.ChildCancelled
		m.mu.Unlock()
		cancelled++
	}
	log.Printf("grid %s: cancelled, %d/%d open orders pulled", id, cancelled, len(active))

	snap := m.snapshot(rec)
	m.publish(events.EventInstructionCancelled, snap)
	return snap, nil
}

// GetStatus returns a copy of the instruction record.
func (m *Manager) GetStatus(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Snapshot{}, &Error{ID: id, Err: orders.ErrNotFound}
	}
	return rec.view(), nil
}

// ListActive returns snapshots of all running grids.
func (m *Manager) ListActive() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snapshot
	for _, rec := range m.records {
		if rec.Status == StatusActive {
			out = append(out, rec.view())
		}
	}
	return out
}

// CleanupTerminal removes cancelled and failed records from the registry
// and returns how many were removed. Safe to call repeatedly.
func (m *Manager) CleanupTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		switch rec.Status {
		case StatusCancelled, StatusFailed:
			delete(m.records, id)
			n++
		}
	}
	log.Printf("grid: cleaned up %d terminal instructions", n)
	return n
}

func (m *Manager) snapshot(rec *record) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rec.view()
}

func (m *Manager) publish(e events.Event, snap any) {
	if m.bus == nil {
		return
	}
	if s, ok := snap.(Snapshot); ok {
		m.bus.Publish(e, events.InstructionUpdate{
			Controller: controllerName,
			ID:         s.ID,
			Symbol:     s.Symbol,
			Status:     string(s.Status),
			At:         time.Now(),
		})
		return
	}
	m.bus.Publish(e, snap)
}
