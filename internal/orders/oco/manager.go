// Package oco implements the one-cancels-other controller: two linked exit
// orders (a take-profit leg and a stop-loss leg) are placed together, and
// when either fills the sibling's cancellation is attempted exactly once.
package oco

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
	controllerName = "oco"

	defaultPollInterval = 10 * time.Second
	defaultRetries      = 3
)

// Instruction statuses.
const (
	StatusActive    orders.Status = "ACTIVE"
	StatusCompleted orders.Status = "COMPLETED"
	StatusCancelled orders.Status = "CANCELLED"
)

// Leg names used in ExecutedLeg / CancelledLeg.
const (
	LegTakeProfit = "take_profit"
	LegStopLoss   = "stop_loss"
)

// Error normalizes internal failures at the OCO controller boundary.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return "oco: " + e.Err.Error()
	}
	return fmt.Sprintf("oco %s: %v", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Params is the user-supplied intent for one OCO instruction. The two legs
// are placed on the side opposite Side (exit orders for an existing
// position).
type Params struct {
	Symbol          string
	Side            common.Side
	Quantity        float64
	TakeProfitPrice float64
	StopLossPrice   float64
	PollInterval    time.Duration
}

// Snapshot is a point-in-time copy of an instruction record.
type Snapshot struct {
	ID            string             `json:"id"`
	Symbol        string             `json:"symbol"`
	Side          common.Side        `json:"side"`
	Quantity      float64            `json:"quantity"`
	PriceAtSubmit float64            `json:"price_at_submit"`
	TakeProfit    *orders.ChildOrder `json:"take_profit"`
	StopLoss      *orders.ChildOrder `json:"stop_loss"`
	Status        orders.Status      `json:"status"`
	ExecutedLeg   string             `json:"executed_leg,omitempty"`
	CancelledLeg  string             `json:"cancelled_leg,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	LastCheck     time.Time          `json:"last_check,omitempty"`
	FinishedAt    time.Time          `json:"finished_at,omitempty"`
}

type record struct {
	Snapshot
	pollInterval time.Duration
	stop         context.CancelFunc
}

// view copies the record's public state, detaching both legs so readers
// never alias a child order the monitor still mutates. Callers must hold
// m.mu in either mode.
func (rec *record) view() Snapshot {
	snap := rec.Snapshot
	snap.TakeProfit = rec.TakeProfit.Clone()
	snap.StopLoss = rec.StopLoss.Clone()
	return snap
}

// Manager owns the OCO instruction registry and one monitoring goroutine
// per active instruction.
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

// NewManager creates an OCO controller over the given gateway.
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
	if p.Quantity <= 0 {
		return orders.Validationf("quantity must be positive: %v", p.Quantity)
	}
	if p.TakeProfitPrice <= 0 {
		return orders.Validationf("take profit price must be positive: %v", p.TakeProfitPrice)
	}
	if p.StopLossPrice <= 0 {
		return orders.Validationf("stop loss price must be positive: %v", p.StopLossPrice)
	}
	if !p.Side.Valid() {
		return orders.Validationf("side must be BUY or SELL: %s", p.Side)
	}
	if p.Side == common.SideBuy {
		if p.TakeProfitPrice <= p.StopLossPrice {
			return orders.Validationf("for BUY OCO take profit price (%v) must be greater than stop loss price (%v)",
				p.TakeProfitPrice, p.StopLossPrice)
		}
	} else {
		if p.TakeProfitPrice >= p.StopLossPrice {
			return orders.Validationf("for SELL OCO take profit price (%v) must be less than stop loss price (%v)",
				p.TakeProfitPrice, p.StopLossPrice)
		}
	}
	return nil
}

func validateAgainstMarket(p Params, current float64) error {
	if p.Side == common.SideBuy {
		if p.TakeProfitPrice <= current {
			return orders.Validationf("BUY OCO take profit price (%v) must be above current price (%v)", p.TakeProfitPrice, current)
		}
		if p.StopLossPrice >= current {
			return orders.Validationf("BUY OCO stop loss price (%v) must be below current price (%v)", p.StopLossPrice, current)
		}
	} else {
		if p.TakeProfitPrice >= current {
			return orders.Validationf("SELL OCO take profit price (%v) must be below current price (%v)", p.TakeProfitPrice, current)
		}
		if p.StopLossPrice <= current {
			return orders.Validationf("SELL OCO stop loss price (%v) must be above current price (%v)", p.StopLossPrice, current)
		}
	}
	return nil
}

// Submit validates the instruction, places both exit legs and starts the
// monitoring goroutine. If the stop-loss leg cannot be placed the already
// resting take-profit leg is unwound best-effort before the error returns.
func (m *Manager) Submit(ctx context.Context, p Params) (Snapshot, error) {
	if err := validateParams(p); err != nil {
		return Snapshot{}, err
	}
	if p.PollInterval <= 0 {
		p.PollInterval = m.defaultPoll
	}

	info, err := common.Retry(ctx, "oco getSymbolInfo", m.retries, func() (*common.SymbolInfo, error) {
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

	current, err := common.Retry(ctx, "oco getPrice", m.retries, func() (float64, error) {
		return m.gw.GetPrice(ctx, p.Symbol)
	})
	if err != nil {
		return Snapshot{}, &Error{Err: &orders.GatewayError{Op: "getPrice", Err: err}}
	}
	if err := validateAgainstMarket(p, current); err != nil {
		return Snapshot{}, err
	}

	exitSide := p.Side.Opposite()

	log.Printf("oco: placing take profit leg %s %v %s @ %v", exitSide, p.Quantity, p.Symbol, p.TakeProfitPrice)
	tpAck, err := common.Retry(ctx, "oco place take-profit leg", m.retries, func() (common.OrderAck, error) {
		return m.gw.PlaceLimitOrder(ctx, p.Symbol, exitSide, p.Quantity, p.TakeProfitPrice)
	})
	if err != nil {
		return Snapshot{}, &Error{Err: &orders.PlacementError{Reason: "take-profit leg", Err: err}}
	}

	log.Printf("oco: placing stop loss leg %s %v %s @ %v", exitSide, p.Quantity, p.Symbol, p.StopLossPrice)
	slAck, err := common.Retry(ctx, "oco place stop-loss leg", m.retries, func() (common.OrderAck, error) {
		return m.gw.PlaceLimitOrder(ctx, p.Symbol, exitSide, p.Quantity, p.StopLossPrice)
	})
	if err != nil {
		// Unwind the resting take-profit leg so no unpaired exit order is
		// left dangling. Best-effort: the placement error wins either way.
		if cancelErr := m.gw.CancelOrder(ctx, p.Symbol, tpAck.OrderID); cancelErr != nil {
			log.Printf("oco: failed to unwind take-profit leg %s after stop-loss placement failure: %v", tpAck.OrderID, cancelErr)
		} else {
			log.Printf("oco: unwound take-profit leg %s after stop-loss placement failure", tpAck.OrderID)
		}
		return Snapshot{}, &Error{Err: &orders.PlacementError{Reason: "stop-loss leg", Err: err}}
	}

	id := orders.NewID(controllerName, p.Symbol, p.Side)
	instCtx, stop := context.WithCancel(m.root)
	now := time.Now()
	rec := &record{
		Snapshot: Snapshot{
			ID:            id,
			Symbol:        p.Symbol,
			Side:          p.Side,
			Quantity:      p.Quantity,
			PriceAtSubmit: current,
			TakeProfit: &orders.ChildOrder{
				ExchangeID: tpAck.OrderID,
				Side:       exitSide,
				Price:      p.TakeProfitPrice,
				Qty:        p.Quantity,
				Status:     orders.ChildActive,
			},
			StopLoss: &orders.ChildOrder{
				ExchangeID: slAck.OrderID,
				Side:       exitSide,
				Price:      p.StopLossPrice,
				Qty:        p.Quantity,
				Status:     orders.ChildActive,
			},
			Status:    StatusActive,
			CreatedAt: now,
		},
		pollInterval: p.PollInterval,
		stop:         stop,
	}

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()

	m.wg.Add(1)
	go m.monitor(instCtx, rec)

	log.Printf("oco %s: placed, take profit %s, stop loss %s", id, tpAck.OrderID, slAck.OrderID)
	snap := m.snapshot(rec)
	m.publish(events.EventInstructionCreated, snap)
	return snap, nil
}

func filled(s common.OrderStatus) bool {
	return s == common.StatusFilled || s == common.StatusPartial
}

// monitor polls both legs each interval. A fill on either leg is treated as
// execution of the instruction and triggers exactly one cancellation attempt
// on the sibling leg.
func (m *Manager) monitor(ctx context.Context, rec *record) {
	defer m.wg.Done()

	checks := 0
	for {
		tp, tpErr := m.gw.GetOrderStatus(ctx, rec.Symbol, rec.TakeProfit.ExchangeID)
		sl, slErr := m.gw.GetOrderStatus(ctx, rec.Symbol, rec.StopLoss.ExchangeID)
		if tpErr != nil || slErr != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("oco %s: leg status poll error: tp=%v sl=%v", rec.ID, tpErr, slErr)
			if !orders.Sleep(ctx, 2*rec.pollInterval) {
				return
			}
			continue
		}

		m.mu.Lock()
		rec.LastCheck = time.Now()
		m.mu.Unlock()

		tpFilled, slFilled := filled(tp.Status), filled(sl.Status)
		tpCancelled := tp.Status == common.StatusCanceled
		slCancelled := sl.Status == common.StatusCanceled

		switch {
		case tpFilled && !slCancelled:
			m.complete(ctx, rec, rec.TakeProfit, rec.StopLoss, LegTakeProfit, LegStopLoss)
			return
		case slFilled && !tpCancelled:
			m.complete(ctx, rec, rec.StopLoss, rec.TakeProfit, LegStopLoss, LegTakeProfit)
			return
		case tpCancelled && slCancelled:
			log.Printf("oco %s: both legs cancelled externally", rec.ID)
			m.mu.Lock()
			rec.TakeProfit.Status = orders.ChildCancelled
			rec.StopLoss.Status = orders.ChildCancelled
			rec.Status = StatusCancelled
			rec.FinishedAt = time.Now()
			m.mu.Unlock()
			m.publish(events.EventInstructionCancelled, m.snapshot(rec))
			return
		case tpCancelled || slCancelled:
			// Ambiguous: one leg disappeared under us. Not terminal, keep
			// watching the survivor.
			log.Printf("oco %s: one leg cancelled externally, monitoring continues", rec.ID)
		}

		checks++
		if checks%6 == 0 {
			log.Printf("oco %s: status tp=%s sl=%s", rec.ID, tp.Status, sl.Status)
		}
		if !orders.Sleep(ctx, rec.pollInterval) {
			return
		}
	}
}

// complete records the executed leg and attempts to cancel the sibling
// exactly once. A sibling-cancel failure is logged, never blocks completion.
func (m *Manager) complete(ctx context.Context, rec *record, executed, sibling *orders.ChildOrder, executedName, siblingName string) {
	m.mu.Lock()
	if rec.Status != StatusActive {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	executed.Status = orders.ChildFilled
	executed.FilledAt = now
	rec.ExecutedLeg = executedName
	rec.CancelledLeg = siblingName
	rec.Status = StatusCompleted
	rec.FinishedAt = now
	m.mu.Unlock()

	log.Printf("oco %s: %s leg filled, cancelling %s leg", rec.ID, executedName, siblingName)
	if err := m.gw.CancelOrder(ctx, rec.Symbol, sibling.ExchangeID); err != nil {
		log.Printf("oco %s: failed to cancel %s leg %s: %v", rec.ID, siblingName, sibling.ExchangeID, err)
		m.mu.Lock()
		sibling.CancelErr = err.Error()
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		sibling.Status = orders.ChildCancelled
		m.mu.Unlock()
	}

	m.publish(events.EventChildOrderFilled, events.ChildOrderUpdate{
		Controller:    controllerName,
		InstructionID: rec.ID,
		ExchangeID:    executed.ExchangeID,
		Symbol:        rec.Symbol,
		Side:          string(executed.Side),
		Price:         executed.Price,
		Qty:           executed.Qty,
		Status:        string(orders.ChildFilled),
		At:            now,
	})
	m.publish(events.EventInstructionCompleted, m.snapshot(rec))
}

// Cancel stops monitoring and attempts to cancel both legs, recording the
// per-leg outcome without aborting on individual failures.
func (m *Manager) Cancel(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, &Error{ID: id, Err: orders.ErrNotFound}
	}
	rec.stop()
	legs := []*orders.ChildOrder{rec.TakeProfit, rec.StopLoss}
	symbol := rec.Symbol
	if rec.Status == StatusActive {
		rec.Status = StatusCancelled
		rec.FinishedAt = time.Now()
	}
	m.mu.Unlock()

	for _, leg := range legs {
		if leg == nil || leg.Status != orders.ChildActive {
			continue
		}
		if err := m.gw.CancelOrder(ctx, symbol, leg.ExchangeID); err != nil {
			log.Printf("oco %s: failed to cancel leg %s: %v", id, leg.ExchangeID, err)
			m.mu.Lock()
			leg.CancelErr = err.Error()
			m.mu.Unlock()
		} else {
			log.Printf("oco %s: cancelled leg %s", id, leg.ExchangeID)
			m.mu.Lock()
			leg.Status = orders.ChildCancelled
			m.mu.Unlock()
		}
	}

	m.mu.RLock()
	snap := rec.view()
	m.mu.RUnlock()
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

// ListActive returns snapshots of all instructions still being monitored.
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

// CleanupTerminal removes completed and cancelled records from the registry
// and returns how many were removed. Safe to call repeatedly.
func (m *Manager) CleanupTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		switch rec.Status {
		case StatusCompleted, StatusCancelled:
			delete(m.records, id)
			n++
		}
	}
	log.Printf("oco: cleaned up %d terminal instructions", n)
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
