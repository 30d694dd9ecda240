// Package stoplimit implements the stop-trigger controller: it watches the
// market price for an instruction and, when the trigger level is crossed,
// submits a single dependent limit order.
package stoplimit

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
	controllerName = "stop_limit"

	defaultPollInterval = 5 * time.Second
	defaultRetries      = 3
)

// Instruction statuses.
const (
	StatusMonitoring orders.Status = "MONITORING"
	StatusTriggered  orders.Status = "TRIGGERED"
	StatusCompleted  orders.Status = "COMPLETED"
	StatusFailed     orders.Status = "FAILED"
	StatusCancelled  orders.Status = "CANCELLED"
)

// Error normalizes internal failures at the stop-trigger controller
// boundary. Validation errors pass through untouched.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return "stop-limit: " + e.Err.Error()
	}
	return fmt.Sprintf("stop-limit %s: %v", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Params is the user-supplied intent for one stop-limit instruction.
type Params struct {
	Symbol       string
	Side         common.Side
	Quantity     float64
	TriggerPrice float64 // stop price that arms the limit order
	LimitPrice   float64
	PollInterval time.Duration
}

// Snapshot is a point-in-time copy of an instruction record.
type Snapshot struct {
	ID            string             `json:"id"`
	Symbol        string             `json:"symbol"`
	Side          common.Side        `json:"side"`
	Quantity      float64            `json:"quantity"`
	TriggerPrice  float64            `json:"trigger_price"`
	LimitPrice    float64            `json:"limit_price"`
	PriceAtSubmit float64            `json:"price_at_submit"`
	Status        orders.Status      `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	Triggered     bool               `json:"triggered"`
	TriggerSeen   float64            `json:"trigger_seen,omitempty"` // price observed at trigger
	LimitOrder    *orders.ChildOrder `json:"limit_order,omitempty"`
	Err           string             `json:"error,omitempty"`
	FinishedAt    time.Time          `json:"finished_at,omitempty"`
}

type record struct {
	Snapshot
	pollInterval time.Duration
	stop         context.CancelFunc
}

// view copies the record's public state, detaching the limit order so
// readers never alias a child order still being mutated. Callers must hold
// m.mu in either mode.
func (rec *record) view() Snapshot {
	snap := rec.Snapshot
	snap.LimitOrder = rec.LimitOrder.Clone()
	return snap
}

// Manager owns the stop-limit instruction registry and one monitoring
// goroutine per active instruction.
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

// NewManager creates a stop-limit controller over the given gateway. bus may
// be nil when no event consumers exist.
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
	if p.TriggerPrice <= 0 {
		return orders.Validationf("trigger price must be positive: %v", p.TriggerPrice)
	}
	if p.LimitPrice <= 0 {
		return orders.Validationf("limit price must be positive: %v", p.LimitPrice)
	}
	if !p.Side.Valid() {
		return orders.Validationf("side must be BUY or SELL: %s", p.Side)
	}
	// A limit price on the wrong side of the trigger is legal but can fill
	// immediately once armed; warn, don't reject.
	if p.Side == common.SideBuy && p.LimitPrice < p.TriggerPrice {
		log.Printf("stop-limit: BUY limit price %v below trigger %v may execute immediately when armed", p.LimitPrice, p.TriggerPrice)
	}
	if p.Side == common.SideSell && p.LimitPrice > p.TriggerPrice {
		log.Printf("stop-limit: SELL limit price %v above trigger %v may execute immediately when armed", p.LimitPrice, p.TriggerPrice)
	}
	return nil
}

// Submit validates the instruction, verifies the symbol is tradable and
// starts the price-watch goroutine. It returns before the trigger fires;
// progress is observable through GetStatus.
func (m *Manager) Submit(ctx context.Context, p Params) (Snapshot, error) {
	if err := validateParams(p); err != nil {
		return Snapshot{}, err
	}
	if p.PollInterval <= 0 {
		p.PollInterval = m.defaultPoll
	}

	info, err := common.Retry(ctx, "stop-limit getSymbolInfo", m.retries, func() (*common.SymbolInfo, error) {
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

	price, err := common.Retry(ctx, "stop-limit getPrice", m.retries, func() (float64, error) {
		return m.gw.GetPrice(ctx, p.Symbol)
	})
	if err != nil {
		return Snapshot{}, &Error{Err: &orders.GatewayError{Op: "getPrice", Err: err}}
	}

	id := orders.NewID(controllerName, p.Symbol, p.Side)
	instCtx, stop := context.WithCancel(m.root)
	rec := &record{
		Snapshot: Snapshot{
			ID:            id,
			Symbol:        p.Symbol,
			Side:          p.Side,
			Quantity:      p.Quantity,
			TriggerPrice:  p.TriggerPrice,
			LimitPrice:    p.LimitPrice,
			PriceAtSubmit: price,
			Status:        StatusMonitoring,
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

	log.Printf("stop-limit %s: monitoring started, current price %v, trigger %v", id, price, p.TriggerPrice)
	snap := m.snapshot(rec)
	m.publish(events.EventInstructionCreated, snap)
	return snap, nil
}

// monitor polls the market price until the trigger condition holds, then
// places the dependent limit order exactly once.
func (m *Manager) monitor(ctx context.Context, rec *record) {
	defer m.wg.Done()

	checks := 0
	for {
		price, err := m.gw.GetPrice(ctx, rec.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				m.finishCancelled(rec)
				return
			}
			log.Printf("stop-limit %s: price poll error: %v", rec.ID, err)
			if !orders.Sleep(ctx, 2*rec.pollInterval) {
				m.finishCancelled(rec)
				return
			}
			continue
		}

		triggered := false
		if rec.Side == common.SideBuy {
			triggered = price >= rec.TriggerPrice
		} else {
			triggered = price <= rec.TriggerPrice
		}

		if triggered {
			m.fire(ctx, rec, price)
			return
		}

		checks++
		if checks%10 == 0 {
			log.Printf("stop-limit %s: current price %v, waiting for %s trigger at %v", rec.ID, price, rec.Side, rec.TriggerPrice)
		}
		if !orders.Sleep(ctx, rec.pollInterval) {
			m.finishCancelled(rec)
			return
		}
	}
}

// fire places the limit order after the trigger condition was observed.
// Single-shot: whatever the outcome, monitoring ends here.
func (m *Manager) fire(ctx context.Context, rec *record, seen float64) {
	m.mu.Lock()
	if rec.Status != StatusMonitoring {
		m.mu.Unlock()
		return
	}
	rec.Status = StatusTriggered
	rec.Triggered = true
	rec.TriggerSeen = seen
	m.mu.Unlock()

	log.Printf("stop-limit %s: trigger hit at %v (trigger %v), placing limit order", rec.ID, seen, rec.TriggerPrice)
	m.publish(events.EventInstructionUpdated, m.snapshot(rec))

	ack, err := common.Retry(ctx, "stop-limit placeLimitOrder", m.retries, func() (common.OrderAck, error) {
		return m.gw.PlaceLimitOrder(ctx, rec.Symbol, rec.Side, rec.Quantity, rec.LimitPrice)
	})

	m.mu.Lock()
	now := time.Now()
	if rec.Status != StatusTriggered {
		// Cancel won the race while the placement was in flight; the
		// CANCELLED status a caller already observed must not regress.
		m.mu.Unlock()
		if err == nil {
			log.Printf("stop-limit %s: cancelled during placement, pulling limit order %s", rec.ID, ack.OrderID)
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := m.gw.CancelOrder(cctx, rec.Symbol, ack.OrderID); cerr != nil {
				log.Printf("stop-limit %s: could not pull limit order %s: %v", rec.ID, ack.OrderID, cerr)
			}
		}
		return
	}
	if err != nil {
		errMsg := fmt.Sprintf("place limit order after trigger: %v", err)
		rec.Status = StatusFailed
		rec.Err = errMsg
		rec.FinishedAt = now
		m.mu.Unlock()
		log.Printf("stop-limit %s: %s", rec.ID, errMsg)
		m.publish(events.EventInstructionFailed, m.snapshot(rec))
		return
	}
	rec.LimitOrder = &orders.ChildOrder{
		ExchangeID: ack.OrderID,
		Side:       rec.Side,
		Price:      rec.LimitPrice,
		Qty:        rec.Quantity,
		Status:     orders.ChildActive,
	}
	rec.Status = StatusCompleted
	rec.FinishedAt = now
	m.mu.Unlock()

	log.Printf("stop-limit %s: limit order %s placed", rec.ID, ack.OrderID)
	m.publish(events.EventChildOrderPlaced, events.ChildOrderUpdate{
		Controller:    controllerName,
		InstructionID: rec.ID,
		ExchangeID:    ack.OrderID,
		Symbol:        rec.Symbol,
		Side:          string(rec.Side),
		Price:         rec.LimitPrice,
		Qty:           rec.Quantity,
		Status:        string(orders.ChildActive),
		At:            now,
	})
	m.publish(events.EventInstructionCompleted, m.snapshot(rec))
}

// finishCancelled marks the record cancelled when the monitor exits due to
// its context; a no-op if Cancel already recorded the transition.
func (m *Manager) finishCancelled(rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status == StatusMonitoring {
		rec.Status = StatusCancelled
		rec.FinishedAt = time.Now()
	}
}

// Cancel stops monitoring for an instruction. If the trigger already fired
// and a limit order is resting, its cancellation is attempted best-effort;
// a failure there is logged but does not fail the cancel.
func (m *Manager) Cancel(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, &Error{ID: id, Err: orders.ErrNotFound}
	}
	rec.stop()
	limitOrder := rec.LimitOrder
	symbol := rec.Symbol
	pull := limitOrder != nil && limitOrder.Status == orders.ChildActive
	if rec.Status != StatusFailed && rec.Status != StatusCancelled {
		rec.Status = StatusCancelled
		rec.FinishedAt = time.Now()
	}
	snap := rec.view()
	m.mu.Unlock()

	if pull {
		if err := m.gw.CancelOrder(ctx, symbol, limitOrder.ExchangeID); err != nil {
			log.Printf("stop-limit %s: could not cancel triggered limit order %s: %v", id, limitOrder.ExchangeID, err)
			m.mu.Lock()
			limitOrder.CancelErr = err.Error()
			m.mu.Unlock()
		} else {
			log.Printf("stop-limit %s: cancelled triggered limit order %s", id, limitOrder.ExchangeID)
			m.mu.Lock()
			limitOrder.Status = orders.ChildCancelled
			m.mu.Unlock()
		}
	}

	log.Printf("stop-limit %s: cancelled", id)
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

// ListActive returns snapshots of all non-terminal instructions.
func (m *Manager) ListActive() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snapshot
	for _, rec := range m.records {
		if rec.Status == StatusMonitoring || rec.Status == StatusTriggered {
			out = append(out, rec.view())
		}
	}
	return out
}

// CleanupTerminal removes completed, failed and cancelled records from the
// registry and returns how many were removed. Safe to call repeatedly.
func (m *Manager) CleanupTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		switch rec.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			delete(m.records, id)
			n++
		}
	}
	log.Printf("stop-limit: cleaned up %d terminal instructions", n)
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
