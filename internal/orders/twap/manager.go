// Package twap implements the time-weighted execution controller: a parent
// quantity is split into jittered slices that are executed sequentially at a
// fixed interval, as market orders or as limit orders pegged near the
// current price.
package twap

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

const (
	controllerName = "twap"

	defaultRetries = 3

	// Offset applied to limit slices so they price slightly through the
	// market and fill quickly.
	limitOffset = 0.001
)

// Instruction statuses.
const (
	StatusActive    orders.Status = "ACTIVE"
	StatusCompleted orders.Status = "COMPLETED"
	StatusPartial   orders.Status = "PARTIALLY_COMPLETED"
	StatusStopped   orders.Status = "STOPPED"
)

// Error normalizes internal failures at the TWAP controller boundary.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return "twap: " + e.Err.Error()
	}
	return fmt.Sprintf("twap %s: %v", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Params is the user-supplied intent for one TWAP instruction.
type Params struct {
	Symbol        string
	Side          common.Side
	TotalQuantity float64
	Duration      time.Duration
	Interval      time.Duration
	// UseLimitOrders prices each slice as a limit order 0.1% through the
	// market instead of a market order.
	UseLimitOrders bool
}

// SliceResult records the outcome of one executed slice.
type SliceResult struct {
	Index       int           `json:"index"`
	Qty         float64       `json:"qty"`
	ExchangeID  string        `json:"exchange_id,omitempty"`
	Price       float64       `json:"price,omitempty"`
	ExecutedQty float64       `json:"executed_qty"`
	Limit       bool          `json:"limit"`
	Status      orders.Status `json:"status"`
	Err         string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}

// Slice statuses.
const (
	SlicePlaced orders.Status = "PLACED"
	SliceFailed orders.Status = "FAILED"
)

// Snapshot is a point-in-time copy of an instruction record.
type Snapshot struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Side          common.Side   `json:"side"`
	TotalQuantity float64       `json:"total_quantity"`
	ExecutedQty   float64       `json:"executed_qty"`
	AvgPrice      float64       `json:"avg_price"`
	SlicesTotal   int           `json:"slices_total"`
	SlicesDone    int           `json:"slices_done"`
	SlicesFailed  int           `json:"slices_failed"`
	Slices        []SliceResult `json:"slices"`
	Status        orders.Status `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
}

type record struct {
	Snapshot
	plan     []slicePlan
	interval time.Duration
	useLimit bool
	notional float64
	stop     context.CancelFunc
}

// view copies the record's public state, detaching the slice results so a
// reader's backing array is never shared with later appends. Callers must
// hold m.mu in either mode.
func (rec *record) view() Snapshot {
	snap := rec.Snapshot
	snap.Slices = append([]SliceResult(nil), rec.Slices...)
	return snap
}

// Manager owns the TWAP instruction registry and one execution goroutine
// per active instruction.
type Manager struct {
	gw      common.Gateway
	bus     *events.Bus
	retries int
	rng     *rand.Rand

	mu      sync.RWMutex
	records map[string]*record

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a TWAP controller over the given gateway.
func NewManager(gw common.Gateway, bus *events.Bus) *Manager {
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		gw:      gw,
		bus:     bus,
		retries: defaultRetries,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		records: make(map[string]*record),
		root:    root,
		cancel:  cancel,
	}
}

// SetRetries overrides the per-call retry budget for gateway operations.
func (m *Manager) SetRetries(n int) {
	if n >= 0 {
		m.retries = n
	}
}

// Close stops every execution goroutine and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func validateParams(p Params) error {
	if p.TotalQuantity <= 0 {
		return orders.Validationf("total quantity must be positive: %v", p.TotalQuantity)
	}
	if !p.Side.Valid() {
		return orders.Validationf("side must be BUY or SELL: %s", p.Side)
	}
	if p.Duration <= 0 {
		return orders.Validationf("duration must be positive: %v", p.Duration)
	}
	if p.Interval <= 0 {
		return orders.Validationf("interval must be positive: %v", p.Interval)
	}
	if p.Interval > p.Duration {
		return orders.Validationf("interval (%v) must not exceed duration (%v)", p.Interval, p.Duration)
	}
	n := int(math.Ceil(float64(p.Duration) / float64(p.Interval)))
	if n > maxSlices {
		return orders.Validationf("too many slices (%d), max %d; increase interval or reduce duration", n, maxSlices)
	}
	if p.TotalQuantity/float64(n) < minSliceQty {
		return orders.Validationf("slice size %.6f below minimum %v; reduce slices or increase quantity",
			p.TotalQuantity/float64(n), minSliceQty)
	}
	return nil
}

// Submit validates the instruction, builds the slice schedule and starts
// the execution goroutine. The first slice executes immediately.
func (m *Manager) Submit(ctx context.Context, p Params) (Snapshot, error) {
	if err := validateParams(p); err != nil {
		return Snapshot{}, err
	}

	info, err := common.Retry(ctx, "twap getSymbolInfo", m.retries, func() (*common.SymbolInfo, error) {
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

	m.mu.Lock()
	plan := buildSchedule(p.TotalQuantity, p.Duration, p.Interval, m.rng)
	m.mu.Unlock()

	id := orders.NewID(controllerName, p.Symbol, p.Side)
	instCtx, stop := context.WithCancel(m.root)
	rec := &record{
		Snapshot: Snapshot{
			ID:            id,
			Symbol:        p.Symbol,
			Side:          p.Side,
			TotalQuantity: p.TotalQuantity,
			SlicesTotal:   len(plan),
			Status:        StatusActive,
			CreatedAt:     time.Now(),
		},
		plan:     plan,
		interval: p.Interval,
		useLimit: p.UseLimitOrders,
		stop:     stop,
	}

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(instCtx, rec)

	log.Printf("twap %s: scheduled %d slices of %s over %v (every %v)",
		id, len(plan), p.Symbol, p.Duration, p.Interval)
	snap := m.snapshot(rec)
	m.publish(events.EventInstructionCreated, snap)
	return snap, nil
}

// run executes the slice schedule sequentially. Individual slice failures
// are recorded and execution continues, except an insufficient-balance
// rejection which no later slice can recover from.
func (m *Manager) run(ctx context.Context, rec *record) {
	defer m.wg.Done()

	for i, slice := range rec.plan {
		if ctx.Err() != nil {
			m.finish(rec, StatusStopped)
			return
		}

		err := m.executeSlice(ctx, rec, slice)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(rec, StatusStopped)
				return
			}
			log.Printf("twap %s: slice %d/%d failed: %v", rec.ID, slice.Index+1, rec.SlicesTotal, err)
			if orders.IsInsufficientBalance(err) {
				log.Printf("twap %s: insufficient balance, aborting remaining slices", rec.ID)
				m.finish(rec, StatusStopped)
				return
			}
		}

		if i < len(rec.plan)-1 {
			if !orders.Sleep(ctx, rec.interval) {
				m.finish(rec, StatusStopped)
				return
			}
		}
	}

	m.mu.Lock()
	failed := rec.SlicesFailed
	m.mu.Unlock()
	if failed > 0 {
		m.finish(rec, StatusPartial)
	} else {
		m.finish(rec, StatusCompleted)
	}
}

func (m *Manager) executeSlice(ctx context.Context, rec *record, slice slicePlan) error {
	var (
		ack   common.OrderAck
		price float64
		err   error
	)
	if rec.useLimit {
		price, err = common.Retry(ctx, "twap getPrice", m.retries, func() (float64, error) {
			return m.gw.GetPrice(ctx, rec.Symbol)
		})
		if err == nil {
			if rec.Side == common.SideBuy {
				price *= 1 + limitOffset
			} else {
				price *= 1 - limitOffset
			}
			ack, err = common.Retry(ctx, "twap place limit slice", m.retries, func() (common.OrderAck, error) {
				return m.gw.PlaceLimitOrder(ctx, rec.Symbol, rec.Side, slice.Qty, price)
			})
		}
	} else {
		ack, err = common.Retry(ctx, "twap place market slice", m.retries, func() (common.OrderAck, error) {
			return m.gw.PlaceMarketOrder(ctx, rec.Symbol, rec.Side, slice.Qty)
		})
	}

	now := time.Now()
	res := SliceResult{
		Index: slice.Index,
		Qty:   slice.Qty,
		Limit: rec.useLimit,
		At:    now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		res.Status = SliceFailed
		res.Err = err.Error()
		rec.SlicesFailed++
		rec.Slices = append(rec.Slices, res)
		return err
	}

	res.Status = SlicePlaced
	res.ExchangeID = ack.OrderID
	res.Price = ack.AvgFillPrice()
	res.ExecutedQty = ack.ExecutedQty
	rec.SlicesDone++
	rec.Slices = append(rec.Slices, res)

	if ack.ExecutedQty > 0 {
		rec.ExecutedQty += ack.ExecutedQty
		rec.notional += ack.ExecutedQty * ack.AvgFillPrice()
		rec.AvgPrice = rec.notional / rec.ExecutedQty
	}

	log.Printf("twap %s: slice %d/%d placed, qty %v, executed %v @ %v",
		rec.ID, slice.Index+1, rec.SlicesTotal, slice.Qty, ack.ExecutedQty, res.Price)
	m.publishLocked(events.EventChildOrderPlaced, events.ChildOrderUpdate{
		Controller:    controllerName,
		InstructionID: rec.ID,
		ExchangeID:    ack.OrderID,
		Symbol:        rec.Symbol,
		Side:          string(rec.Side),
		Price:         res.Price,
		Qty:           slice.Qty,
		Status:        string(SlicePlaced),
		At:            now,
	})
	return nil
}

func (m *Manager) finish(rec *record, status orders.Status) {
	m.mu.Lock()
	if rec.Status == StatusActive {
		rec.Status = status
		rec.FinishedAt = time.Now()
	}
	snap := rec.view()
	m.mu.Unlock()

	log.Printf("twap %s: finished %s, executed %v/%v avg price %v",
		rec.ID, snap.Status, snap.ExecutedQty, snap.TotalQuantity, snap.AvgPrice)
	switch snap.Status {
	case StatusCompleted, StatusPartial:
		m.publish(events.EventInstructionCompleted, snap)
	case StatusStopped:
		m.publish(events.EventInstructionCancelled, snap)
	}
}

// Cancel stops the execution goroutine. When cancelOpenOrders is set, limit
// slices still resting on the book (NEW or partially filled) are cancelled
// best-effort.
func (m *Manager) Cancel(ctx context.Context, id string, cancelOpenOrders bool) (Snapshot, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, &Error{ID: id, Err: orders.ErrNotFound}
	}
	rec.stop()
	if rec.Status == StatusActive {
		rec.Status = StatusStopped
		rec.FinishedAt = time.Now()
	}
	symbol := rec.Symbol
	var open []string
	if cancelOpenOrders && rec.useLimit {
		for _, s := range rec.Slices {
			if s.Status == SlicePlaced && s.ExchangeID != "" {
				open = append(open, s.ExchangeID)
			}
		}
	}
	m.mu.Unlock()

	for _, exchangeID := range open {
		detail, err := m.gw.GetOrderStatus(ctx, symbol, exchangeID)
		if err != nil {
			log.Printf("twap %s: failed to query slice order %s: %v", id, exchangeID, err)
			continue
		}
		if detail.Status != common.StatusNew && detail.Status != common.StatusPartial {
			continue
		}
		if err := m.gw.CancelOrder(ctx, symbol, exchangeID); err != nil {
			log.Printf("twap %s: failed to cancel slice order %s: %v", id, exchangeID, err)
		} else {
			log.Printf("twap %s: cancelled open slice order %s", id, exchangeID)
		}
	}

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

// ListActive returns snapshots of all instructions still executing.
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

// CleanupTerminal removes finished records from the registry and returns
// how many were removed. Safe to call repeatedly.
func (m *Manager) CleanupTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.records {
		switch rec.Status {
		case StatusCompleted, StatusPartial, StatusStopped:
			delete(m.records, id)
			n++
		}
	}
	log.Printf("twap: cleaned up %d terminal instructions", n)
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

// publishLocked is publish for call sites already holding m.mu.
func (m *Manager) publishLocked(e events.Event, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(e, payload)
}
