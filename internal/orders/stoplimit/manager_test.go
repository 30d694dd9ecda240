package stoplimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

type placed struct {
	symbol string
	side   common.Side
	qty    float64
	price  float64
}

// fakeGateway serves a scripted price path and records order traffic.
type fakeGateway struct {
	mu        sync.Mutex
	info      *common.SymbolInfo
	prices    []float64
	priceIdx  int
	priceErr  error
	placeErr  error
	placeGate chan struct{} // when set, PlaceLimitOrder blocks until closed
	placed    []placed
	cancelErr error
	cancelled []string
	nextID    int
}

func newFakeGateway(prices ...float64) *fakeGateway {
	return &fakeGateway{
		info:   &common.SymbolInfo{Symbol: "BTCUSDT", Status: "TRADING"},
		prices: prices,
	}
}

func (f *fakeGateway) GetSymbolInfo(ctx context.Context, symbol string) (*common.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, nil
}

func (f *fakeGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	p := f.prices[f.priceIdx]
	if f.priceIdx < len(f.prices)-1 {
		f.priceIdx++
	}
	return p, nil
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderAck, error) {
	f.mu.Lock()
	gate := f.placeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return common.OrderAck{}, f.placeErr
	}
	f.nextID++
	f.placed = append(f.placed, placed{symbol, side, qty, price})
	return common.OrderAck{OrderID: "100", Status: common.StatusNew, Price: price}, nil
}

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderAck, error) {
	return common.OrderAck{}, errors.New("not used")
}

func (f *fakeGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	return common.OrderDetail{OrderID: orderID, Status: common.StatusNew}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) placedOrders() []placed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placed(nil), f.placed...)
}

func (f *fakeGateway) cancelledOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func waitForStatus(t *testing.T, m *Manager, id string, want orders.Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus(%s): %v", id, err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	snap, _ := m.GetStatus(id)
	t.Fatalf("instruction %s never reached %s, last status %s", id, want, snap.Status)
	return Snapshot{}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"zero quantity", Params{Symbol: "BTCUSDT", Side: common.SideBuy, TriggerPrice: 26000, LimitPrice: 26100}},
		{"negative trigger", Params{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1, TriggerPrice: -1, LimitPrice: 26100}},
		{"zero limit", Params{Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1, TriggerPrice: 26000}},
		{"bad side", Params{Symbol: "BTCUSDT", Side: "HOLD", Quantity: 1, TriggerPrice: 26000, LimitPrice: 26100}},
	}
	m := NewManager(newFakeGateway(25000), nil)
	m.retries = 0
	defer m.Close()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.p)
			var verr *orders.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestSubmitUnknownSymbol(t *testing.T) {
	gw := newFakeGateway(25000)
	gw.info = nil
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	_, err := m.Submit(context.Background(), Params{
		Symbol: "NOPEUSDT", Side: common.SideBuy, Quantity: 1, TriggerPrice: 26000, LimitPrice: 26100,
	})
	var gerr *orders.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("Submit() error = %v, want GatewayError", err)
	}
}

func TestBuyTriggersAtOrAbove(t *testing.T) {
	gw := newFakeGateway(25000, 25500, 26100)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 0.5,
		TriggerPrice: 26100, LimitPrice: 26200, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if snap.Status != StatusMonitoring {
		t.Fatalf("initial status = %s, want %s", snap.Status, StatusMonitoring)
	}

	final := waitForStatus(t, m, snap.ID, StatusCompleted)
	if !final.Triggered {
		t.Errorf("Triggered = false, want true")
	}
	if final.TriggerSeen != 26100 {
		t.Errorf("TriggerSeen = %v, want 26100", final.TriggerSeen)
	}
	if final.LimitOrder == nil {
		t.Fatalf("LimitOrder is nil after completion")
	}

	got := gw.placedOrders()
	if len(got) != 1 {
		t.Fatalf("placed %d orders, want exactly 1", len(got))
	}
	if got[0].side != common.SideBuy || got[0].price != 26200 || got[0].qty != 0.5 {
		t.Errorf("placed order = %+v, want BUY 0.5 @ 26200", got[0])
	}
}

func TestSellTriggersAtOrBelow(t *testing.T) {
	gw := newFakeGateway(25000, 24000)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideSell, Quantity: 1,
		TriggerPrice: 24500, LimitPrice: 24400, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	waitForStatus(t, m, snap.ID, StatusCompleted)
	got := gw.placedOrders()
	if len(got) != 1 {
		t.Fatalf("placed %d orders, want 1", len(got))
	}
	if got[0].side != common.SideSell {
		t.Errorf("placed side = %s, want SELL", got[0].side)
	}
}

func TestPlacementFailureMarksFailed(t *testing.T) {
	gw := newFakeGateway(27000)
	gw.placeErr = errors.New("exchange rejected order")
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1,
		TriggerPrice: 26000, LimitPrice: 26100, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitForStatus(t, m, snap.ID, StatusFailed)
	if final.Err == "" {
		t.Errorf("Err empty on failed instruction")
	}
}

func TestCancelWhileMonitoring(t *testing.T) {
	gw := newFakeGateway(25000) // never reaches the trigger
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1,
		TriggerPrice: 30000, LimitPrice: 30100, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, err := m.Cancel(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status after cancel = %s, want %s", got.Status, StatusCancelled)
	}

	// The monitor must stop placing orders after cancellation.
	time.Sleep(20 * time.Millisecond)
	if n := len(gw.placedOrders()); n != 0 {
		t.Errorf("placed %d orders after cancel, want 0", n)
	}
}

func TestCancelDuringPlacementDoesNotRegress(t *testing.T) {
	gw := newFakeGateway(25000, 26100)
	gate := make(chan struct{})
	gw.placeGate = gate
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1,
		TriggerPrice: 26100, LimitPrice: 26200, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, m, snap.ID, StatusTriggered)

	// Placement is stuck on the gate; cancel while it is in flight.
	got, err := m.Cancel(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status after cancel = %s, want %s", got.Status, StatusCancelled)
	}
	close(gate)

	// The late placement must not overwrite CANCELLED, and the order it
	// put on the book gets pulled.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(gw.cancelledOrders()) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := gw.cancelledOrders(); len(got) != 1 {
		t.Fatalf("late order cancelled %d times, want 1", len(got))
	}
	final, err := m.GetStatus(snap.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if final.Status != StatusCancelled {
		t.Errorf("status regressed to %s after late placement", final.Status)
	}
}

func TestSnapshotDetachedFromLiveRecord(t *testing.T) {
	gw := newFakeGateway(25000, 26100)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1,
		TriggerPrice: 26100, LimitPrice: 26200, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	before := waitForStatus(t, m, snap.ID, StatusCompleted)
	if before.LimitOrder == nil || before.LimitOrder.Status != orders.ChildActive {
		t.Fatalf("limit order after completion = %+v, want ACTIVE", before.LimitOrder)
	}

	// Cancelling pulls the resting limit order on the live record.
	if _, err := m.Cancel(context.Background(), snap.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	final, err := m.GetStatus(snap.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if final.LimitOrder.Status != orders.ChildCancelled {
		t.Fatalf("live limit order = %s, want %s", final.LimitOrder.Status, orders.ChildCancelled)
	}
	if before.LimitOrder.Status != orders.ChildActive {
		t.Errorf("earlier snapshot mutated to %s", before.LimitOrder.Status)
	}
}

func TestCancelUnknownID(t *testing.T) {
	m := NewManager(newFakeGateway(25000), nil)
	m.retries = 0
	defer m.Close()

	_, err := m.Cancel(context.Background(), "stop_limit_missing")
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestListActiveAndCleanup(t *testing.T) {
	gw := newFakeGateway(25000)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "BTCUSDT", Side: common.SideBuy, Quantity: 1,
		TriggerPrice: 30000, LimitPrice: 30100, PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := len(m.ListActive()); got != 1 {
		t.Fatalf("ListActive() = %d, want 1", got)
	}

	// Active instructions survive cleanup.
	if n := m.CleanupTerminal(); n != 0 {
		t.Fatalf("CleanupTerminal() removed %d active instructions", n)
	}

	if _, err := m.Cancel(context.Background(), snap.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if n := m.CleanupTerminal(); n != 1 {
		t.Fatalf("CleanupTerminal() = %d, want 1", n)
	}
	// Idempotent: nothing left to remove.
	if n := m.CleanupTerminal(); n != 0 {
		t.Fatalf("second CleanupTerminal() = %d, want 0", n)
	}
	if _, err := m.GetStatus(snap.ID); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("GetStatus after cleanup error = %v, want ErrNotFound", err)
	}
}
