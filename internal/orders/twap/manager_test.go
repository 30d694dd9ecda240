package twap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

func TestBuildScheduleSumsToTotal(t *testing.T) {
	tests := []struct {
		name       string
		total      float64
		duration   time.Duration
		interval   time.Duration
		wantSlices int
	}{
		{"even split", 10, 10 * time.Minute, time.Minute, 10},
		{"ragged tail", 5, 7 * time.Minute, 2 * time.Minute, 4},
		{"single slice", 1, time.Minute, time.Minute, 1},
		{"hundred slices", 100, 100 * time.Minute, time.Minute, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			plan := buildSchedule(tt.total, tt.duration, tt.interval, rng)
			if len(plan) != tt.wantSlices {
				t.Fatalf("len(plan) = %d, want %d", len(plan), tt.wantSlices)
			}
			var sum float64
			for i, s := range plan {
				if s.Index != i {
					t.Errorf("plan[%d].Index = %d", i, s.Index)
				}
				if i < len(plan)-1 && s.Qty < minSliceQty {
					t.Errorf("plan[%d].Qty = %v, below minimum %v", i, s.Qty, minSliceQty)
				}
				sum += s.Qty
			}
			if math.Abs(sum-tt.total) > 1e-9 {
				t.Errorf("schedule sums to %v, want %v", sum, tt.total)
			}
		})
	}
}

func TestBuildScheduleJitterBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	plan := buildSchedule(100, 50*time.Minute, time.Minute, rng)
	even := 100.0 / 50
	for _, s := range plan[:len(plan)-1] {
		if s.Qty < even*(1-jitterFraction)-1e-9 || s.Qty > even*(1+jitterFraction)+1e-9 {
			t.Errorf("slice qty %v outside +/-10%% of %v", s.Qty, even)
		}
	}
}

type placedOrder struct {
	side  common.Side
	qty   float64
	price float64
	limit bool
}

type fakeGateway struct {
	mu          sync.Mutex
	info        *common.SymbolInfo
	price       float64
	placed      []placedOrder
	failAt      map[int]error // placement call number (1-based) -> error
	placeCalls  int
	book        map[string]common.OrderStatus
	cancels     []string
	nextID      int
}

func newFakeGateway(price float64) *fakeGateway {
	return &fakeGateway{
		info:   &common.SymbolInfo{Symbol: "ETHUSDT", Status: "TRADING"},
		price:  price,
		failAt: make(map[int]error),
		book:   make(map[string]common.OrderStatus),
	}
}

func (f *fakeGateway) GetSymbolInfo(ctx context.Context, symbol string) (*common.SymbolInfo, error) {
	return f.info, nil
}

func (f *fakeGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakeGateway) place(side common.Side, qty, price float64, limit bool) (common.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if err, ok := f.failAt[f.placeCalls]; ok {
		return common.OrderAck{}, err
	}
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.placed = append(f.placed, placedOrder{side, qty, price, limit})
	if limit {
		f.book[id] = common.StatusNew
		return common.OrderAck{OrderID: id, Status: common.StatusNew, Price: price}, nil
	}
	// Market slices fill immediately at the quoted price.
	return common.OrderAck{
		OrderID:     id,
		Status:      common.StatusFilled,
		ExecutedQty: qty,
		Fills:       []common.Fill{{Price: f.price, Qty: qty}},
	}, nil
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderAck, error) {
	return f.place(side, qty, price, true)
}

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderAck, error) {
	return f.place(side, qty, 0, false)
}

func (f *fakeGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.book[orderID]
	if !ok {
		return common.OrderDetail{}, fmt.Errorf("order %s not found", orderID)
	}
	return common.OrderDetail{OrderID: orderID, Status: st}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, orderID)
	f.book[orderID] = common.StatusCanceled
	return nil
}

func (f *fakeGateway) placedOrders() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedOrder(nil), f.placed...)
}

func waitForTerminal(t *testing.T, m *Manager, id string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus(%s): %v", id, err)
		}
		if snap.Status != StatusActive {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("instruction %s never finished", id)
	return Snapshot{}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"zero quantity", Params{Symbol: "ETHUSDT", Side: common.SideBuy, Duration: time.Minute, Interval: time.Second}},
		{"bad side", Params{Symbol: "ETHUSDT", Side: "X", TotalQuantity: 1, Duration: time.Minute, Interval: time.Second}},
		{"zero duration", Params{Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 1, Interval: time.Second}},
		{"interval exceeds duration", Params{Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 1, Duration: time.Second, Interval: time.Minute}},
		{"too many slices", Params{Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 500, Duration: 500 * time.Minute, Interval: time.Minute}},
		{"slices below minimum size", Params{Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 0.01, Duration: 100 * time.Minute, Interval: time.Minute}},
	}
	m := NewManager(newFakeGateway(2000), nil)
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

func TestMarketExecutionCompletes(t *testing.T) {
	gw := newFakeGateway(2000)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 4,
		Duration: 4 * time.Millisecond, Interval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if snap.SlicesTotal != 4 {
		t.Fatalf("SlicesTotal = %d, want 4", snap.SlicesTotal)
	}

	final := waitForTerminal(t, m, snap.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", final.Status, StatusCompleted)
	}
	if final.SlicesDone != 4 || final.SlicesFailed != 0 {
		t.Errorf("done=%d failed=%d, want 4/0", final.SlicesDone, final.SlicesFailed)
	}
	if math.Abs(final.ExecutedQty-4) > 1e-9 {
		t.Errorf("ExecutedQty = %v, want 4", final.ExecutedQty)
	}
	// All fills at 2000 quote.
	if math.Abs(final.AvgPrice-2000) > 1e-9 {
		t.Errorf("AvgPrice = %v, want 2000", final.AvgPrice)
	}
	var sum float64
	for _, o := range gw.placedOrders() {
		sum += o.qty
		if o.limit {
			t.Errorf("market instruction placed a limit slice")
		}
	}
	if math.Abs(sum-4) > 1e-9 {
		t.Errorf("placed quantity sums to %v, want 4", sum)
	}
}

func TestLimitSlicesPricedThroughMarket(t *testing.T) {
	gw := newFakeGateway(2000)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 2,
		Duration: 2 * time.Millisecond, Interval: time.Millisecond,
		UseLimitOrders: true,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForTerminal(t, m, snap.ID)

	for _, o := range gw.placedOrders() {
		if !o.limit {
			t.Fatalf("limit instruction placed a market slice")
		}
		want := 2000 * (1 + limitOffset)
		if math.Abs(o.price-want) > 1e-9 {
			t.Errorf("limit price = %v, want %v", o.price, want)
		}
	}
}

func TestSliceFailureContinues(t *testing.T) {
	gw := newFakeGateway(2000)
	gw.failAt[2] = errors.New("exchange hiccup")
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideSell, TotalQuantity: 3,
		Duration: 3 * time.Millisecond, Interval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitForTerminal(t, m, snap.ID)
	if final.Status != StatusPartial {
		t.Fatalf("status = %s, want %s", final.Status, StatusPartial)
	}
	if final.SlicesDone != 2 || final.SlicesFailed != 1 {
		t.Errorf("done=%d failed=%d, want 2/1", final.SlicesDone, final.SlicesFailed)
	}
	if final.Slices[1].Status != SliceFailed || final.Slices[1].Err == "" {
		t.Errorf("failed slice not recorded: %+v", final.Slices[1])
	}
}

func TestInsufficientBalanceAborts(t *testing.T) {
	gw := newFakeGateway(2000)
	gw.failAt[2] = errors.New("insufficient balance for requested action")
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 5,
		Duration: 5 * time.Millisecond, Interval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitForTerminal(t, m, snap.ID)
	if final.Status != StatusStopped {
		t.Fatalf("status = %s, want %s", final.Status, StatusStopped)
	}
	// Slices after the balance failure must not run.
	if final.SlicesDone != 1 {
		t.Errorf("SlicesDone = %d, want 1", final.SlicesDone)
	}
	if got := len(gw.placedOrders()); got != 1 {
		t.Errorf("placed %d orders, want 1", got)
	}
}

func TestInsufficientBalanceOnFirstSliceStops(t *testing.T) {
	gw := newFakeGateway(2000)
	gw.failAt[1] = errors.New("insufficient balance")
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 2,
		Duration: 2 * time.Millisecond, Interval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := waitForTerminal(t, m, snap.ID)
	if final.Status != StatusStopped {
		t.Fatalf("status = %s, want %s", final.Status, StatusStopped)
	}
	if final.SlicesDone != 0 {
		t.Errorf("SlicesDone = %d, want 0", final.SlicesDone)
	}
}

func TestCancelStopsExecutionAndPullsOpenOrders(t *testing.T) {
	gw := newFakeGateway(2000)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 10,
		Duration: 10 * time.Minute, Interval: time.Minute,
		UseLimitOrders: true,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Let the first slice go out, then stop; the remaining nine must never run.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := m.GetStatus(snap.ID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if s.SlicesDone >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	final, err := m.Cancel(context.Background(), snap.ID, true)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if final.Status != StatusStopped {
		t.Fatalf("status = %s, want %s", final.Status, StatusStopped)
	}
	placed := gw.placedOrders()
	if len(placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(placed))
	}
	gw.mu.Lock()
	cancelled := len(gw.cancels)
	gw.mu.Unlock()
	if cancelled != 1 {
		t.Errorf("cancelled %d open orders, want 1", cancelled)
	}
	if got := len(m.ListActive()); got != 0 {
		t.Errorf("ListActive() = %d after cancel, want 0", got)
	}
}

func TestCleanupTerminal(t *testing.T) {
	gw := newFakeGateway(2000)
	m := NewManager(gw, nil)
	m.retries = 0
	defer m.Close()

	snap, err := m.Submit(context.Background(), Params{
		Symbol: "ETHUSDT", Side: common.SideBuy, TotalQuantity: 1,
		Duration: time.Millisecond, Interval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForTerminal(t, m, snap.ID)
	if n := m.CleanupTerminal(); n != 1 {
		t.Fatalf("CleanupTerminal() = %d, want 1", n)
	}
	if n := m.CleanupTerminal(); n != 0 {
		t.Fatalf("second CleanupTerminal() = %d, want 0", n)
	}
}
