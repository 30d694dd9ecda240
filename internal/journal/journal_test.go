package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
)

func TestJournalRecordsEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, bus)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	bus.Publish(events.EventInstructionCreated, events.InstructionUpdate{
		Controller: "grid", ID: "grid_1", Symbol: "BTCUSDT", Status: "ACTIVE", At: time.Now(),
	})
	bus.Publish(events.EventChildOrderPlaced, events.ChildOrderUpdate{
		Controller: "grid", InstructionID: "grid_1", ExchangeID: "42",
		Symbol: "BTCUSDT", Side: "BUY", Price: 26000, Qty: 0.1, Status: "ACTIVE", At: time.Now(),
	})

	// Close drains the subscriber channels before shutting the db.
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j2, err := Open(path, bus)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	var n int
	if err := j2.db.QueryRow(`SELECT COUNT(*) FROM instruction_events WHERE instruction_id = 'grid_1'`).Scan(&n); err != nil {
		t.Fatalf("count instruction events: %v", err)
	}
	if n != 1 {
		t.Errorf("instruction events = %d, want 1", n)
	}
	if err := j2.db.QueryRow(`SELECT COUNT(*) FROM child_order_events WHERE exchange_id = '42'`).Scan(&n); err != nil {
		t.Fatalf("count child order events: %v", err)
	}
	if n != 1 {
		t.Errorf("child order events = %d, want 1", n)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	if _, err := Open("", bus); err == nil {
		t.Fatalf("Open(\"\") succeeded")
	}
}
