// Package journal appends instruction and child-order events to a local
// SQLite file. It is a write-only audit trail: nothing in the engine reads
// it back, so losing or deleting the file never affects live instructions.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS instruction_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event TEXT NOT NULL,
    controller TEXT NOT NULL,
    instruction_id TEXT NOT NULL,
    symbol TEXT,
    status TEXT,
    detail TEXT,
    at DATETIME NOT NULL,
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS child_order_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event TEXT NOT NULL,
    controller TEXT NOT NULL,
    instruction_id TEXT NOT NULL,
    exchange_id TEXT,
    symbol TEXT,
    side TEXT,
    price REAL,
    qty REAL,
    status TEXT,
    at DATETIME NOT NULL,
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_instruction_events_iid ON instruction_events(instruction_id);
CREATE INDEX IF NOT EXISTS idx_child_order_events_iid ON child_order_events(instruction_id);
`

// Journal subscribes to the event bus and persists everything it sees.
type Journal struct {
	db    *sql.DB
	unsub func()
	wg    sync.WaitGroup
}

// Open creates (if needed) the journal database at path and starts
// recording all lifecycle events published on bus.
func Open(path string, bus *events.Bus) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	j := &Journal{db: db}
	ch, unsub := bus.Subscribe(256,
		events.EventInstructionCreated,
		events.EventInstructionUpdated,
		events.EventInstructionCompleted,
		events.EventInstructionCancelled,
		events.EventInstructionFailed,
		events.EventChildOrderPlaced,
		events.EventChildOrderFilled,
	)
	j.unsub = unsub
	j.wg.Add(1)
	go j.record(ch)
	return j, nil
}

func (j *Journal) record(ch <-chan events.Message) {
	defer j.wg.Done()
	for msg := range ch {
		var err error
		switch p := msg.Payload.(type) {
		case events.InstructionUpdate:
			err = j.writeInstruction(msg.Event, p)
		case events.ChildOrderUpdate:
			err = j.writeChildOrder(msg.Event, p)
		default:
			continue
		}
		if err != nil {
			log.Printf("journal: write %s failed: %v", msg.Event, err)
		}
	}
}

func (j *Journal) writeInstruction(e events.Event, u events.InstructionUpdate) error {
	_, err := j.db.Exec(
		`INSERT INTO instruction_events (event, controller, instruction_id, symbol, status, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e), u.Controller, u.ID, u.Symbol, u.Status, u.Detail, u.At,
	)
	return err
}

func (j *Journal) writeChildOrder(e events.Event, u events.ChildOrderUpdate) error {
	_, err := j.db.Exec(
		`INSERT INTO child_order_events (event, controller, instruction_id, exchange_id, symbol, side, price, qty, status, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e), u.Controller, u.InstructionID, u.ExchangeID, u.Symbol, u.Side, u.Price, u.Qty, u.Status, u.At,
	)
	return err
}

// Close unsubscribes from the bus, drains pending writes and closes the
// database.
func (j *Journal) Close() error {
	j.unsub()
	j.wg.Wait()
	return j.db.Close()
}
