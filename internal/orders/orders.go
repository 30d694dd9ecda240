// Package orders holds the conventions shared by the four order-lifecycle
// controllers: instruction identity, child order references, the local
// status lattice and the common error taxonomy. The controllers themselves
// are independent; only these conventions and the exchange gateway are
// shared between them.
package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

// Status is an instruction-level lifecycle status. Each controller declares
// its own vocabulary of these.
type Status string

// ChildStatus is the local status of one exchange order submitted on behalf
// of an instruction. Transitions form a monotone lattice:
// ACTIVE -> {FILLED, CANCELLED, FAILED}, never reverting.
type ChildStatus string

const (
	ChildActive    ChildStatus = "ACTIVE"
	ChildFilled    ChildStatus = "FILLED"
	ChildCancelled ChildStatus = "CANCELLED"
	ChildFailed    ChildStatus = "FAILED"
)

// ChildOrder references one exchange order belonging to an instruction.
type ChildOrder struct {
	ExchangeID    string          `json:"exchange_id"`
	Side          common.Side     `json:"side"`
	Price         float64         `json:"price"`
	Qty           float64         `json:"qty"`
	Status        ChildStatus     `json:"status"`
	FilledAt      time.Time       `json:"filled_at,omitempty"`
	PartnerPlaced bool            `json:"partner_placed,omitempty"` // rebalance counter-order already spawned
	Rebalance     bool            `json:"rebalance,omitempty"`      // this order is a rebalance counter-order
	CancelErr     string          `json:"cancel_err,omitempty"`
}

// Clone returns a copy detached from the owning record, nil-safe. Snapshot
// paths use it so readers never alias a child order the monitoring
// goroutine still mutates.
func (c *ChildOrder) Clone() *ChildOrder {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// NewID generates an instruction ID. The epoch-seconds component keeps IDs
// human-scannable; the uuid suffix makes two same-second submissions of the
// same kind/symbol/side distinct.
func NewID(kind, symbol string, side common.Side) string {
	return fmt.Sprintf("%s_%s_%s_%d_%s", kind, symbol, side, time.Now().Unix(), uuid.NewString()[:8])
}
