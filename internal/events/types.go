package events

import "time"

// Event identifies a topic on the bus.
type Event string

const (
	EventInstructionCreated   Event = "instruction.created"
	EventInstructionUpdated   Event = "instruction.updated"
	EventInstructionCompleted Event = "instruction.completed"
	EventInstructionCancelled Event = "instruction.cancelled"
	EventInstructionFailed    Event = "instruction.failed"
	EventChildOrderPlaced     Event = "child_order.placed"
	EventChildOrderFilled     Event = "child_order.filled"
)

// InstructionUpdate describes a lifecycle transition of one instruction.
type InstructionUpdate struct {
	Controller string    `json:"controller"` // stop_limit | oco | twap | grid
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// ChildOrderUpdate describes one exchange order placed or resolved on
// behalf of an instruction.
type ChildOrderUpdate struct {
	Controller    string    `json:"controller"`
	InstructionID string    `json:"instruction_id"`
	ExchangeID    string    `json:"exchange_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Qty           float64   `json:"qty"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}
