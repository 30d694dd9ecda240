package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the exit side for a given entry side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// SymbolInfo describes a tradable pair as reported by the exchange.
type SymbolInfo struct {
	Symbol     string
	Status     string // TRADING, BREAK, HALT, ...
	BaseAsset  string
	QuoteAsset string
}

// IsTrading reports whether the symbol currently accepts orders.
func (si SymbolInfo) IsTrading() bool {
	return si.Status == "TRADING"
}

// Fill is one execution report attached to an order ack.
type Fill struct {
	Price float64
	Qty   float64
}

// OrderAck is the exchange acknowledgement for a placed order.
type OrderAck struct {
	OrderID     string
	Status      OrderStatus
	Price       float64 // limit price, 0 for market orders
	ExecutedQty float64
	Fills       []Fill
}

// AvgFillPrice returns the volume-weighted price across fills, falling back
// to the order price when the ack carries no fill reports.
func (a OrderAck) AvgFillPrice() float64 {
	var value, qty float64
	for _, f := range a.Fills {
		value += f.Price * f.Qty
		qty += f.Qty
	}
	if qty > 0 {
		return value / qty
	}
	return a.Price
}

// OrderDetail is the answer to an order status query.
type OrderDetail struct {
	OrderID     string
	Status      OrderStatus
	Price       float64
	OrigQty     float64
	ExecutedQty float64
}
