package common

import "context"

// Gateway abstracts the spot exchange surface consumed by the order
// controllers. Implementations perform one exchange call per method and may
// fail transiently; callers decide whether to retry.
type Gateway interface {
	// GetSymbolInfo returns nil (no error) when the symbol is unknown.
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64) (OrderAck, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderAck, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderDetail, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
