package orders

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]+USDT$`)

const (
	maxQuantity  = 1000    // testnet sanity ceiling
	maxPrice     = 1000000
	maxPrecision = 8
)

// ValidateSymbol normalizes and validates a trading pair symbol.
func ValidateSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", Validationf("symbol cannot be empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return "", Validationf("invalid symbol format: %s, must be a USDT pair (e.g. BTCUSDT)", symbol)
	}
	if len(symbol) < 6 || len(symbol) > 12 {
		return "", Validationf("invalid symbol length: %s", symbol)
	}
	return symbol, nil
}

// ValidateSide normalizes and validates an order side.
func ValidateSide(side string) (common.Side, error) {
	s := common.Side(strings.ToUpper(strings.TrimSpace(side)))
	if !s.Valid() {
		return "", Validationf("invalid side: %s, must be BUY or SELL", side)
	}
	return s, nil
}

// ValidateQuantity validates an order quantity.
func ValidateQuantity(qty float64) error {
	if qty <= 0 {
		return Validationf("quantity must be positive: %v", qty)
	}
	if qty > maxQuantity {
		return Validationf("quantity too large: %v, maximum allowed is %d", qty, maxQuantity)
	}
	if decimals(qty) > maxPrecision {
		return Validationf("quantity precision too high: %v, maximum %d decimal places", qty, maxPrecision)
	}
	return nil
}

// ValidatePrice validates an order price.
func ValidatePrice(price float64) error {
	if price <= 0 {
		return Validationf("price must be positive: %v", price)
	}
	if price > maxPrice {
		return Validationf("price too high: %v", price)
	}
	if decimals(price) > maxPrecision {
		return Validationf("price precision too high: %v, maximum %d decimal places", price, maxPrecision)
	}
	return nil
}

func decimals(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
