package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

type directOrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"` // MARKET or LIMIT
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"` // required for LIMIT
}

// placeDirectOrder submits a one-shot order without controller involvement.
func (s *Server) placeDirectOrder(c *gin.Context) {
	var req directOrderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}
	symbol, err := orders.ValidateSymbol(req.Symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	side, err := orders.ValidateSide(req.Side)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := orders.ValidateQuantity(req.Quantity); err != nil {
		writeError(c, err)
		return
	}

	var ack common.OrderAck
	switch req.Type {
	case "MARKET":
		ack, err = s.Exchange.PlaceMarketOrder(c.Request.Context(), symbol, side, req.Quantity)
	case "LIMIT":
		if err := orders.ValidatePrice(req.Price); err != nil {
			writeError(c, err)
			return
		}
		ack, err = s.Exchange.PlaceLimitOrder(c.Request.Context(), symbol, side, req.Quantity, req.Price)
	default:
		writeError(c, orders.Validationf("invalid order type: %s, must be MARKET or LIMIT", req.Type))
		return
	}
	if err != nil {
		writeError(c, &orders.GatewayError{Op: "placeOrder", Err: err})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_id":       ack.OrderID,
		"status":         ack.Status,
		"executed_qty":   ack.ExecutedQty,
		"avg_fill_price": ack.AvgFillPrice(),
	})
}

func (s *Server) getPrice(c *gin.Context) {
	symbol, err := orders.ValidateSymbol(c.Query("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	price, err := s.Exchange.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, &orders.GatewayError{Op: "getPrice", Err: err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (s *Server) getOpenOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol != "" {
		var err error
		if symbol, err = orders.ValidateSymbol(symbol); err != nil {
			writeError(c, err)
			return
		}
	}
	open, err := s.Exchange.GetOpenOrders(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, &orders.GatewayError{Op: "getOpenOrders", Err: err})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": open})
}

func (s *Server) getAccount(c *gin.Context) {
	info, err := s.Exchange.GetAccountInfo(c.Request.Context())
	if err != nil {
		writeError(c, &orders.GatewayError{Op: "getAccountInfo", Err: err})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getSentiment(c *gin.Context) {
	if s.Sentiment == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_CONFIGURED", "error": "sentiment dataset not loaded"})
		return
	}
	latest := s.Sentiment.Latest()
	c.JSON(http.StatusOK, gin.H{
		"date":          latest.Date.Format("2006-01-02"),
		"score":         latest.Score,
		"is_fear_high":  s.Sentiment.IsFearHigh(),
		"is_greed_high": s.Sentiment.IsGreedHigh(),
	})
}
