package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/grid"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/oco"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/stoplimit"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/twap"
)

// writeError maps the controller error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var verr *orders.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION", "error": verr.Reason})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "instruction not found"})
	default:
		var gerr *orders.GatewayError
		var perr *orders.PlacementError
		if errors.As(err, &gerr) || errors.As(err, &perr) {
			c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE", "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
	}
}

type stopLimitRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	TriggerPrice    float64 `json:"trigger_price"`
	LimitPrice      float64 `json:"limit_price"`
	PollIntervalSec float64 `json:"poll_interval_sec"`
}

func (s *Server) submitStopLimit(c *gin.Context) {
	var req stopLimitRequest
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
	for _, price := range []float64{req.TriggerPrice, req.LimitPrice} {
		if err := orders.ValidatePrice(price); err != nil {
			writeError(c, err)
			return
		}
	}
	snap, err := s.StopLimit.Submit(c.Request.Context(), stoplimit.Params{
		Symbol:       symbol,
		Side:         side,
		Quantity:     req.Quantity,
		TriggerPrice: req.TriggerPrice,
		LimitPrice:   req.LimitPrice,
		PollInterval: time.Duration(req.PollIntervalSec * float64(time.Second)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) listStopLimit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instructions": s.StopLimit.ListActive()})
}

func (s *Server) getStopLimit(c *gin.Context) {
	snap, err := s.StopLimit.GetStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelStopLimit(c *gin.Context) {
	snap, err := s.StopLimit.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cleanupStopLimit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.StopLimit.CleanupTerminal()})
}

type ocoRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	PollIntervalSec float64 `json:"poll_interval_sec"`
}

func (s *Server) submitOCO(c *gin.Context) {
	var req ocoRequest
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
	for _, price := range []float64{req.TakeProfitPrice, req.StopLossPrice} {
		if err := orders.ValidatePrice(price); err != nil {
			writeError(c, err)
			return
		}
	}
	snap, err := s.OCO.Submit(c.Request.Context(), oco.Params{
		Symbol:          symbol,
		Side:            side,
		Quantity:        req.Quantity,
		TakeProfitPrice: req.TakeProfitPrice,
		StopLossPrice:   req.StopLossPrice,
		PollInterval:    time.Duration(req.PollIntervalSec * float64(time.Second)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) listOCO(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instructions": s.OCO.ListActive()})
}

func (s *Server) getOCO(c *gin.Context) {
	snap, err := s.OCO.GetStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelOCO(c *gin.Context) {
	snap, err := s.OCO.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cleanupOCO(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.OCO.CleanupTerminal()})
}

type twapRequest struct {
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	TotalQuantity  float64 `json:"total_quantity"`
	DurationSec    float64 `json:"duration_sec"`
	IntervalSec    float64 `json:"interval_sec"`
	UseLimitOrders bool    `json:"use_limit_orders"`
}

func (s *Server) submitTWAP(c *gin.Context) {
	var req twapRequest
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
	if err := orders.ValidateQuantity(req.TotalQuantity); err != nil {
		writeError(c, err)
		return
	}
	snap, err := s.TWAP.Submit(c.Request.Context(), twap.Params{
		Symbol:         symbol,
		Side:           side,
		TotalQuantity:  req.TotalQuantity,
		Duration:       time.Duration(req.DurationSec * float64(time.Second)),
		Interval:       time.Duration(req.IntervalSec * float64(time.Second)),
		UseLimitOrders: req.UseLimitOrders,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) listTWAP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instructions": s.TWAP.ListActive()})
}

func (s *Server) getTWAP(c *gin.Context) {
	snap, err := s.TWAP.GetStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelTWAP(c *gin.Context) {
	cancelOpen := c.Query("cancel_open_orders") == "true"
	snap, err := s.TWAP.Cancel(c.Request.Context(), c.Param("id"), cancelOpen)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cleanupTWAP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.TWAP.CleanupTerminal()})
}

type gridRequest struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	LowerPrice       float64 `json:"lower_price"`
	UpperPrice       float64 `json:"upper_price"`
	GridStep         float64 `json:"grid_step"`
	QuantityPerLevel float64 `json:"quantity_per_level"`
	Rebalance        *bool   `json:"rebalance"` // defaults to true
	PollIntervalSec  float64 `json:"poll_interval_sec"`
}

func (s *Server) submitGrid(c *gin.Context) {
	var req gridRequest
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
	if err := orders.ValidateQuantity(req.QuantityPerLevel); err != nil {
		writeError(c, err)
		return
	}
	rebalance := true
	if req.Rebalance != nil {
		rebalance = *req.Rebalance
	}
	snap, err := s.Grid.Submit(c.Request.Context(), grid.Params{
		Symbol:           symbol,
		Side:             side,
		LowerPrice:       req.LowerPrice,
		UpperPrice:       req.UpperPrice,
		GridStep:         req.GridStep,
		QuantityPerLevel: req.QuantityPerLevel,
		Rebalance:        rebalance,
		PollInterval:     time.Duration(req.PollIntervalSec * float64(time.Second)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) listGrid(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instructions": s.Grid.ListActive()})
}

func (s *Server) getGrid(c *gin.Context) {
	snap, err := s.Grid.GetStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelGrid(c *gin.Context) {
	snap, err := s.Grid.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cleanupGrid(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.Grid.CleanupTerminal()})
}
