// Package api exposes the order controllers, the exchange passthrough and
// the event stream over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/grid"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/oco"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/stoplimit"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/twap"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/sentiment"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/binance/spot"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/common"
)

// Exchange is the surface the passthrough endpoints need beyond the order
// controllers' gateway.
type Exchange interface {
	common.Gateway
	GetOpenOrders(ctx context.Context, symbol string) ([]common.OrderDetail, error)
	GetAccountInfo(ctx context.Context) (*spot.AccountInfo, error)
}

// Options configures the HTTP server.
type Options struct {
	JWTSecret        string
	OperatorPassword string // hashed at startup; required for login
	RateLimitRPS     float64
	RateLimitBurst   int
}

// Server wires HTTP endpoints around the controllers and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Exchange  Exchange
	StopLimit *stoplimit.Manager
	OCO       *oco.Manager
	TWAP      *twap.Manager
	Grid      *grid.Manager
	Sentiment *sentiment.Index

	jwtSecret    string
	operatorHash string
}

// NewServer builds the router with the middleware stack and registers all
// routes.
func NewServer(bus *events.Bus, exchange Exchange,
	stopLimitMgr *stoplimit.Manager, ocoMgr *oco.Manager, twapMgr *twap.Manager, gridMgr *grid.Manager,
	sentimentIdx *sentiment.Index, opts Options) (*Server, error) {

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.OperatorPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 20
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimitRPS, opts.RateLimitBurst)))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          bus,
		Exchange:     exchange,
		StopLimit:    stopLimitMgr,
		OCO:          ocoMgr,
		TWAP:         twapMgr,
		Grid:         gridMgr,
		Sentiment:    sentimentIdx,
		jwtSecret:    opts.JWTSecret,
		operatorHash: string(hash),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			sl := protected.Group("/orders/stop-limit")
			{
				sl.POST("", s.submitStopLimit)
				sl.GET("", s.listStopLimit)
				sl.GET("/:id", s.getStopLimit)
				sl.DELETE("/:id", s.cancelStopLimit)
				sl.POST("/cleanup", s.cleanupStopLimit)
			}
			ocoGrp := protected.Group("/orders/oco")
			{
				ocoGrp.POST("", s.submitOCO)
				ocoGrp.GET("", s.listOCO)
				ocoGrp.GET("/:id", s.getOCO)
				ocoGrp.DELETE("/:id", s.cancelOCO)
				ocoGrp.POST("/cleanup", s.cleanupOCO)
			}
			tw := protected.Group("/orders/twap")
			{
				tw.POST("", s.submitTWAP)
				tw.GET("", s.listTWAP)
				tw.GET("/:id", s.getTWAP)
				tw.DELETE("/:id", s.cancelTWAP)
				tw.POST("/cleanup", s.cleanupTWAP)
			}
			gr := protected.Group("/orders/grid")
			{
				gr.POST("", s.submitGrid)
				gr.GET("", s.listGrid)
				gr.GET("/:id", s.getGrid)
				gr.DELETE("/:id", s.cancelGrid)
				gr.POST("/cleanup", s.cleanupGrid)
			}

			ex := protected.Group("/exchange")
			{
				ex.POST("/order", s.placeDirectOrder)
				ex.GET("/price", s.getPrice)
				ex.GET("/open-orders", s.getOpenOrders)
				ex.GET("/account", s.getAccount)
			}

			protected.GET("/sentiment", s.getSentiment)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
