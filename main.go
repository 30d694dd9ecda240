package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/api"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/events"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/journal"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/grid"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/oco"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/stoplimit"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders/twap"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/sentiment"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/config"
	"github.com/Ridh1234/Primetrade-Binance-trading-bot/pkg/exchanges/binance/spot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MAIN] config: %v", err)
	}
	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Fatal("[MAIN] BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("[MAIN] log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := spot.New(spot.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.RecvWindowMs,
	})
	client.StartTimeSync(ctx)
	log.Printf("[MAIN] exchange client ready (testnet=%v)", cfg.BinanceTestnet)

	bus := events.NewBus()

	jrnl, err := journal.Open(cfg.JournalPath, bus)
	if err != nil {
		log.Fatalf("[MAIN] journal: %v", err)
	}
	log.Printf("[MAIN] event journal at %s", cfg.JournalPath)

	var sentimentIdx *sentiment.Index
	if cfg.SentimentPath != "" {
		sentimentIdx, err = sentiment.Load(cfg.SentimentPath)
		if err != nil {
			log.Fatalf("[MAIN] sentiment dataset: %v", err)
		}
		log.Printf("[MAIN] sentiment dataset loaded (%d rows)", sentimentIdx.Len())
	}

	stopLimitMgr := stoplimit.NewManager(client, bus)
	ocoMgr := oco.NewManager(client, bus)
	twapMgr := twap.NewManager(client, bus)
	gridMgr := grid.NewManager(client, bus)

	if n := cfg.Controllers.Retries; n > 0 {
		stopLimitMgr.SetRetries(n)
		ocoMgr.SetRetries(n)
		twapMgr.SetRetries(n)
		gridMgr.SetRetries(n)
	}
	stopLimitMgr.SetPollInterval(cfg.Controllers.StopLimitPollInterval.Std())
	ocoMgr.SetPollInterval(cfg.Controllers.OCOPollInterval.Std())
	gridMgr.SetPollInterval(cfg.Controllers.GridPollInterval.Std())

	srv, err := api.NewServer(bus, client, stopLimitMgr, ocoMgr, twapMgr, gridMgr, sentimentIdx, api.Options{
		JWTSecret:        cfg.JWTSecret,
		OperatorPassword: cfg.OperatorPassword,
		RateLimitRPS:     cfg.RateLimitRPS,
		RateLimitBurst:   cfg.RateLimitBurst,
	})
	if err != nil {
		log.Fatalf("[MAIN] server: %v", err)
	}

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router,
	}
	go func() {
		log.Printf("[MAIN] listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[MAIN] http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("[MAIN] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] http shutdown: %v", err)
	}

	// Stop controllers before the journal so final state transitions land
	// in the audit trail.
	stopLimitMgr.Close()
	ocoMgr.Close()
	twapMgr.Close()
	gridMgr.Close()
	if err := jrnl.Close(); err != nil {
		log.Printf("[MAIN] journal close: %v", err)
	}
	bus.Close()

	log.Println("[MAIN] bye")
}
