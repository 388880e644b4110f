package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"stock-simulator/config"
	"stock-simulator/internal/handlers"
	"stock-simulator/internal/idgen"
	"stock-simulator/internal/logger"
	"stock-simulator/internal/services"
)

const (
	marketTickInterval = 3 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}
	log, err := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("configuring logger")
	}
	if err := idgen.Init(cfg.Snowflake.Node); err != nil {
		log.WithError(err).Fatal("configuring id generator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	defer st.Close()
	log.WithField("driver", cfg.Store.Driver).Info("store ready")

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		rdb = client
	}
	mock := services.NewMockMarket(time.Now().UnixNano())
	quotes := buildQuoteSources(cfg, rdb, mock, log)
	marketService := services.NewMarketDataService(quotes.primary, mock, logger.Component(log, "market"))

	hub := services.NewWebSocketHub(logger.Component(log, "websocket"))
	go hub.Run(ctx)

	notifier := services.MultiNotifier{hub}
	if cfg.NATS.URL != "" {
		nc, err := services.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Component(log, "nats"))
		if err != nil {
			log.WithError(err).Fatal("connecting to nats")
		}
		defer nc.Close()
		notifier = append(notifier, nc)
	}

	authService := services.NewAuthService(st, cfg.Account.StartingBalance, logger.Component(log, "auth"))
	orderService := services.NewOrderService(st, quotes.execution, notifier, logger.Component(log, "orders")).
		WithValuationQuotes(quotes.valuation)
	advancedOrderService := services.NewAdvancedOrderService(st, notifier, logger.Component(log, "conditional-orders"))
	processor := services.NewOrderProcessor(st, quotes.execution, notifier, logger.Component(log, "processor"))

	go processor.Start(ctx, cfg.Processor.Interval)
	go broadcastMarketData(ctx, hub, marketService, cfg.Market.Symbols, log)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.RouterDeps{
		Auth:          authService,
		Market:        marketService,
		Orders:        orderService,
		AdvancedOrder: advancedOrderService,
		Hub:           hub,
		JWTSecret:     cfg.JWTSecret,
		Log:           logger.Component(log, "http"),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("stock simulator listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

// quoteSources splits prices by use. Fills only ever see a price fetched
// for that fill; the Redis cache may serve portfolio valuation.
type quoteSources struct {
	execution services.QuoteSource
	valuation services.QuoteSource
	primary   services.StockQuoter // nil in mock mode
}

func buildQuoteSources(cfg *config.Config, rdb redis.UniversalClient, mock *services.MockMarket, log logrus.FieldLogger) quoteSources {
	var qs quoteSources
	if cfg.Market.Mock {
		qs.execution = mock
	} else {
		av := services.NewAlphaVantageClient(cfg.Market.APIKey, cfg.Market.BaseURL, cfg.Market.Timeout,
			cfg.Market.Concurrency, logger.Component(log, "alphavantage"))
		qs.execution, qs.primary = av, av
	}
	qs.valuation = qs.execution
	if rdb != nil {
		qs.valuation = services.NewCachedQuoteSource(qs.execution, rdb, cfg.Redis.TTL, logger.Component(log, "quote-cache"))
	}
	return qs
}

// broadcastMarketData pushes a quote for each watched symbol to websocket
// clients every few seconds.
func broadcastMarketData(ctx context.Context, hub *services.WebSocketHub, market *services.MarketDataService, symbols []string, log logrus.FieldLogger) {
	if len(symbols) == 0 {
		return
	}
	ticker := time.NewTicker(marketTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				stock, err := market.GetStockPrice(ctx, symbol)
				if err != nil {
					log.WithError(err).WithField("symbol", symbol).Debug("market tick skipped")
					continue
				}
				hub.BroadcastStock(*stock)
			}
		}
	}
}
