package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/services"
)

// RouterDeps are the services the HTTP surface is built on.
type RouterDeps struct {
	Auth          *services.AuthService
	Market        *services.MarketDataService
	Orders        *services.OrderService
	AdvancedOrder *services.AdvancedOrderService
	Hub           *services.WebSocketHub
	JWTSecret     string
	Log           logrus.FieldLogger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.Log), cors())

	authHandler := NewAuthHandler(d.Auth, d.JWTSecret)
	marketHandler := NewMarketHandler(d.Market)
	orderHandler := NewOrderHandler(d.Orders)
	advancedOrderHandler := NewAdvancedOrderHandler(d.AdvancedOrder)
	authMiddleware := authHandler.AuthMiddleware()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/ws", func(c *gin.Context) {
		serveWebSocket(c, d.Hub, authHandler, d.Log)
	})

	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.GET("/me", authMiddleware, authHandler.GetCurrentUser)

	api.GET("/stocks/:symbol", marketHandler.GetStockPrice)

	protected := api.Group("", authMiddleware)
	protected.POST("/orders/market", orderHandler.PlaceMarketOrder)
	protected.POST("/orders", advancedOrderHandler.CreateOrder)
	protected.GET("/orders", advancedOrderHandler.GetOrders)
	protected.POST("/orders/:id/cancel", advancedOrderHandler.CancelOrder)
	protected.GET("/trades", orderHandler.GetTrades)
	protected.GET("/portfolio", orderHandler.GetPortfolio)

	return router
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Error("request failed")
			return
		}
		entry.Debug("request")
	}
}

// serveWebSocket upgrades the request. A "token" query parameter holding a
// session token subscribes the connection to that user's order events;
// without one the connection only receives quotes.
func serveWebSocket(c *gin.Context, hub *services.WebSocketHub, auth *AuthHandler, log logrus.FieldLogger) {
	var userID int64
	if raw := c.Query("token"); raw != "" {
		id, err := auth.userFromToken(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": errBadToken.Error()})
			return
		}
		userID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	log.WithField("user", userID).Debug("websocket connected")
	hub.RegisterClient(conn, userID).Serve()
}
