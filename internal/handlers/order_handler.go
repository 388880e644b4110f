package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stock-simulator/internal/models"
	"stock-simulator/internal/services"
)

const defaultTradeLimit = 50

type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// MarketOrderRequest executes immediately at the current price.
type MarketOrderRequest struct {
	Symbol   string      `json:"symbol" binding:"required"`
	Side     models.Side `json:"side" binding:"required,oneof=buy sell"`
	Quantity int64       `json:"quantity" binding:"required,min=1"`
}

func (h *OrderHandler) PlaceMarketOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req MarketOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	trade, err := h.orderService.PlaceMarketOrder(c.Request.Context(), userID, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "order executed",
		"trade":   trade,
	})
}

func (h *OrderHandler) GetPortfolio(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	portfolio, err := h.orderService.GetPortfolio(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, portfolio)
}

func (h *OrderHandler) GetTrades(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	trades, err := h.orderService.GetUserTrades(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
