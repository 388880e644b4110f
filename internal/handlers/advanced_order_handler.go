package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stock-simulator/internal/models"
	"stock-simulator/internal/services"
)

type AdvancedOrderHandler struct {
	service *services.AdvancedOrderService
}

func NewAdvancedOrderHandler(service *services.AdvancedOrderService) *AdvancedOrderHandler {
	return &AdvancedOrderHandler{service: service}
}

// ConditionalOrderRequest carries prices as JSON numbers or strings.
// Limit kinds use limitPrice, stop_loss_sell uses stopPrice.
type ConditionalOrderRequest struct {
	Symbol     string              `json:"symbol" binding:"required"`
	Kind       models.OrderKind    `json:"kind" binding:"required,oneof=limit_buy limit_sell stop_loss_sell"`
	Quantity   int64               `json:"quantity" binding:"required,min=1"`
	LimitPrice decimal.NullDecimal `json:"limitPrice"`
	StopPrice  decimal.NullDecimal `json:"stopPrice"`
}

func (h *AdvancedOrderHandler) CreateOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req ConditionalOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o := &models.Order{
		UserID:     userID,
		Ticker:     req.Symbol,
		Kind:       req.Kind,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	}
	if err := h.service.CreateOrder(c.Request.Context(), o); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "order created",
		"order":   o,
	})
}

// GetOrders lists the user's orders, newest first. ?status=open narrows the
// list to orders still waiting for their trigger.
func (h *AdvancedOrderHandler) GetOrders(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var (
		list []models.Order
		err  error
	)
	switch c.Query("status") {
	case "":
		list, err = h.service.GetUserOrders(c.Request.Context(), userID)
	case string(models.OrderOpen):
		list, err = h.service.GetActiveOrders(c.Request.Context(), userID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status filter supports only \"open\""})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *AdvancedOrderHandler) CancelOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.service.CancelOrder(c.Request.Context(), userID, orderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order canceled"})
}
