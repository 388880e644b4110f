package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stock-simulator/internal/models"
	"stock-simulator/internal/services"
)

type MarketHandler struct {
	marketService *services.MarketDataService
}

func NewMarketHandler(marketService *services.MarketDataService) *MarketHandler {
	return &MarketHandler{marketService: marketService}
}

func (h *MarketHandler) GetStockPrice(c *gin.Context) {
	symbol := models.NormalizeTicker(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	stock, err := h.marketService.GetStockPrice(c.Request.Context(), symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}
