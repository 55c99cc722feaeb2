package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/service"
	"settlement-service/internal/store"
	"settlement-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Settler settles carts and reads orders back
type Settler interface {
	Settle(ctx context.Context, req *service.SettleRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderLine, error)
	Preview(ctx context.Context, userID int64) (*service.Preview, error)
}

// PaymentReconciler handles payment redirects and provider callbacks
type PaymentReconciler interface {
	Confirm(ctx context.Context, params map[string]string, signature string) (*models.Payment, error)
	PaymentURL(ctx context.Context, userID int64, orderID string) (string, error)
}

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orders   Settler
	payments PaymentReconciler
	checks   map[string]ReadinessCheck
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders Settler, payments PaymentReconciler, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		checks:   checks,
		logger:   util.Named("http"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/orders/settlement", h.previewSettlement)
		v1.POST("/orders", h.settleOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/payment", h.paymentURL)
		v1.PUT("/payment/status", h.paymentStatus)
	}
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type settleResponse struct {
	OrderID     string             `json:"order_id"`
	Status      models.OrderStatus `json:"status"`
	TotalCount  int                `json:"total_count"`
	TotalAmount string             `json:"total_amount"`
	Freight     string             `json:"freight"`
}

type previewLine struct {
	SKUID  int64  `json:"sku_id"`
	Name   string `json:"name"`
	Price  string `json:"price"`
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

type previewResponse struct {
	Freight string        `json:"freight"`
	SKUs    []previewLine `json:"skus"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// previewSettlement shows the checkout page contents for the user's selection
func (h *Handler) previewSettlement(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Kind: "precondition_violation", Message: "invalid user_id"})
		return
	}

	preview, err := h.orders.Preview(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := previewResponse{
		Freight: preview.Freight.StringFixed(2),
		SKUs:    make([]previewLine, 0, len(preview.Lines)),
	}
	for _, l := range preview.Lines {
		resp.SKUs = append(resp.SKUs, previewLine{
			SKUID:  l.SKUID,
			Name:   l.Name,
			Price:  l.Price.StringFixed(2),
			Count:  l.Count,
			Amount: l.Amount().StringFixed(2),
		})
	}

	c.JSON(http.StatusOK, resp)
}

// settleOrder turns the user's selected cart entries into an order
func (h *Handler) settleOrder(c *gin.Context) {
	var req service.SettleRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Kind: "precondition_violation", Message: err.Error()})
		return
	}

	order, err := h.orders.Settle(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, settleResponse{
		OrderID:     order.OrderID,
		Status:      order.Status,
		TotalCount:  order.TotalCount,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Freight:     order.Freight.StringFixed(2),
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, lines, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"lines": lines,
	})
}

// paymentURL returns the provider redirect for an unpaid order
func (h *Handler) paymentURL(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Kind: "precondition_violation", Message: "invalid user_id"})
		return
	}

	url, err := h.payments.PaymentURL(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment_url": url})
}

// paymentStatus applies the provider's signed return/notify parameters
func (h *Handler) paymentStatus(c *gin.Context) {
	query := c.Request.URL.Query()
	params := make(map[string]string, len(query))
	for k := range query {
		params[k] = query.Get(k)
	}
	signature := params["sign"]
	delete(params, "sign")

	payment, err := h.payments.Confirm(c.Request.Context(), params, signature)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trade_id": payment.TradeID})
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPreconditionViolation):
		c.JSON(http.StatusBadRequest, errorResponse{Kind: "precondition_violation", Message: err.Error()})
	case errors.Is(err, service.ErrInsufficientStock):
		c.JSON(http.StatusConflict, errorResponse{Kind: "insufficient_stock", Message: err.Error()})
	case errors.Is(err, service.ErrSignatureInvalid):
		c.JSON(http.StatusForbidden, errorResponse{Kind: "signature_invalid", Message: err.Error()})
	case errors.Is(err, service.ErrOrderNotPayable):
		c.JSON(http.StatusBadRequest, errorResponse{Kind: "order_not_payable", Message: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Kind: "not_found", Message: err.Error()})
	case errors.Is(err, service.ErrSettlementFailed):
		c.JSON(http.StatusInternalServerError, errorResponse{Kind: "settlement_failed", Message: err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Kind: "internal", Message: "internal error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
