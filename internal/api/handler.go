package api

import (
	"context"
	"net/http"
	"time"

	"marketplace-orders/internal/auth"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the HTTP layer calls into.
type Services struct {
	Orders    *service.OrderService
	Lifecycle *service.OrderLifecycle
	Payments  *service.PaymentService
	Catalog   *service.CatalogService
	Carts     *service.CartService
	Users     *service.UserService
}

// Handler contains HTTP handlers
type Handler struct {
	svc           Services
	tokens        *auth.TokenIssuer
	webhookSecret string
	readiness     []Pinger
}

// NewHandler creates a new HTTP handler. readiness lists dependencies checked by /ready.
func NewHandler(svc Services, tokens *auth.TokenIssuer, webhookSecret string, readiness ...Pinger) *Handler {
	return &Handler{
		svc:           svc,
		tokens:        tokens,
		webhookSecret: webhookSecret,
		readiness:     readiness,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		// authenticated by shared secret, not by user token
		v1.POST("/payments/callback", h.paymentCallback)
	}

	authed := v1.Group("", authMiddleware(h.tokens))
	{
		authed.POST("/products", requireRole(models.RoleSeller, models.RoleAdmin), h.createProduct)
		authed.PUT("/products/:id/stock", requireRole(models.RoleSeller, models.RoleAdmin), h.setStock)
		authed.DELETE("/products/:id", requireRole(models.RoleSeller, models.RoleAdmin), h.deactivateProduct)

		authed.GET("/cart", h.getCart)
		authed.PUT("/cart/items", h.setCartLine)
		authed.DELETE("/cart/items/:product_id", h.removeCartLine)

		authed.GET("/addresses", h.listAddresses)
		authed.POST("/addresses", h.createAddress)

		authed.POST("/coupons", requireRole(models.RoleAdmin), h.createCoupon)
		authed.POST("/coupons/validate", h.validateCoupon)
		authed.POST("/affiliates", requireRole(models.RoleAdmin), h.createAffiliate)

		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.PUT("/orders/:id", h.transitionOrder)
		authed.GET("/orders/:id/payments", h.listPayments)

		authed.POST("/payments", h.initiatePayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
