package api

import (
	"net/http"

	"marketplace-orders/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder checks out the caller's cart
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	actor := actorFrom(c)
	details, created, err := h.svc.Orders.CreateOrder(c.Request.Context(), actor.UserID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, details)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	details, err := h.svc.Orders.GetOrder(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// transitionOrder handles PUT /orders/:id
func (h *Handler) transitionOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	order, err := h.svc.Lifecycle.Transition(c.Request.Context(), actorFrom(c), orderID, req.Status, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
