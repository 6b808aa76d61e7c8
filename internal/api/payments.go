package api

import (
	"crypto/subtle"
	"io"
	"net/http"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/service"

	"github.com/gin-gonic/gin"
)

const webhookSecretHeader = "X-Webhook-Secret"

type initiatePaymentRequest struct {
	OrderID int64 `json:"order_id" binding:"required,gt=0"`
}

// initiatePayment requests a new charge for an order awaiting payment
func (h *Handler) initiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}
	order, err := h.svc.Payments.Initiate(c.Request.Context(), actorFrom(c), req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"order_id": order.ID,
		"status":   "payment_requested",
	})
}

func (h *Handler) listPayments(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	payments, err := h.svc.Payments.ListPayments(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// paymentCallback receives gateway settlements
func (h *Handler) paymentCallback(c *gin.Context) {
	secret := c.GetHeader(webhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		respondError(c, apperr.Unauthenticated("invalid webhook secret"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		badRequest(c, "failed to read body", err)
		return
	}
	req, err := service.ParseCallback(body)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Outcome == service.OutcomePending {
		c.JSON(http.StatusAccepted, gin.H{"applied": false})
		return
	}

	result, err := h.svc.Payments.Settle(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
