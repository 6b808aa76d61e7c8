package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-orders/internal/apperr"
	"marketplace-orders/internal/auth"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor"

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// authMiddleware requires a valid bearer token and stores the caller's Actor.
func authMiddleware(tokens *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == header {
			respondError(c, apperr.Unauthenticated("missing bearer token"))
			c.Abort()
			return
		}

		claims, err := tokens.Parse(token)
		if err != nil {
			respondError(c, apperr.Unauthenticated("invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(actorKey, service.Actor{UserID: claims.UserID, Role: claims.Role})
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{}
}

// requireRole lets only the given roles through.
func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		respondError(c, apperr.PermissionDenied("insufficient role"))
		c.Abort()
	}
}

type errorBody struct {
	Kind    apperr.Kind            `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError maps err to its HTTP status. Causes of internal errors are
// logged, never returned.
func respondError(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind == apperr.KindInternal {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Kind:    apperr.KindInternal,
			Message: "internal server error",
		}})
		return
	}

	c.JSON(apperr.HTTPStatus(ae.Kind), gin.H{"error": errorBody{
		Kind:    ae.Kind,
		Message: ae.Message,
		Details: ae.Details,
	}})
}

func badRequest(c *gin.Context, msg string, err error) {
	e := apperr.Validation(msg)
	if err != nil {
		e = e.WithDetail("cause", err.Error())
	}
	respondError(c, e)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name, nil)
		return 0, false
	}
	return id, true
}
