package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookRateLimit throttles processor callbacks per provider and
// source IP. A denied delivery gets 429, which processors retry with
// backoff.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhookLimiter == nil {
			c.Next()
			return
		}

		allowed, err := s.webhookLimiter.Allow(c.Request.Context(), c.Param("provider"), c.ClientIP())
		if err != nil {
			s.log.Warn("webhook rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		c.Next()
	}
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
