package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PublicViewRateLimit throttles the unauthenticated invoice routes
// per client IP.
func (s *Server) PublicViewRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.publicLimiter == nil {
			c.Next()
			return
		}

		allowed, err := s.publicLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("public view rate limit check failed", zap.Error(err))
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

func (s *Server) GetPublicInvoice(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))

	resp, err := s.publicInvoiceSvc.GetByToken(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPublicInvoicePDF(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))

	reader, filename, err := s.publicInvoiceSvc.RenderPDF(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		s.log.Warn("stream invoice pdf", zap.Error(err))
	}
}
