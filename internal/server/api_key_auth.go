package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/accountcontext"
)

// APIKeyRequired authenticates requests with a bearer API key. The
// owning account becomes both the tenant scope and the audit actor.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := HashAPIKey(parts[1])
		account, err := s.accountSvc.FindByAPIKeyHash(c.Request.Context(), hash)
		if err != nil {
			if errors.Is(err, accountdomain.ErrNotFound) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}

		ctx := accountcontext.WithAccountID(c.Request.Context(), account.ID)
		ctx = accountcontext.WithActorID(ctx, "account:"+account.ID.String())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// HashAPIKey derives the stored lookup hash; the raw key never
// persists.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
