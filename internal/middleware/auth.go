package middleware

import (
	"context"
	"net/http"
	"strings"

	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// TokenVerifier is the external token-verification capability. The service
// never inspects tokens itself; whoever wires the router decides how they
// are checked.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// TokenVerifierFunc adapts a function to the TokenVerifier interface
type TokenVerifierFunc func(ctx context.Context, token string) error

func (f TokenVerifierFunc) Verify(ctx context.Context, token string) error {
	return f(ctx, token)
}

// AuthMiddleware rejects requests whose bearer token the verifier refuses.
// A nil verifier disables authentication (development mode).
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, response.Error("Missing bearer token"))
			c.Abort()
			return
		}

		if err := verifier.Verify(c.Request.Context(), token); err != nil {
			c.JSON(http.StatusUnauthorized, response.Error("Invalid token"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Fallback for clients that cannot set headers
	return c.Query("api_token")
}
