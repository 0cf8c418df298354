package middleware

import (
	"net/http"
	"strings"

	"meetcore/internal/core/services"
	apperrors "meetcore/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ContextSubject = "subject"
	ContextClaims  = "claims"
)

// AuthMiddleware requires a bearer token carrying scope. Failures are recorded on the
// gin context and rendered by ErrorHandlerMiddleware.
func AuthMiddleware(authService services.AuthService, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abort(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abort(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}
		if scope != "" && !claims.HasScope(scope) {
			abort(c, apperrors.NewForbiddenError("token lacks scope "+scope))
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

func abort(c *gin.Context, err *apperrors.AppError) {
	_ = c.Error(err)
	c.Abort()
}
