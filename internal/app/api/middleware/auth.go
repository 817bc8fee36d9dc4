package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/response"
)

const (
	RoleAdmin = "admin"

	HeaderInternalToken = "X-Internal-Token"
)

// Claims are issued by the marketplace auth service. Subject carries the user id.
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role,omitempty"`
}

// ParseToken verifies an HS256 bearer token and returns its claims.
func ParseToken(token string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func abort(c *gin.Context, code response.APIResponseCode, msg string) {
	c.AbortWithStatusJSON(code.HTTPStatus(), response.ErrorT[any](code, msg))
}

// AuthMiddleware requires a valid bearer token and exposes the caller's
// user id and role to handlers and to the request-scoped logger.
func AuthMiddleware(secret []byte, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			abort(c, response.APIResponseCodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := ParseToken(raw, secret)
		if err != nil {
			logctx.FromGin(c, base).Infow("auth_rejected", "error", err.Error())
			abort(c, response.APIResponseCodeUnauthorized, "invalid token")
			return
		}

		c.Set(logctx.KeyUserID, claims.Subject)
		c.Set(logctx.KeyRole, claims.Role)
		ctx := context.WithValue(c.Request.Context(), logctx.KeyUserID, claims.Subject)
		ctx = context.WithValue(ctx, logctx.KeyRole, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		setRequestLogger(c, logctx.FromGin(c, base).With("user_id", claims.Subject))
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != RoleAdmin {
			abort(c, response.APIResponseCodeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

// InternalTokenMiddleware guards service-to-service endpoints. An empty
// configured token rejects every call.
func InternalTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abort(c, response.APIResponseCodeUnauthorized, "invalid internal token")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller, or "".
func UserID(c *gin.Context) string {
	return c.GetString(logctx.KeyUserID)
}

func Role(c *gin.Context) string {
	return c.GetString(logctx.KeyRole)
}
