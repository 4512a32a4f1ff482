package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
)

const ClaimsKey = "claims"

// Claims is the payload of an admin panel session token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth returns a middleware that accepts only HS256 bearer tokens signed
// with the configured secret whose role is the admin role. The claims are set
// in the context under ClaimsKey.
func AdminAuth(cfg *config.Config) gin.HandlerFunc {
	secret := []byte(cfg.Auth.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("No authentication token provided"))
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

		claims := &Claims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr(msg))
			return
		}
		if claims.Role != cfg.Auth.AdminRole {
			c.AbortWithStatusJSON(http.StatusForbidden, serializer.ForbiddenErr("Admin privileges required"))
			return
		}

		span := trace.SpanFromContext(c.Request.Context())
		if span.SpanContext().IsValid() {
			span.SetAttributes(attribute.String("user_id", claims.UserID))
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
