package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyUserID = "auth_user_id"
	contextKeyRole   = "auth_role"
	roleAdmin        = "admin"
)

// authMiddleware validates an HS256 bearer token and stores the subject and
// role claims on the request context.
func authMiddleware(signingKey []byte) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return signingKey, nil
		})
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token has no subject"))
			return
		}
		role, _ := claims["role"].(string)

		ctx.Set(contextKeyUserID, subject)
		ctx.Set(contextKeyRole, role)
		ctx.Next()
	}
}

// requireAdmin gates operator-only routes.
func requireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetString(contextKeyRole) != roleAdmin {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
			return
		}
		ctx.Next()
	}
}

func authenticatedUserID(ctx *gin.Context) string {
	return ctx.GetString(contextKeyUserID)
}
