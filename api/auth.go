package api

import (
	"net/http"
	"strings"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Claims are the access token claims: the subject is the user id.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates an HS256 bearer token and stores the caller as the
// request actor.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Message: "missing bearer token"})
			return
		}

		var claims Claims
		tok, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized", Message: "invalid token"})
			return
		}

		role := claims.Role
		if role == "" {
			role = domain.RoleCustomer
		}
		c.Set(actorKey, domain.Actor{ID: claims.Subject, Role: role})
		c.Next()
	}
}

func actorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{}
}
