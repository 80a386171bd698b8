package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/orgstack/hrms/internal/models"
)

const ActorIDKey = "actorID"

// ActorIdentity extracts the acting identity from a bearer token issued by
// the external auth collaborator. Requests without a valid token act as the
// SYSTEM sentinel; authorization itself is not this service's concern.
func ActorIdentity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ActorIDKey, resolveActor(c, secret))
		c.Next()
	}
}

func resolveActor(c *gin.Context, secret string) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return models.SystemActor
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	if secret == "" {
		return models.SystemActor
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return models.SystemActor
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return models.SystemActor
	}
	return sub
}

// GetActorID returns the resolved actor identity for the request.
func GetActorID(c *gin.Context) string {
	if v, ok := c.Get(ActorIDKey); ok {
		if actor, ok := v.(string); ok && actor != "" {
			return actor
		}
	}
	return models.SystemActor
}
