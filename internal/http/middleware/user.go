package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/http/response"
)

const userIDKey = "owner_user_id"

// RequireUser resolves the calling user from the X-User-ID header. Identity
// verification happens upstream; this layer only needs a stable owner id
// for scoping.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("X-User-ID header required"))
			c.Abort()
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusUnauthorized, "invalid_user", fmt.Errorf("X-User-ID must be a uuid"))
			c.Abort()
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserID returns the owner id set by RequireUser.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
