package middleware

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/ErlanBelekov/pwchain/internal/repository"
	"github.com/gin-gonic/gin"
)

// EnsureUser runs after Auth. It upserts the token subject into the users
// table so the workchains FK constraint is always satisfied. Subjects already
// upserted by this process are not written again.
func EnsureUser(repo repository.UserRepository, logger *slog.Logger) gin.HandlerFunc {
	var known sync.Map

	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if _, ok := known.Load(userID); ok {
			c.Next()
			return
		}
		if err := repo.Upsert(c.Request.Context(), userID); err != nil {
			logger.ErrorContext(c.Request.Context(), "ensure user upsert", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "Internal server error"})
			return
		}
		known.Store(userID, struct{}{})
		c.Next()
	}
}
