package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/pwchain/internal/repository"
	"github.com/ErlanBelekov/pwchain/internal/transport/http/handler"
	"github.com/ErlanBelekov/pwchain/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, workchainHandler *handler.WorkchainHandler, parseHandler *handler.ParseHandler, userRepo repository.UserRepository, authMW gin.HandlerFunc, hsts bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security(hsts))
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	ensureUser := middleware.EnsureUser(userRepo, logger)

	workchains := r.Group("/workchains", authMW, ensureUser)
	workchains.GET("", workchainHandler.List)
	workchains.POST("", workchainHandler.Create)
	workchains.GET("/:id", workchainHandler.GetByID)
	workchains.GET("/:id/attempts", workchainHandler.ListAttempts)

	// Stateless decoding of an uploaded data-file-schema.xml.
	r.POST("/parse", authMW, parseHandler.Parse)

	return r
}
