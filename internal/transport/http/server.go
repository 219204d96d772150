package http

import (
	"github.com/gin-gonic/gin"

	"contextkeeper/internal/bootstrap"
	"contextkeeper/internal/transport/http/handler"
	"contextkeeper/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger.Named("http")), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	sessionHandler := handler.NewSessionHandler(app.Sessions)
	contextHandler := handler.NewContextHandler(app.Sessions)
	chatHandler := handler.NewChatHandler(app.Sessions)
	driftHandler := handler.NewDriftHandler(app.Drift, app.DriftTimeout())

	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	if app.Config.Auth.JWTSecret != "" {
		v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	}

	sessions := v1.Group("/sessions")
	sessions.POST("", sessionHandler.Create)
	sessions.GET("", sessionHandler.List)
	sessions.GET("/:id", sessionHandler.Get)
	sessions.PATCH("/:id", sessionHandler.Rename)
	sessions.DELETE("/:id", sessionHandler.Delete)
	sessions.GET("/:id/context", sessionHandler.GetContext)
	sessions.PUT("/:id/context", sessionHandler.PutContext)
	sessions.POST("/:id/context/attach", sessionHandler.AttachContext)
	sessions.POST("/:id/chats", chatHandler.Append)
	sessions.GET("/:id/chats", chatHandler.List)
	sessions.GET("/:id/degradation", driftHandler.Degradation)
	sessions.GET("/:id/drift", driftHandler.Report)

	contexts := v1.Group("/contexts")
	contexts.POST("", contextHandler.Create)
	contexts.GET("/:id", contextHandler.Get)
	contexts.PUT("/:id", contextHandler.Update)

	v1.GET("/chats/:chat_id", chatHandler.Get)
	v1.GET("/stats", healthHandler.Stats)

	return router
}
