package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/ai"
	"contextkeeper/internal/bootstrap"
	"contextkeeper/internal/transport/http/response"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports each dependency. Disabled optional dependencies do not fail
// the check.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeStatus := h.checkStore(ctx)
	redisStatus := h.checkRedis(ctx)
	rmqStatus := h.checkRabbitMQ()
	embedderStatus := h.checkEmbedder()

	allOK := storeStatus.OK && redisStatus.OK && rmqStatus.OK && embedderStatus.OK
	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}

	body := gin.H{
		"app":        h.app.Config.App.Name,
		"env":        h.app.Config.App.Env,
		"uptime_sec": int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": gin.H{
			"store":    storeStatus,
			"redis":    redisStatus,
			"rabbitmq": rmqStatus,
			"embedder": embedderStatus,
		},
	}
	if storeStatus.OK {
		if stats, err := h.app.Sessions.Stats(ctx); err == nil {
			body["documents"] = stats
		}
	}
	c.JSON(statusCode, body)
}

func (h *HealthHandler) Stats(c *gin.Context) {
	stats, err := h.app.Sessions.Stats(c.Request.Context())
	if err != nil {
		response.FromError(c, err, "collect stats failed")
		return
	}
	response.OK(c, stats)
}

func (h *HealthHandler) checkStore(ctx context.Context) dependencyStatus {
	sqlDB, err := h.app.DB.DB()
	if err != nil {
		return dependencyStatus{OK: false, Enabled: true, Message: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dependencyStatus{OK: false, Enabled: true, Message: err.Error()}
	}
	return dependencyStatus{OK: true, Enabled: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if h.app.Redis == nil {
		return dependencyStatus{OK: true}
	}
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return dependencyStatus{OK: false, Enabled: true, Message: err.Error()}
	}
	return dependencyStatus{OK: true, Enabled: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if !h.app.Config.RabbitMQ.Enabled {
		return dependencyStatus{OK: true}
	}
	if h.app.MQConn == nil || h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Enabled: true, Message: "connection closed"}
	}
	return dependencyStatus{OK: true, Enabled: true}
}

func (h *HealthHandler) checkEmbedder() dependencyStatus {
	e, err := ai.Shared()
	if err != nil {
		return dependencyStatus{OK: false, Enabled: true, Message: err.Error()}
	}
	return dependencyStatus{OK: true, Enabled: true, Message: e.Model()}
}
