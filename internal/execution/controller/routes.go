package controller

import (
	"develevate/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

// RouteOptions configures rate limiting on mutating routes.
type RouteOptions struct {
	Limiter middleware.Limiter
	RunRate middleware.RateLimitPolicy
}

// Register mounts the run endpoints under api.
func (h *RunController) Register(api *gin.RouterGroup, opts RouteOptions) {
	sessions := api.Group("/sessions/:session_id")
	sessions.POST("/runs", middleware.RateLimitMiddleware(opts.Limiter, "run", opts.RunRate), h.Run)
	sessions.GET("/runs", h.History)
	sessions.GET("/state", h.State)
	sessions.GET("/events", h.Events)

	api.GET("/runs/:run_id", h.GetRun)
	api.GET("/languages", h.Languages)
}
