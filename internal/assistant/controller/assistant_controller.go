package controller

import (
	"develevate/internal/assistant/service"
	"develevate/internal/common/http/middleware"
	"develevate/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AssistantController handles assistant HTTP endpoints.
type AssistantController struct {
	svc *service.Service
}

// NewAssistantController creates a new AssistantController.
func NewAssistantController(svc *service.Service) *AssistantController {
	return &AssistantController{svc: svc}
}

// MessageRequest defines the chat payload.
type MessageRequest struct {
	Messages []service.Message `json:"messages"`
}

// MessageResponse carries the assistant reply.
type MessageResponse struct {
	Message string `json:"message"`
}

// SendMessage relays one conversation turn.
func (h *AssistantController) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Messages array is required")
		return
	}
	reply, err := h.svc.SendMessage(c.Request.Context(), c.Param("session_id"), req.Messages)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, MessageResponse{Message: reply})
}

// Health verifies the upstream credential.
func (h *AssistantController) Health(c *gin.Context) {
	if err := h.svc.Verify(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// Register mounts the assistant endpoints under api.
func (h *AssistantController) Register(api *gin.RouterGroup, limiter middleware.Limiter, policy middleware.RateLimitPolicy) {
	group := api.Group("/assistant")
	group.POST("/sessions/:session_id/messages", middleware.RateLimitMiddleware(limiter, "assistant", policy), h.SendMessage)
	group.GET("/health", h.Health)
}
