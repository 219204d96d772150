package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/app"
	"contextkeeper/internal/transport/http/response"
)

type ContextHandler struct {
	sessions *app.SessionService
}

func NewContextHandler(sessions *app.SessionService) *ContextHandler {
	return &ContextHandler{sessions: sessions}
}

func (h *ContextHandler) Create(c *gin.Context) {
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	text, ctxType, err := decodeContext(req.Context, req.ContextType)
	if err != nil {
		response.FromError(c, err, "create context failed")
		return
	}
	bucket, err := h.sessions.CreateContext(c.Request.Context(), app.ContextInput{Text: text, Type: ctxType})
	if err != nil {
		response.FromError(c, err, "create context failed")
		return
	}
	response.Created(c, bucket)
}

func (h *ContextHandler) Get(c *gin.Context) {
	bucket, err := h.sessions.GetContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err, "get context failed")
		return
	}
	response.OK(c, bucket)
}

func (h *ContextHandler) Update(c *gin.Context) {
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	text, ctxType, err := decodeContext(req.Context, req.ContextType)
	if err != nil {
		response.FromError(c, err, "update context failed")
		return
	}
	bucket, err := h.sessions.UpdateContext(c.Request.Context(), c.Param("id"), app.ContextInput{
		Text: text,
		Type: ctxType,
		Rev:  req.Rev,
	})
	if err != nil {
		response.FromError(c, err, "update context failed")
		return
	}
	response.OK(c, bucket)
}
