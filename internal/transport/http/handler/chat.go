package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/app"
	"contextkeeper/internal/transport/http/response"
)

type ChatHandler struct {
	sessions *app.SessionService
}

type AppendChatRequest struct {
	Prompt       string   `json:"prompt"`
	Response     string   `json:"response"`
	ResponseTime int64    `json:"response_time"`
	TokensUsed   *int     `json:"tokens_used"`
	Sources      []string `json:"sources"`
}

func NewChatHandler(sessions *app.SessionService) *ChatHandler {
	return &ChatHandler{sessions: sessions}
}

func (h *ChatHandler) Append(c *gin.Context) {
	var req AppendChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	entry, err := h.sessions.AppendChat(c.Request.Context(), app.AppendChatInput{
		SessionID:  c.Param("id"),
		Prompt:     req.Prompt,
		Response:   req.Response,
		LatencyMs:  req.ResponseTime,
		TokensUsed: req.TokensUsed,
		Sources:    req.Sources,
	})
	if err != nil {
		response.FromError(c, err, "append chat failed")
		return
	}
	response.Created(c, entry)
}

func (h *ChatHandler) List(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		response.FromError(c, err, "list chats failed")
		return
	}
	entries, err := h.sessions.ListChats(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		response.FromError(c, err, "list chats failed")
		return
	}
	response.OK(c, entries)
}

func (h *ChatHandler) Get(c *gin.Context) {
	entry, err := h.sessions.GetChat(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		response.FromError(c, err, "get chat failed")
		return
	}
	response.OK(c, entry)
}
