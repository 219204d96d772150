package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/app"
	"contextkeeper/internal/transport/http/response"
)

type SessionHandler struct {
	sessions *app.SessionService
}

type CreateSessionRequest struct {
	Name        string          `json:"session_name" binding:"max=256"`
	Workspace   string          `json:"workspace_slug" binding:"max=128"`
	Context     json.RawMessage `json:"context"`
	ContextType string          `json:"context_type" binding:"max=64"`
}

type RenameSessionRequest struct {
	Name string `json:"session_name" binding:"required,max=256"`
	Rev  int64  `json:"rev"`
}

type ContextRequest struct {
	Context     json.RawMessage `json:"context"`
	ContextType string          `json:"context_type" binding:"max=64"`
	Rev         int64           `json:"rev"`
}

type AttachContextRequest struct {
	ContextID string `json:"context_id" binding:"required"`
}

func NewSessionHandler(sessions *app.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	text, ctxType, err := decodeContext(req.Context, req.ContextType)
	if err != nil {
		response.FromError(c, err, "create session failed")
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), app.CreateSessionInput{
		Name:           req.Name,
		Workspace:      req.Workspace,
		InitialContext: text,
		ContextType:    ctxType,
	})
	if err != nil {
		response.FromError(c, err, "create session failed")
		return
	}
	response.Created(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		response.FromError(c, err, "list sessions failed")
		return
	}
	sessions, err := h.sessions.ListSessions(c.Request.Context(), app.ListSessionsInput{
		Workspace: c.Query("workspace"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		response.FromError(c, err, "list sessions failed")
		return
	}
	response.OK(c, sessions)
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err, "get session failed")
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) Rename(c *gin.Context) {
	var req RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	session, err := h.sessions.RenameSession(c.Request.Context(), c.Param("id"), req.Name, req.Rev)
	if err != nil {
		response.FromError(c, err, "rename session failed")
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		response.FromError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted": c.Param("id")})
}

func (h *SessionHandler) GetContext(c *gin.Context) {
	bucket, err := h.sessions.ContextForSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err, "get session context failed")
		return
	}
	if bucket == nil {
		response.OK(c, gin.H{"context": ""})
		return
	}
	response.OK(c, bucket)
}

func (h *SessionHandler) PutContext(c *gin.Context) {
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	text, ctxType, err := decodeContext(req.Context, req.ContextType)
	if err != nil {
		response.FromError(c, err, "set session context failed")
		return
	}
	bucket, err := h.sessions.SetContextForSession(c.Request.Context(), c.Param("id"), app.ContextInput{
		Text: text,
		Type: ctxType,
		Rev:  req.Rev,
	})
	if err != nil {
		response.FromError(c, err, "set session context failed")
		return
	}
	response.OK(c, bucket)
}

func (h *SessionHandler) AttachContext(c *gin.Context) {
	var req AttachContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	session, err := h.sessions.AttachContext(c.Request.Context(), c.Param("id"), req.ContextID)
	if err != nil {
		response.FromError(c, err, "attach context failed")
		return
	}
	response.OK(c, session)
}
