package unread

import (
	"net/http"

	"chatwave/middleware"
	"chatwave/middleware/security"
	"chatwave/module/unread/model"
	"chatwave/module/unread/service"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler { return &Handler{svc: svc} }

type createReq struct {
	ConversationID int64 `json:"conversation_id" binding:"required"`
	model.Ref
	Recipients []int64 `json:"recipients"`
}

type ackReq struct {
	ConversationID int64 `json:"conversation_id" binding:"required"`
	model.Ref
}

// List GET /api/unread
func (h *Handler) List(c *gin.Context) {
	uid, _ := security.UserID(c)
	entries, err := h.svc.List(c.Request.Context(), uid)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// Create POST /api/unread, the caller is the sender.
func (h *Handler) Create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err)
		return
	}
	uid, _ := security.UserID(c)
	if err := h.svc.Create(c.Request.Context(), uid, req.ConversationID, req.Ref, req.Recipients); err != nil {
		middleware.Fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// Ack POST /api/unread/ack marks one item read, deleting its entry.
func (h *Handler) Ack(c *gin.Context) {
	var req ackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err)
		return
	}
	uid, _ := security.UserID(c)
	if err := h.svc.Acknowledge(c.Request.Context(), uid, req.ConversationID, req.Ref); err != nil {
		middleware.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
