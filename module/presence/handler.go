package presence

import (
	"context"
	"net/http"

	"chatwave/middleware"
	"chatwave/module/presence/model"
	"chatwave/tools/errs"

	"github.com/gin-gonic/gin"
)

const maxLookup = 1000

type Reader interface {
	ReadSeen(ctx context.Context, ids []int64) ([]model.Seen, error)
}

// OnlineCounter reports live session counts per user.
type OnlineCounter interface {
	Online(ctx context.Context, ids []int64) (map[int64]int, error)
}

type Handler struct {
	r      Reader
	online OnlineCounter
}

func NewHandler(r Reader, online OnlineCounter) *Handler { return &Handler{r: r, online: online} }

type lastOnlineReq struct {
	UserIDs []int64 `json:"user_ids"`
}

type onlineItem struct {
	UserID   int64 `json:"user_id"`
	Sessions int   `json:"sessions"`
}

func bindIDs(c *gin.Context) ([]int64, bool) {
	var req lastOnlineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err)
		return nil, false
	}
	if len(req.UserIDs) > maxLookup {
		middleware.Fail(c, errs.ErrMalformedInput.WrapMsg("too many user_ids"))
		return nil, false
	}
	return req.UserIDs, true
}

// LastOnline POST /api/users/last_online
// body {"user_ids":[...]}, reply [{"user_id","last_seen"}] in request order.
func (h *Handler) LastOnline(c *gin.Context) {
	ids, ok := bindIDs(c)
	if !ok {
		return
	}
	seen, err := h.r.ReadSeen(c.Request.Context(), ids)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if seen == nil {
		seen = []model.Seen{}
	}
	c.JSON(http.StatusOK, seen)
}

// Online POST /api/users/online
// body {"user_ids":[...]}, reply [{"user_id","sessions"}] in request order.
func (h *Handler) Online(c *gin.Context) {
	ids, ok := bindIDs(c)
	if !ok {
		return
	}
	counts, err := h.online.Online(c.Request.Context(), ids)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	out := make([]onlineItem, len(ids))
	for i, id := range ids {
		out[i] = onlineItem{UserID: id, Sessions: counts[id]}
	}
	c.JSON(http.StatusOK, out)
}
