package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
)

// IntentSweeper removes binaries orphaned by interrupted uploads.
// *service.Reconciler satisfies it.
type IntentSweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (*service.ReconcileResult, error)
}

type AdminHandler struct {
	sweeper   IntentSweeper
	olderThan time.Duration
}

func NewAdminHandler(s IntentSweeper, olderThan time.Duration) *AdminHandler {
	return &AdminHandler{sweeper: s, olderThan: olderThan}
}

type ReconcileReq struct {
	OlderThan string `form:"older_than" json:"older_than" example:"1h"`
}

// Reconcile godoc
//
//	@Summary		Reconcile upload intents
//	@Description	Delete stored binaries of uploads that never got a book record
//	@Tags			admin
//	@Produce		json
//	@Param			older_than	query	string	false	"Only intents older than this duration, e.g. 30m"
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=service.ReconcileResult}
//	@Router			/admin/reconcile [post]
func (h *AdminHandler) Reconcile(c *gin.Context) {
	req := ReconcileReq{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	olderThan := h.olderThan
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid older_than", err))
			return
		}
		olderThan = d
	}

	res, err := h.sweeper.Sweep(c.Request.Context(), olderThan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: res})
}
