package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
)

type MigrationHandler struct {
	svc service.MigrationService
}

func NewMigrationHandler(s service.MigrationService) *MigrationHandler {
	return &MigrationHandler{svc: s}
}

type MigrateAllReq struct {
	Target string `form:"target,default=github_release" json:"target" example:"github_release"`
	Async  bool   `form:"async" json:"async" example:"false"`
}

type EnqueueResp struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	RunID   string          `json:"run_id"`
	Status  model.RunStatus `json:"status"`
}

type MigrateAllResp struct {
	Success bool `json:"success"`
	*service.SweepResult
}

// MigrateAll godoc
//
//	@Summary		Migrate all books
//	@Description	Move every book not yet on target to target. Per-book failures are reported in errors and never abort the sweep. With async=true the sweep is queued and 202 is returned with the run.
//	@Tags			migration
//	@Produce		json
//	@Param			target	query	string	false	"github_release or supabase_storage"	default(github_release)
//	@Param			async	query	boolean	false	"Queue the sweep instead of running it in the request"
//	@Security		BearerAuth
//	@Success		200	{object}	handler.MigrateAllResp
//	@Success		202	{object}	handler.EnqueueResp
//	@Failure		400	{object}	serializer.Response
//	@Router			/books/migrate-all [post]
func (h *MigrationHandler) MigrateAll(c *gin.Context) {
	req := MigrateAllReq{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	target := model.StorageType(req.Target)

	if req.Async {
		run, err := h.svc.Enqueue(c.Request.Context(), target)
		if err != nil {
			respondErr(c, "Migration failed", err)
			return
		}
		c.JSON(http.StatusAccepted, EnqueueResp{
			Success: true,
			Message: "Migration queued",
			RunID:   run.ID.String(),
			Status:  run.Status,
		})
		return
	}

	res, err := h.svc.MigrateAll(c.Request.Context(), target)
	if err != nil {
		respondErr(c, "Migration failed", err)
		return
	}
	c.JSON(http.StatusOK, MigrateAllResp{Success: true, SweepResult: res})
}

// GetRun godoc
//
//	@Summary	Get migration run
//	@Tags		migration
//	@Produce	json
//	@Param		run_id	path	string	true	"Run ID"	Format(uuid)
//	@Security	BearerAuth
//	@Success	200	{object}	serializer.Response{data=model.MigrationRun}
//	@Router		/books/migrations/{run_id} [get]
func (h *MigrationHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid run id", err))
		return
	}
	run, err := h.svc.GetRun(c.Request.Context(), id)
	if err != nil {
		respondErr(c, "Failed to fetch run", err)
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: run})
}
