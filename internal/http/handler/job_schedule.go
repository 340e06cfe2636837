package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ergon.app/erp/internal/http/dto"
	"ergon.app/erp/internal/service"
)

type JobScheduleHandler struct {
	schedules service.JobScheduleService
}

func NewJobScheduleHandler(schedules service.JobScheduleService) *JobScheduleHandler {
	return &JobScheduleHandler{schedules: schedules}
}

func (h *JobScheduleHandler) Create(c *gin.Context) {
	var req dto.CreateScheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	sched, err := h.schedules.Create(c.Request.Context(), req.Params(actorID(c)))
	if err != nil {
		respondError(c, err, "create job schedule")
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h *JobScheduleHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sched, err := h.schedules.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get job schedule")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *JobScheduleHandler) List(c *gin.Context) {
	var q dto.ListSchedulesQuery
	if !bindQuery(c, &q) {
		return
	}

	page, err := h.schedules.List(c.Request.Context(), q.Enabled, q.Pagination)
	if err != nil {
		respondError(c, err, "list job schedules")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *JobScheduleHandler) Enable(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sched, err := h.schedules.Enable(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err, "enable job schedule")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *JobScheduleHandler) Disable(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sched, err := h.schedules.Disable(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err, "disable job schedule")
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *JobScheduleHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.schedules.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete job schedule")
		return
	}
	c.Status(http.StatusNoContent)
}
