package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ergon.app/erp/internal/http/dto"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

type JobHandler struct {
	jobs service.JobService
}

func NewJobHandler(jobs service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Submit queues a one-time job.
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitJobRequest
	if !bindJSON(c, &req) {
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.Params(actorID(c)))
	if err != nil {
		respondError(c, err, "submit job")
		return
	}

	slog.InfoContext(c.Request.Context(), "job submitted via API", "job_id", job.ID, "handler", job.Handler)
	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) ScheduleCron(c *gin.Context) {
	var req dto.RecurringJobRequest
	if !bindJSON(c, &req) {
		return
	}

	job, err := h.jobs.ScheduleCron(c.Request.Context(), req.Params(actorID(c)))
	if err != nil {
		respondError(c, err, "schedule cron job")
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) ScheduleInterval(c *gin.Context) {
	var req dto.RecurringJobRequest
	if !bindJSON(c, &req) {
		return
	}

	job, err := h.jobs.ScheduleInterval(c.Request.Context(), req.Params(actorID(c)))
	if err != nil {
		respondError(c, err, "schedule interval job")
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get job")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) List(c *gin.Context) {
	var q dto.ListJobsQuery
	if !bindQuery(c, &q) {
		return
	}

	page, err := h.jobs.List(c.Request.Context(), q.Filter(), q.Pagination)
	if err != nil {
		respondError(c, err, "list jobs")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *JobHandler) ListExecutions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var page model.Pagination
	if !bindQuery(c, &page) {
		return
	}

	execs, err := h.jobs.ListExecutions(c.Request.Context(), id, page)
	if err != nil {
		respondError(c, err, "list job executions")
		return
	}
	c.JSON(http.StatusOK, execs)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Cancel(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err, "cancel job")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Retry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Retry(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err, "retry job")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.jobs.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete job")
		return
	}
	c.Status(http.StatusNoContent)
}
