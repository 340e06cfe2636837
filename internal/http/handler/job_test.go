package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/internal/http/handler"
	"ergon.app/erp/internal/http/middleware"
	httprouter "ergon.app/erp/internal/http/router"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

var _ = Describe("JobHandler", func() {
	var (
		router *gin.Engine
		svc    *mockJobService
		actor  uuid.UUID
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		router.Use(middleware.Actor(""))
		svc = &mockJobService{}
		actor = uuid.New()
		httprouter.JobRouter(router.Group("/jobs"), handler.NewJobHandler(svc))
	})

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.ActorHeader, actor.String())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	errorOf := func(w *httptest.ResponseRecorder) string {
		var resp map[string]string
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp["error"]
	}

	Describe("Submit", func() {
		It("returns 201 with the created job", func() {
			var got service.SubmitJobParams
			svc.submitFn = func(_ context.Context, params service.SubmitJobParams) (*model.ScheduledJob, error) {
				got = params
				job := &model.ScheduledJob{Name: params.Name, Handler: params.Handler, Status: model.JobStatusPending}
				job.ID = uuid.New()
				return job, nil
			}

			w := do(http.MethodPost, "/jobs", map[string]any{
				"name":     "send-invoice-42",
				"handler":  "send_email",
				"priority": "high",
				"payload":  map[string]int{"invoice": 42},
			})

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(got.Priority).To(Equal(model.JobPriorityHigh))
			Expect(got.CreatedBy).To(HaveValue(Equal(actor)))
			Expect(got.Payload).To(MatchJSON(`{"invoice":42}`))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("Pending"))
		})

		It("returns 400 when the handler is missing", func() {
			w := do(http.MethodPost, "/jobs", map[string]any{"name": "x"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps a validation error to 400 with its message", func() {
			svc.submitFn = func(context.Context, service.SubmitJobParams) (*model.ScheduledJob, error) {
				return nil, apperr.Validation("payload must be valid JSON")
			}
			w := do(http.MethodPost, "/jobs", map[string]any{"name": "x", "handler": "y"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(w)).To(Equal("payload must be valid JSON"))
		})

		It("maps a name collision to 409", func() {
			svc.submitFn = func(context.Context, service.SubmitJobParams) (*model.ScheduledJob, error) {
				return nil, apperr.Conflict("job %q already exists", "x")
			}
			w := do(http.MethodPost, "/jobs", map[string]any{"name": "x", "handler": "y"})
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("hides database failures behind a generic 500", func() {
			svc.submitFn = func(context.Context, service.SubmitJobParams) (*model.ScheduledJob, error) {
				return nil, apperr.Database("inserting job", errors.New("disk I/O error"))
			}
			w := do(http.MethodPost, "/jobs", map[string]any{"name": "x", "handler": "y"})
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(w)).To(Equal("failed to submit job"))
		})
	})

	Describe("ScheduleCron", func() {
		It("passes the expression through", func() {
			var got service.RecurringJobParams
			svc.scheduleCronFn = func(_ context.Context, params service.RecurringJobParams) (*model.ScheduledJob, error) {
				got = params
				return &model.ScheduledJob{Name: params.Name}, nil
			}

			w := do(http.MethodPost, "/jobs/cron", map[string]any{
				"name":            "nightly",
				"handler":         "reports.build",
				"cron_expression": "0 0 2 * * *",
			})
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(got.CronExpression).To(Equal("0 0 2 * * *"))
		})
	})

	Describe("Get", func() {
		It("returns 400 for a malformed id", func() {
			w := do(http.MethodGet, "/jobs/not-a-uuid", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 when the job does not exist", func() {
			id := uuid.New()
			svc.getFn = func(context.Context, uuid.UUID) (*model.ScheduledJob, error) {
				return nil, apperr.NotFound("job", id.String())
			}
			w := do(http.MethodGet, "/jobs/"+id.String(), nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(errorOf(w)).To(ContainSubstring("not found"))
		})
	})

	Describe("List", func() {
		It("binds status, handler and paging from the query", func() {
			var (
				gotFilter model.JobFilter
				gotPage   model.Pagination
			)
			svc.listFn = func(_ context.Context, filter model.JobFilter, page model.Pagination) (model.Paginated[model.ScheduledJob], error) {
				gotFilter, gotPage = filter, page
				return model.Paginated[model.ScheduledJob]{Items: []model.ScheduledJob{}, Page: page.Page, PerPage: page.PerPage}, nil
			}

			w := do(http.MethodGet, "/jobs?status=failed&handler=send_email&page=2&per_page=5", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotFilter.Status).To(HaveValue(Equal(model.JobStatusFailed)))
			Expect(gotFilter.Handler).To(HaveValue(Equal("send_email")))
			Expect(gotPage).To(Equal(model.Pagination{Page: 2, PerPage: 5}))
		})

		It("rejects a non-numeric page", func() {
			w := do(http.MethodGet, "/jobs?page=two", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Cancel", func() {
		It("refuses a running job with 400", func() {
			svc.cancelFn = func(context.Context, uuid.UUID, *uuid.UUID) (*model.ScheduledJob, error) {
				return nil, apperr.Validation("job x is running and cannot be cancelled")
			}
			w := do(http.MethodPost, "/jobs/"+uuid.NewString()+"/cancel", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Delete", func() {
		It("returns 204", func() {
			w := do(http.MethodDelete, "/jobs/"+uuid.NewString(), nil)
			Expect(w.Code).To(Equal(http.StatusNoContent))
		})
	})
})
