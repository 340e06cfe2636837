package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
	"ergon.app/erp/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		ctx  context.Context
		svcs *service.Services
		jobs service.JobService
		reg  *worker.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		svcs = openServices(ctx)
		jobs = svcs.Jobs()
		reg = worker.NewRegistry()
		Expect(reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			return payload, nil
		})).To(Succeed())
		Expect(reg.Register("fail", func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("smtp relay refused")
		})).To(Succeed())
		Expect(reg.Register("explode", func(context.Context, json.RawMessage) (json.RawMessage, error) {
			var m map[string]int
			m["boom"]++
			return nil, nil
		})).To(Succeed())
		Expect(reg.Register("block", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})).To(Succeed())
	})

	newWorker := func() *worker.Worker {
		return worker.New(jobs, reg, worker.Config{ID: "w-1", Concurrency: 2, PollInterval: 20 * time.Millisecond})
	}

	submit := func(params service.SubmitJobParams) *model.ScheduledJob {
		job, err := jobs.Submit(ctx, params)
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	executions := func(id uuid.UUID) []model.JobExecution {
		page, err := jobs.ListExecutions(ctx, id, model.Pagination{Page: 1, PerPage: 50})
		Expect(err).NotTo(HaveOccurred())
		return page.Items
	}

	reload := func(id uuid.UUID) *model.ScheduledJob {
		job, err := jobs.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	Describe("RunOnce", func() {
		It("completes a job and stores the handler result", func() {
			job := submit(service.SubmitJobParams{Name: "echo-1", Handler: "echo", Payload: json.RawMessage(`{"n":1}`)})

			n, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			got := reload(job.ID)
			Expect(got.Status).To(Equal(model.JobStatusCompleted))
			Expect(got.SuccessCount).To(Equal(int64(1)))
			Expect(got.LockedBy).To(BeNil())

			execs := executions(job.ID)
			Expect(execs).To(HaveLen(1))
			Expect(execs[0].Status).To(Equal(model.ExecutionStatusCompleted))
			Expect(execs[0].WorkerID).To(HaveValue(Equal("w-1")))
			Expect(execs[0].Result).To(MatchJSON(`{"n":1}`))
		})

		It("records a handler error as a failure", func() {
			job := submit(service.SubmitJobParams{Name: "fail-1", Handler: "fail"})

			_, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			got := reload(job.ID)
			Expect(got.Status).To(Equal(model.JobStatusFailed))
			Expect(got.LastError).To(HaveValue(ContainSubstring("smtp relay refused")))
			execs := executions(job.ID)
			Expect(execs).To(HaveLen(1))
			Expect(execs[0].Status).To(Equal(model.ExecutionStatusFailed))
		})

		It("recovers a panicking handler and keeps its stack", func() {
			job := submit(service.SubmitJobParams{Name: "explode-1", Handler: "explode"})

			_, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(reload(job.ID).Status).To(Equal(model.JobStatusFailed))
			execs := executions(job.ID)
			Expect(execs).To(HaveLen(1))
			Expect(execs[0].ErrorMessage).To(HaveValue(HavePrefix("panic:")))
			Expect(execs[0].ErrorStackTrace).To(HaveValue(ContainSubstring("goroutine")))
		})

		It("marks a run that outlives its timeout", func() {
			job := submit(service.SubmitJobParams{Name: "block-1", Handler: "block", TimeoutSeconds: ptr(int64(1))})

			_, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(reload(job.ID).Status).To(Equal(model.JobStatusFailed))
			execs := executions(job.ID)
			Expect(execs).To(HaveLen(1))
			Expect(execs[0].Status).To(Equal(model.ExecutionStatusTimeout))
			Expect(execs[0].ErrorMessage).To(HaveValue(ContainSubstring("timeout")))
		})

		It("requeues a run cut short by shutdown without spending a retry", func() {
			started := make(chan struct{})
			Expect(reg.Register("gate", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			})).To(Succeed())
			job := submit(service.SubmitJobParams{Name: "gate-1", Handler: "gate", MaxRetries: ptr(0)})

			cctx, cancel := context.WithCancel(ctx)
			w := newWorker()
			errCh := make(chan error, 1)
			go func() {
				_, err := w.RunOnce(cctx)
				errCh <- err
			}()

			Eventually(started).WithTimeout(5 * time.Second).Should(BeClosed())
			cancel()
			Eventually(errCh).WithTimeout(5 * time.Second).Should(Receive(BeNil()))

			stored := reload(job.ID)
			Expect(stored.Status).To(Equal(model.JobStatusPending))
			Expect(stored.FailureCount).To(BeZero())
			Expect(stored.RunCount).To(BeZero())
			Expect(stored.RetryCount).To(BeZero())
			Expect(stored.LockedBy).To(BeNil())

			execs := executions(job.ID)
			Expect(execs).To(HaveLen(1))
			Expect(execs[0].Status).To(Equal(model.ExecutionStatusCancelled))
		})

		It("fails a job whose handler is not registered", func() {
			job := submit(service.SubmitJobParams{Name: "ghost-1", Handler: "ghost"})

			_, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			got := reload(job.ID)
			Expect(got.Status).To(Equal(model.JobStatusFailed))
			Expect(got.LastError).To(HaveValue(ContainSubstring("no handler registered")))
		})

		It("leaves a failed job with retries left pending", func() {
			job := submit(service.SubmitJobParams{Name: "fail-2", Handler: "fail", MaxRetries: ptr(2)})

			_, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			got := reload(job.ID)
			Expect(got.Status).To(Equal(model.JobStatusPending))
			Expect(got.RetryCount).To(Equal(1))
			Expect(got.NextRunAt).NotTo(BeNil())
			Expect(*got.NextRunAt).To(BeTemporally(">", time.Now()))
		})

		It("skips jobs that are not yet due", func() {
			submit(service.SubmitJobParams{Name: "later", Handler: "echo", ScheduledAt: ptr(time.Now().Add(time.Hour))})

			n, err := newWorker().RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
		})
	})

	Describe("Run", func() {
		It("picks up jobs on each poll until stopped", func() {
			w := newWorker()
			go func() {
				defer GinkgoRecover()
				Expect(w.Run(ctx)).To(Succeed())
			}()

			job := submit(service.SubmitJobParams{Name: "echo-2", Handler: "echo"})
			Eventually(func() model.JobStatus {
				return reload(job.ID).Status
			}).WithTimeout(5 * time.Second).Should(Equal(model.JobStatusCompleted))

			w.Stop()
		})

		It("polls as soon as it is woken", func() {
			wake := make(chan struct{}, 1)
			w := worker.New(jobs, reg, worker.Config{ID: "w-2", PollInterval: time.Hour}).WithWakeups(wake)
			go func() {
				defer GinkgoRecover()
				Expect(w.Run(ctx)).To(Succeed())
			}()
			DeferCleanup(w.Stop)

			// Let the first poll pass before submitting.
			time.Sleep(50 * time.Millisecond)
			job := submit(service.SubmitJobParams{Name: "echo-3", Handler: "echo"})
			wake <- struct{}{}

			Eventually(func() model.JobStatus {
				return reload(job.ID).Status
			}).WithTimeout(5 * time.Second).Should(Equal(model.JobStatusCompleted))
		})

		It("returns the context error when cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			w := newWorker()
			errCh := make(chan error, 1)
			go func() { errCh <- w.Run(cctx) }()

			cancel()
			Eventually(errCh).WithTimeout(5 * time.Second).Should(Receive(MatchError(context.Canceled)))
		})
	})

	Describe("with a mocked runner", func() {
		var (
			runner *mockJobRunner
			due    []model.ScheduledJob
		)

		ticketFor := func(job model.ScheduledJob) *service.RunTicket {
			job.Status = model.JobStatusRunning
			return &service.RunTicket{
				Job:       &job,
				Execution: &model.JobExecution{ID: uuid.New(), JobID: job.ID, ExecutionNumber: 1},
				WorkerID:  "w-1",
			}
		}

		BeforeEach(func() {
			due = nil
			for i := 0; i < 3; i++ {
				job := model.ScheduledJob{Handler: "echo", Status: model.JobStatusPending}
				job.ID = uuid.New()
				due = append(due, job)
			}
			runner = &mockJobRunner{
				processDueJobsFn: func(context.Context, int) ([]model.ScheduledJob, error) {
					return due, nil
				},
			}
		})

		It("does not finish a job whose lock it lost", func() {
			w := worker.New(runner, reg, worker.Config{ID: "w-1", Concurrency: 3})

			n, err := w.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))
			Expect(runner.recorded()).To(BeEmpty())
		})

		It("never runs more jobs at once than its concurrency", func() {
			release := make(chan struct{})
			runner.startFn = func(_ context.Context, id uuid.UUID, _ string) (*service.RunTicket, error) {
				<-release
				for _, job := range due {
					if job.ID == id {
						return ticketFor(job), nil
					}
				}
				return nil, nil
			}
			w := worker.New(runner, reg, worker.Config{ID: "w-1", Concurrency: 1})

			done := make(chan int, 1)
			go func() {
				defer GinkgoRecover()
				n, err := w.RunOnce(ctx)
				Expect(err).NotTo(HaveOccurred())
				done <- n
			}()

			Eventually(func() int {
				runner.mu.Lock()
				defer runner.mu.Unlock()
				return runner.started
			}).Should(Equal(1))
			Consistently(func() int {
				runner.mu.Lock()
				defer runner.mu.Unlock()
				return runner.started
			}, 100*time.Millisecond).Should(Equal(1))

			close(release)
			Eventually(done).Should(Receive(Equal(1)))
			Expect(runner.recorded()).To(HaveLen(1))
			Expect(runner.recorded()[0].Success).To(BeTrue())
		})

		It("reports a listing error", func() {
			runner.processDueJobsFn = func(context.Context, int) ([]model.ScheduledJob, error) {
				return nil, errors.New("database is locked")
			}
			w := worker.New(runner, reg, worker.Config{ID: "w-1"})

			_, err := w.RunOnce(ctx)
			Expect(err).To(MatchError(ContainSubstring("database is locked")))
		})

		It("records the run even when Finish sees the worker shutting down", func() {
			cctx, cancel := context.WithCancel(ctx)
			runner.processDueJobsFn = func(context.Context, int) ([]model.ScheduledJob, error) {
				return due[:1], nil
			}
			runner.startFn = func(_ context.Context, _ uuid.UUID, _ string) (*service.RunTicket, error) {
				cancel()
				return ticketFor(due[0]), nil
			}
			var finishErr error
			runner.finishFn = func(fctx context.Context, ticket *service.RunTicket, _ service.RunOutcome) (*model.ScheduledJob, error) {
				finishErr = fctx.Err()
				return ticket.Job, nil
			}
			w := worker.New(runner, reg, worker.Config{ID: "w-1"})

			_, err := w.RunOnce(cctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.recorded()).To(HaveLen(1))
			Expect(finishErr).NotTo(HaveOccurred())
		})
	})
})
