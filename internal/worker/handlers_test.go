package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ergon.app/erp/core/config"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
	"ergon.app/erp/internal/worker"
)

var _ = Describe("Built-in handlers", func() {
	var (
		ctx      context.Context
		svcs     *service.Services
		reg      *worker.Registry
		notifier *mockNotifier
		deadline time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		svcs = openServices(ctx)
		reg = worker.NewRegistry()
		notifier = &mockNotifier{}
		deadline = time.Now().Add(time.Minute)
		Expect(worker.RegisterBuiltins(reg, svcs, notifier)).To(Succeed())
	})

	It("registers every built-in once", func() {
		Expect(reg.Names()).To(Equal([]string{
			worker.HandlerEscalateApprovals,
			worker.HandlerTriggerSchedules,
			worker.HandlerSendNotification,
		}))
		Expect(worker.RegisterBuiltins(reg, svcs, notifier)).To(MatchError(ContainSubstring("already registered")))
	})

	It("reports how many approvals were escalated", func() {
		out, err := reg.Invoke(ctx, worker.HandlerEscalateApprovals, nil, deadline)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchJSON(`{"escalated":0}`))
	})

	It("reports how many schedule jobs were created", func() {
		out, err := reg.Invoke(ctx, worker.HandlerTriggerSchedules, nil, deadline)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchJSON(`{"created":0}`))
	})

	Describe("notification.send", func() {
		var payload model.Notification

		BeforeEach(func() {
			payload = model.Notification{
				Kind:           model.NotificationApprovalRequested,
				RecipientID:    uuid.New(),
				RequestID:      uuid.New(),
				RequestNumber:  "APR-1",
				DocumentType:   "purchase_order",
				DocumentNumber: "PO-7",
				LevelNumber:    1,
			}
		})

		encode := func(n model.Notification) json.RawMessage {
			b, err := json.Marshal(n)
			Expect(err).NotTo(HaveOccurred())
			return b
		}

		It("delivers the decoded notification", func() {
			out, err := reg.Invoke(ctx, worker.HandlerSendNotification, encode(payload), deadline)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(MatchJSON(`{"delivered":true}`))
			Expect(notifier.sent).To(ConsistOf(payload))
		})

		It("rejects a payload without a recipient", func() {
			payload.RecipientID = uuid.Nil
			_, err := reg.Invoke(ctx, worker.HandlerSendNotification, encode(payload), deadline)
			Expect(err).To(MatchError(ContainSubstring("recipient is required")))
			Expect(notifier.sent).To(BeEmpty())
		})

		It("rejects malformed JSON", func() {
			_, err := reg.Invoke(ctx, worker.HandlerSendNotification, json.RawMessage(`{"kind":`), deadline)
			Expect(err).To(MatchError(ContainSubstring("decoding notification")))
		})

		It("surfaces a delivery failure so the job retries", func() {
			notifier.notifyFn = func(context.Context, model.Notification) error {
				return errors.New("mailbox full")
			}
			_, err := reg.Invoke(ctx, worker.HandlerSendNotification, encode(payload), deadline)
			Expect(err).To(MatchError(ContainSubstring("mailbox full")))
		})
	})

	Describe("EnsureSystemJobs", func() {
		var cfg config.Config

		BeforeEach(func() {
			cfg = config.Config{
				Scheduler: config.SchedulerConfig{TriggerCron: "0 * * * * *"},
				Approval:  config.ApprovalConfig{EscalationCron: "0 */15 * * * *"},
			}
		})

		systemJobs := func() []model.ScheduledJob {
			page, err := svcs.Jobs().List(ctx, model.JobFilter{}, model.Pagination{Page: 1, PerPage: 50})
			Expect(err).NotTo(HaveOccurred())
			return page.Items
		}

		It("creates the recurring jobs once", func() {
			Expect(worker.EnsureSystemJobs(ctx, svcs.Jobs(), cfg)).To(Succeed())
			Expect(worker.EnsureSystemJobs(ctx, svcs.Jobs(), cfg)).To(Succeed())

			jobs := systemJobs()
			Expect(jobs).To(HaveLen(2))
			for _, job := range jobs {
				Expect(job.JobType).To(Equal(model.JobTypeCron))
				Expect(job.Status).To(Equal(model.JobStatusScheduled))
				Expect(job.NextRunAt).NotTo(BeNil())
			}
		})

		It("skips a job whose cron is empty", func() {
			cfg.Approval.EscalationCron = ""
			Expect(worker.EnsureSystemJobs(ctx, svcs.Jobs(), cfg)).To(Succeed())

			jobs := systemJobs()
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Handler).To(Equal(worker.HandlerTriggerSchedules))
		})

		It("rejects an invalid cron expression", func() {
			cfg.Scheduler.TriggerCron = "every minute"
			Expect(worker.EnsureSystemJobs(ctx, svcs.Jobs(), cfg)).To(HaveOccurred())
		})
	})
})
