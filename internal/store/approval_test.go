package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/core/db"
	"ergon.app/erp/core/db/dbtest"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/store"
)

var _ = Describe("Approval stores", func() {
	var (
		ctx       context.Context
		database  *db.DB
		workflows store.ApprovalWorkflowStore
		requests  store.ApprovalRequestStore
		now       time.Time
		u1, u2    uuid.UUID
		u3, boss  uuid.UUID
	)

	newWorkflow := func(code string, minAmount *int64, createdAt time.Time) *model.ApprovalWorkflow {
		return &model.ApprovalWorkflow{
			Audit:        model.NewAudit(createdAt, nil),
			Code:         code,
			Name:         "Expense approval " + code,
			DocumentType: "expense",
			ApprovalType: model.ApprovalTypeSequential,
			MinAmount:    minAmount,
			Status:       model.StatusActive,
			Levels: []model.ApprovalLevel{
				{LevelNumber: 1, Name: "Manager", ApproverType: model.ApproverTypeSpecificUser,
					ApproverIDs: []uuid.UUID{u1, u2}, MinApprovers: 1, DueHours: ptr(24)},
				{LevelNumber: 2, Name: "Finance", ApproverType: model.ApproverTypeRole,
					ApproverIDs: []uuid.UUID{u3}, MinApprovers: 1, EscalationTo: &boss},
			},
		}
	}

	newRequest := func(wf *model.ApprovalWorkflow, level int, status model.ApprovalRequestStatus) *model.ApprovalRequest {
		return &model.ApprovalRequest{
			Audit:          model.NewAudit(now, nil),
			RequestNumber:  "APR-" + uuid.NewString()[:8],
			WorkflowID:     wf.ID,
			DocumentType:   wf.DocumentType,
			DocumentID:     uuid.New(),
			DocumentNumber: "EXP-001",
			RequestedBy:    uuid.New(),
			RequestedAt:    now,
			Amount:         50000,
			Currency:       model.CurrencyUSD,
			Status:         status,
			CurrentLevel:   &level,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		database, err = dbtest.Open(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(database.Close)

		stores := store.NewStores(database.Queries())
		workflows = stores.ApprovalWorkflows()
		requests = stores.ApprovalRequests()
		now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
		u1, u2, u3, boss = uuid.New(), uuid.New(), uuid.New(), uuid.New()
	})

	Describe("ApprovalWorkflowStore", func() {
		It("stores levels with ordered approvers", func() {
			wf := newWorkflow("EXP", nil, now)
			Expect(workflows.Create(ctx, wf)).To(Succeed())

			got, err := workflows.GetByCode(ctx, "EXP")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(BeEquivalentTo(1))
			Expect(got.Levels).To(HaveLen(2))
			Expect(got.Levels[0].ApproverIDs).To(Equal([]uuid.UUID{u1, u2}))
			Expect(*got.Levels[0].DueHours).To(Equal(24))
			Expect(got.Levels[1].ApproverType).To(Equal(model.ApproverTypeRole))
			Expect(*got.Levels[1].EscalationTo).To(Equal(boss))
		})

		It("rejects duplicate codes", func() {
			Expect(workflows.Create(ctx, newWorkflow("EXP", nil, now))).To(Succeed())
			Expect(workflows.Create(ctx, newWorkflow("EXP", nil, now))).To(MatchError(apperr.ErrConflict))
		})

		It("bumps the version and detects stale writers", func() {
			wf := newWorkflow("EXP", nil, now)
			Expect(workflows.Create(ctx, wf)).To(Succeed())

			stale, err := workflows.GetByID(ctx, wf.ID)
			Expect(err).NotTo(HaveOccurred())

			wf.Levels = wf.Levels[:1]
			Expect(workflows.Update(ctx, wf)).To(Succeed())
			Expect(wf.Version).To(BeEquivalentTo(2))

			got, err := workflows.GetByID(ctx, wf.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Levels).To(HaveLen(1))

			stale.Name = "lost update"
			Expect(workflows.Update(ctx, stale)).To(MatchError(apperr.ErrConflict))
		})

		It("prefers the highest lower bound, then the oldest workflow", func() {
			low, high := int64(0), int64(10000)
			Expect(workflows.Create(ctx, newWorkflow("ANY", nil, now))).To(Succeed())
			Expect(workflows.Create(ctx, newWorkflow("LOW", &low, now))).To(Succeed())
			older := newWorkflow("HIGH-OLD", &high, now.Add(-time.Hour))
			Expect(workflows.Create(ctx, older)).To(Succeed())
			Expect(workflows.Create(ctx, newWorkflow("HIGH-NEW", &high, now))).To(Succeed())

			got, err := workflows.FindFor(ctx, "expense", 50000)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Code).To(Equal("HIGH-OLD"))

			got, err = workflows.FindFor(ctx, "expense", 500)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Code).To(Equal("LOW"))

			_, err = workflows.FindFor(ctx, "invoice", 500)
			Expect(err).To(MatchError(apperr.ErrNotFound))
		})

		It("counts requests by status", func() {
			wf := newWorkflow("EXP", nil, now)
			Expect(workflows.Create(ctx, wf)).To(Succeed())
			Expect(requests.Create(ctx, newRequest(wf, 1, model.ApprovalStatusPending))).To(Succeed())
			done := newRequest(wf, 1, model.ApprovalStatusApproved)
			done.CurrentLevel = nil
			Expect(requests.Create(ctx, done)).To(Succeed())

			open, err := workflows.CountRequests(ctx, wf.ID, model.OpenApprovalStatuses...)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(BeEquivalentTo(1))

			all, err := workflows.CountRequests(ctx, wf.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEquivalentTo(2))
		})
	})

	Describe("ApprovalRequestStore", func() {
		var wf *model.ApprovalWorkflow

		BeforeEach(func() {
			wf = newWorkflow("EXP", nil, now)
			Expect(workflows.Create(ctx, wf)).To(Succeed())
		})

		It("appends actions in sequence order", func() {
			req := newRequest(wf, 1, model.ApprovalStatusPending)
			Expect(requests.Create(ctx, req)).To(Succeed())

			for _, who := range []uuid.UUID{u1, u2, u1} {
				Expect(requests.AddAction(ctx, &model.ApprovalAction{
					RequestID:   req.ID,
					LevelNumber: 1,
					ApproverID:  who,
					Action:      model.ApprovalActionApprove,
					CreatedAt:   now,
				})).To(Succeed())
			}

			got, err := requests.GetByNumber(ctx, req.RequestNumber)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Actions).To(HaveLen(3))
			for i, a := range got.Actions {
				Expect(a.Sequence).To(Equal(i + 1))
			}
			Expect(got.Actions[2].ApproverID).To(Equal(u1))
		})

		It("finds pending work for listed approvers, delegates and escalation targets", func() {
			atLevel1 := newRequest(wf, 1, model.ApprovalStatusPending)
			Expect(requests.Create(ctx, atLevel1)).To(Succeed())
			escalated := newRequest(wf, 2, model.ApprovalStatusEscalated)
			Expect(requests.Create(ctx, escalated)).To(Succeed())

			pending := func(who uuid.UUID) []uuid.UUID {
				page, err := requests.ListPendingForApprover(ctx, who, model.Pagination{Page: 1, PerPage: 20})
				Expect(err).NotTo(HaveOccurred())
				ids := []uuid.UUID{}
				for _, r := range page.Items {
					ids = append(ids, r.ID)
				}
				return ids
			}

			Expect(pending(u1)).To(Equal([]uuid.UUID{atLevel1.ID}))
			Expect(pending(u3)).To(Equal([]uuid.UUID{escalated.ID}))
			Expect(pending(boss)).To(Equal([]uuid.UUID{escalated.ID}))

			delegate := uuid.New()
			Expect(requests.AddAction(ctx, &model.ApprovalAction{
				RequestID:   atLevel1.ID,
				LevelNumber: 1,
				ApproverID:  u1,
				Action:      model.ApprovalActionDelegate,
				DelegatedTo: &delegate,
			})).To(Succeed())

			Expect(pending(u1)).To(BeEmpty())
			Expect(pending(delegate)).To(Equal([]uuid.UUID{atLevel1.ID}))

			all, err := requests.AllPendingForApprover(ctx, u2)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("lists overdue requests that are not yet escalated", func() {
			past := now.Add(-time.Hour)
			overdue := newRequest(wf, 1, model.ApprovalStatusInProgress)
			overdue.DueDate = &past
			Expect(requests.Create(ctx, overdue)).To(Succeed())

			already := newRequest(wf, 1, model.ApprovalStatusEscalated)
			already.DueDate = &past
			Expect(requests.Create(ctx, already)).To(Succeed())

			future := now.Add(time.Hour)
			onTime := newRequest(wf, 1, model.ApprovalStatusPending)
			onTime.DueDate = &future
			Expect(requests.Create(ctx, onTime)).To(Succeed())

			got, err := requests.ListOverdue(ctx, now, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal(overdue.ID))

			Expect(requests.CreateEscalation(ctx, &model.ApprovalEscalation{
				RequestID: overdue.ID, LevelNumber: 1, EscalatedTo: &boss, Reason: "overdue",
			})).To(Succeed())
			escs, err := requests.ListEscalations(ctx, overdue.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(escs).To(HaveLen(1))
			Expect(*escs[0].EscalatedTo).To(Equal(boss))
		})

		It("updates status fields and refuses workflow deletion while referenced", func() {
			req := newRequest(wf, 1, model.ApprovalStatusPending)
			Expect(requests.Create(ctx, req)).To(Succeed())

			req.Status = model.ApprovalStatusRejected
			req.CurrentLevel = nil
			reason := "insufficient detail"
			req.RejectionReason = &reason
			Expect(requests.Update(ctx, req)).To(Succeed())

			got, err := requests.GetByID(ctx, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(model.ApprovalStatusRejected))
			Expect(got.CurrentLevel).To(BeNil())
			Expect(*got.RejectionReason).To(Equal(reason))

			Expect(workflows.Delete(ctx, wf.ID)).To(HaveOccurred())
		})
	})
})
