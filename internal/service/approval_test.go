package service_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

var _ = Describe("Approval services", func() {
	var (
		ctx       context.Context
		clock     *fakeClock
		workflows service.ApprovalWorkflowService
		requests  service.ApprovalRequestService
		jobs      service.JobService
		t0        time.Time

		requester, u1, u2, u3, u4, u5, boss uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
		clock = newFakeClock(t0)
		svcs, _ := openServices(ctx, clock, nil)
		workflows = svcs.ApprovalWorkflows()
		requests = svcs.ApprovalRequests()
		jobs = svcs.Jobs()

		requester, u1, u2, u3, u4, u5, boss = uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	})

	twoLevels := func() []model.ApprovalLevel {
		return []model.ApprovalLevel{
			{LevelNumber: 1, Name: "Manager", ApproverIDs: []uuid.UUID{u1, u2}, MinApprovers: 1},
			{LevelNumber: 2, Name: "Finance", ApproverIDs: []uuid.UUID{u3, u4, u5}, MinApprovers: 2},
		}
	}

	createWorkflow := func(mutate func(p *service.CreateWorkflowParams)) *model.ApprovalWorkflow {
		params := service.CreateWorkflowParams{
			Name:         "Purchase orders",
			DocumentType: "purchase_order",
			ApprovalType: model.ApprovalTypeSequential,
			Levels:       twoLevels(),
		}
		if mutate != nil {
			mutate(&params)
		}
		wf, err := workflows.Create(ctx, params)
		Expect(err).NotTo(HaveOccurred())
		return wf
	}

	submit := func(docType string, amount int64) *model.ApprovalRequest {
		req, err := requests.Submit(ctx, service.SubmitApprovalParams{
			DocumentType:   docType,
			DocumentID:     uuid.New(),
			DocumentNumber: "PO-1001",
			RequestedBy:    requester,
			Amount:         amount,
			Currency:       model.CurrencyUSD,
		})
		Expect(err).NotTo(HaveOccurred())
		return req
	}

	approve := func(req *model.ApprovalRequest, who uuid.UUID) *model.ApprovalRequest {
		out, err := requests.Approve(ctx, req.ID, who, nil)
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	notifications := func() []model.Notification {
		page, err := jobs.List(ctx, model.JobFilter{Handler: ptr("notification.send")}, model.Pagination{Page: 1, PerPage: 200})
		Expect(err).NotTo(HaveOccurred())
		out := make([]model.Notification, 0, len(page.Items))
		for _, j := range page.Items {
			var n model.Notification
			Expect(json.Unmarshal(j.Payload, &n)).To(Succeed())
			out = append(out, n)
		}
		return out
	}

	Describe("workflow definitions", func() {
		It("generates a code and starts at version 1", func() {
			wf := createWorkflow(nil)
			Expect(wf.Code).To(HavePrefix("WF-"))
			Expect(wf.Version).To(Equal(int64(1)))
			Expect(wf.Status).To(Equal(model.StatusActive))

			byCode, err := workflows.GetByCode(ctx, wf.Code)
			Expect(err).NotTo(HaveOccurred())
			Expect(byCode.Levels).To(HaveLen(2))
			Expect(byCode.Levels[1].ApproverIDs).To(Equal([]uuid.UUID{u3, u4, u5}))
		})

		It("rejects gaps in level numbering", func() {
			_, err := workflows.Create(ctx, service.CreateWorkflowParams{
				Name: "gappy", DocumentType: "expense",
				Levels: []model.ApprovalLevel{
					{LevelNumber: 1, Name: "A", ApproverIDs: []uuid.UUID{u1}},
					{LevelNumber: 3, Name: "C", ApproverIDs: []uuid.UUID{u2}},
				},
			})
			Expect(err).To(MatchError(apperr.ErrValidation))
		})

		It("rejects min_approvers above the approver count", func() {
			_, err := workflows.Create(ctx, service.CreateWorkflowParams{
				Name: "too-many", DocumentType: "expense",
				Levels: []model.ApprovalLevel{{LevelNumber: 1, Name: "A", ApproverIDs: []uuid.UUID{u1}, MinApprovers: 2}},
			})
			Expect(err).To(MatchError(apperr.ErrValidation))
		})

		It("rejects a duplicate code", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.Code = "PO-STD" })
			_, err := workflows.Create(ctx, service.CreateWorkflowParams{
				Code: "PO-STD", Name: "again", DocumentType: "purchase_order", Levels: twoLevels(),
			})
			Expect(err).To(MatchError(apperr.ErrConflict))
		})

		It("bumps the version on update and refuses stale writers", func() {
			wf := createWorkflow(nil)
			updated, err := workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{
				ExpectedVersion: ptr(int64(1)),
				Name:            ptr("Purchase orders v2"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Version).To(Equal(int64(2)))
			Expect(updated.Name).To(Equal("Purchase orders v2"))

			_, err = workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{
				ExpectedVersion: ptr(int64(1)),
				Name:            ptr("lost update"),
			})
			Expect(err).To(MatchError(apperr.ErrConflict))
		})

		It("refuses level edits while requests are open", func() {
			wf := createWorkflow(nil)
			submit("purchase_order", 50000)

			levels := twoLevels()
			levels[1].MinApprovers = 1
			_, err := workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{Levels: levels})
			Expect(err).To(MatchError(apperr.ErrConflict))

			_, err = workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{Levels: twoLevels(), Name: ptr("same levels")})
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses an approval type change while requests are open", func() {
			wf := createWorkflow(nil)
			req := submit("purchase_order", 50000)

			_, err := workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{ApprovalType: ptr(model.ApprovalTypeAnyApprover)})
			Expect(err).To(MatchError(apperr.ErrConflict))

			_, err = workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{ApprovalType: ptr(model.ApprovalTypeSequential)})
			Expect(err).NotTo(HaveOccurred())

			_, err = requests.Cancel(ctx, req.ID, model.Actor{ID: requester}, nil)
			Expect(err).NotTo(HaveOccurred())
			updated, err := workflows.Update(ctx, wf.ID, service.UpdateWorkflowParams{ApprovalType: ptr(model.ApprovalTypeAnyApprover)})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.ApprovalType).To(Equal(model.ApprovalTypeAnyApprover))
		})

		It("deletes only unreferenced workflows", func() {
			used := createWorkflow(nil)
			submit("purchase_order", 100)
			Expect(workflows.Delete(ctx, used.ID)).To(MatchError(apperr.ErrConflict))

			unused := createWorkflow(func(p *service.CreateWorkflowParams) { p.DocumentType = "invoice" })
			Expect(workflows.Delete(ctx, unused.ID)).To(Succeed())
			_, err := workflows.Get(ctx, unused.ID)
			Expect(err).To(MatchError(apperr.ErrNotFound))
		})

		It("stops routing to a paused workflow", func() {
			wf := createWorkflow(nil)
			paused, err := workflows.Pause(ctx, wf.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(paused.Status).To(Equal(model.StatusInactive))

			_, err = requests.Submit(ctx, service.SubmitApprovalParams{
				DocumentType: "purchase_order", DocumentNumber: "PO-1", RequestedBy: requester, Amount: 10,
			})
			Expect(err).To(MatchError(apperr.ErrValidation))

			_, err = workflows.Publish(ctx, wf.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			submit("purchase_order", 10)
		})
	})

	Describe("submission", func() {
		It("auto-approves below the threshold", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) {
				p.DocumentType = "expense"
				p.AutoApproveBelow = ptr(int64(10000))
			})

			req := submit("expense", 5000)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
			Expect(req.CurrentLevel).To(BeNil())
			Expect(req.Actions).To(HaveLen(1))
			Expect(req.Actions[0].ApproverID).To(Equal(model.SystemActorID))
			Expect(req.Actions[0].Action).To(Equal(model.ApprovalActionApprove))
			Expect(*req.Actions[0].Comments).To(Equal("auto-approved below threshold"))

			stored, err := requests.Get(ctx, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.ApprovalStatusApproved))
			Expect(stored.Actions).To(HaveLen(1))
		})

		It("fails validation when no workflow covers the document", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.MaxAmount = ptr(int64(1000)) })
			_, err := requests.Submit(ctx, service.SubmitApprovalParams{
				DocumentType: "purchase_order", DocumentNumber: "PO-9", RequestedBy: requester, Amount: 5000,
			})
			Expect(err).To(MatchError(apperr.ErrValidation))
		})

		It("starts at level one with its due date and notifies its approvers", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) {
				p.NotifyApprover = true
				p.Levels[0].DueHours = ptr(8)
			})

			req := submit("purchase_order", 50000)
			Expect(req.Status).To(Equal(model.ApprovalStatusPending))
			Expect(*req.CurrentLevel).To(Equal(1))
			Expect(*req.DueDate).To(Equal(t0.Add(8 * time.Hour)))
			Expect(req.RequestNumber).To(HavePrefix("APR-"))

			sent := notifications()
			Expect(sent).To(HaveLen(2))
			Expect([]uuid.UUID{sent[0].RecipientID, sent[1].RecipientID}).To(ConsistOf(u1, u2))
			Expect(sent[0].Kind).To(Equal(model.NotificationApprovalRequested))
			Expect(sent[0].RequestNumber).To(Equal(req.RequestNumber))
		})
	})

	Describe("sequential approval", func() {
		var req *model.ApprovalRequest

		BeforeEach(func() {
			createWorkflow(nil)
			req = submit("purchase_order", 50000)
		})

		It("advances level by level until approved", func() {
			req = approve(req, u1)
			Expect(*req.CurrentLevel).To(Equal(2))
			Expect(req.Status).To(Equal(model.ApprovalStatusInProgress))

			req = approve(req, u3)
			Expect(*req.CurrentLevel).To(Equal(2))

			req = approve(req, u4)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
			Expect(req.CurrentLevel).To(BeNil())
			Expect(*req.ApprovedBy).To(Equal(u4))

			approvers := map[int]map[uuid.UUID]bool{1: {}, 2: {}}
			for _, a := range req.Actions {
				if a.Action == model.ApprovalActionApprove {
					approvers[a.LevelNumber][a.ApproverID] = true
				}
			}
			Expect(approvers[1]).To(HaveLen(1))
			Expect(approvers[2]).To(HaveLen(2))
		})

		It("terminates on reject", func() {
			req = approve(req, u1)
			rejected, err := requests.Reject(ctx, req.ID, u3, "insufficient detail")
			Expect(err).NotTo(HaveOccurred())
			Expect(rejected.Status).To(Equal(model.ApprovalStatusRejected))
			Expect(rejected.CurrentLevel).To(BeNil())
			Expect(*rejected.RejectionReason).To(Equal("insufficient detail"))

			_, err = requests.Approve(ctx, req.ID, u4, nil)
			Expect(err).To(MatchError(apperr.ErrValidation))
		})

		It("requires a rejection reason", func() {
			_, err := requests.Reject(ctx, req.ID, u1, "  ")
			Expect(err).To(MatchError(apperr.ErrValidation))
		})

		It("counts a repeated approval once", func() {
			req = approve(req, u1)
			req = approve(req, u3)
			req = approve(req, u3)
			Expect(*req.CurrentLevel).To(Equal(2))
			Expect(req.Status).To(Equal(model.ApprovalStatusInProgress))
			Expect(req.ActionsAt(2)).To(HaveLen(2))

			req = approve(req, u5)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
		})

		It("forbids users who are not approvers of the current level", func() {
			_, err := requests.Approve(ctx, req.ID, u3, nil)
			Expect(err).To(MatchError(apperr.ErrForbidden))
			_, err = requests.Approve(ctx, req.ID, uuid.New(), nil)
			Expect(err).To(MatchError(apperr.ErrForbidden))
		})

		It("keeps action rows in insertion order", func() {
			req = approve(req, u1)
			req = approve(req, u3)
			for i, a := range req.Actions {
				Expect(a.Sequence).To(Equal(i + 1))
			}
		})

		It("lists the request for the current level's approvers only", func() {
			page, err := requests.PendingForApprover(ctx, u1, model.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))

			page, err = requests.PendingForApprover(ctx, u3, model.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(BeEmpty())

			approve(req, u2)
			page, err = requests.PendingForApprover(ctx, u3, model.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))
		})
	})

	Describe("approval types", func() {
		It("finishes an AnyApprover request on the first approval", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.ApprovalType = model.ApprovalTypeAnyApprover })
			req := approve(submit("purchase_order", 500), u2)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
		})

		It("needs every listed approver under AllApprovers", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.ApprovalType = model.ApprovalTypeAllApprovers })
			req := submit("purchase_order", 500)

			req = approve(req, u1)
			Expect(*req.CurrentLevel).To(Equal(1))
			req = approve(req, u2)
			Expect(*req.CurrentLevel).To(Equal(2))
			req = approve(req, u3)
			req = approve(req, u4)
			Expect(*req.CurrentLevel).To(Equal(2))
			req = approve(req, u5)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
		})

		It("passes a level already approved above when it allows skipping", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) {
				p.Levels = []model.ApprovalLevel{
					{LevelNumber: 1, Name: "Lead", ApproverIDs: []uuid.UUID{u1}, MinApprovers: 1},
					{LevelNumber: 2, Name: "Director", ApproverIDs: []uuid.UUID{u1, u2}, MinApprovers: 1, SkipIfApprovedAbove: true},
					{LevelNumber: 3, Name: "CFO", ApproverIDs: []uuid.UUID{u3}, MinApprovers: 1},
				}
			})
			req := approve(submit("purchase_order", 500), u1)
			Expect(*req.CurrentLevel).To(Equal(3))
		})

		It("demands comments when the workflow requires them", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.RequireComments = true })
			req := submit("purchase_order", 500)
			_, err := requests.Approve(ctx, req.ID, u1, nil)
			Expect(err).To(MatchError(apperr.ErrValidation))
			out, err := requests.Approve(ctx, req.ID, u1, ptr("looks fine"))
			Expect(err).NotTo(HaveOccurred())
			Expect(*out.CurrentLevel).To(Equal(2))
		})
	})

	Describe("delegation", func() {
		It("hands the obligation to the delegate", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.AllowDelegation = true })
			req := submit("purchase_order", 500)
			deputy := uuid.New()

			_, err := requests.Delegate(ctx, req.ID, u1, u1, nil)
			Expect(err).To(MatchError(apperr.ErrValidation))

			req, err = requests.Delegate(ctx, req.ID, u1, deputy, ptr("on leave"))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Actions[0].Action).To(Equal(model.ApprovalActionDelegate))
			Expect(*req.Actions[0].DelegatedTo).To(Equal(deputy))

			_, err = requests.Approve(ctx, req.ID, u1, nil)
			Expect(err).To(MatchError(apperr.ErrForbidden))

			page, err := requests.PendingForApprover(ctx, deputy, model.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))
			page, err = requests.PendingForApprover(ctx, u1, model.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(BeEmpty())

			req = approve(req, deputy)
			Expect(*req.CurrentLevel).To(Equal(2))
		})

		It("lets a co-approver delegate answer for both under AllApprovers", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) {
				p.ApprovalType = model.ApprovalTypeAllApprovers
				p.AllowDelegation = true
				p.Levels = []model.ApprovalLevel{
					{LevelNumber: 1, Name: "Partners", ApproverIDs: []uuid.UUID{u1, u2}, MinApprovers: 2},
				}
			})
			req := submit("purchase_order", 500)

			req, err := requests.Delegate(ctx, req.ID, u1, u2, nil)
			Expect(err).NotTo(HaveOccurred())

			req = approve(req, u2)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
			Expect(*req.ApprovedBy).To(Equal(u2))
		})

		It("credits every listed approver along a delegation chain", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) {
				p.ApprovalType = model.ApprovalTypeSequential
				p.AllowDelegation = true
				p.Levels = []model.ApprovalLevel{
					{LevelNumber: 1, Name: "Board", ApproverIDs: []uuid.UUID{u1, u2, u3}, MinApprovers: 3},
				}
			})
			req := submit("purchase_order", 500)
			deputy := uuid.New()

			req, err := requests.Delegate(ctx, req.ID, u1, u2, nil)
			Expect(err).NotTo(HaveOccurred())
			req, err = requests.Delegate(ctx, req.ID, u2, deputy, nil)
			Expect(err).NotTo(HaveOccurred())

			req = approve(req, deputy)
			Expect(req.Status).To(Equal(model.ApprovalStatusInProgress))
			Expect(*req.CurrentLevel).To(Equal(1))

			req = approve(req, u3)
			Expect(req.Status).To(Equal(model.ApprovalStatusApproved))
		})

		It("is refused when the workflow disallows it", func() {
			createWorkflow(nil)
			req := submit("purchase_order", 500)
			_, err := requests.Delegate(ctx, req.ID, u1, uuid.New(), nil)
			Expect(err).To(MatchError(apperr.ErrValidation))
		})
	})

	Describe("escalation", func() {
		var req *model.ApprovalRequest

		BeforeEach(func() {
			createWorkflow(func(p *service.CreateWorkflowParams) {
				p.Levels[0].DueHours = ptr(4)
				p.Levels[0].EscalationTo = ptr(boss)
			})
			req = submit("purchase_order", 500)
		})

		It("escalates overdue requests once and lets the target decide", func() {
			n, err := requests.EscalateOverdue(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			clock.Advance(5 * time.Hour)
			n, err = requests.EscalateOverdue(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			escalated, err := requests.Get(ctx, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(escalated.Status).To(Equal(model.ApprovalStatusEscalated))

			audit, err := requests.ListEscalations(ctx, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(audit).To(HaveLen(1))
			Expect(*audit[0].EscalatedTo).To(Equal(boss))

			sent := notifications()
			Expect(sent).To(ContainElement(HaveField("RecipientID", boss)))

			n, err = requests.EscalateOverdue(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			page, err := requests.PendingForApprover(ctx, boss, model.Pagination{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))

			decided := approve(escalated, boss)
			Expect(*decided.CurrentLevel).To(Equal(2))
			Expect(decided.Status).To(Equal(model.ApprovalStatusInProgress))
		})

		It("does not let the escalation target act early", func() {
			_, err := requests.Approve(ctx, req.ID, boss, nil)
			Expect(err).To(MatchError(apperr.ErrForbidden))
		})
	})

	Describe("cancel", func() {
		It("is reserved to the requester or an administrator", func() {
			createWorkflow(nil)
			req := submit("purchase_order", 500)

			_, err := requests.Cancel(ctx, req.ID, model.Actor{ID: u1}, nil)
			Expect(err).To(MatchError(apperr.ErrForbidden))

			cancelled, err := requests.Cancel(ctx, req.ID, model.Actor{ID: requester}, ptr("duplicate"))
			Expect(err).NotTo(HaveOccurred())
			Expect(cancelled.Status).To(Equal(model.ApprovalStatusCancelled))
			Expect(*cancelled.CancelledBy).To(Equal(requester))

			_, err = requests.Cancel(ctx, req.ID, model.Actor{ID: uuid.New(), Admin: true}, nil)
			Expect(err).To(MatchError(apperr.ErrValidation))
		})
	})

	Describe("pending summary", func() {
		It("buckets requests by due date", func() {
			createWorkflow(func(p *service.CreateWorkflowParams) { p.Levels[0].DueHours = ptr(6) })
			overdue := submit("purchase_order", 100)
			clock.Advance(4 * time.Hour)
			submit("purchase_order", 200)
			clock.Advance(4 * time.Hour)

			summary, err := requests.PendingSummary(ctx, u1)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Total).To(Equal(int64(2)))
			Expect(summary.Overdue).To(Equal(int64(1)))
			Expect(summary.Approaching).To(Equal(int64(1)))
			Expect(summary.OnTime).To(BeZero())
			Expect(summary.Totals).To(Equal([]model.Money{{Amount: 300, Currency: model.CurrencyUSD}}))
			Expect(summary.ByDocumentType).To(HaveKeyWithValue("purchase_order", int64(2)))
			Expect(overdue.DueDate).NotTo(BeNil())
		})
	})
})
