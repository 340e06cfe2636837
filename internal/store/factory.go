package store

import (
	"ergon.app/erp/core/db"
)

type Stores struct {
	queries *db.Queries
}

func NewStores(queries *db.Queries) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.queries)
}

func (s *Stores) JobExecutions() JobExecutionStore {
	return newJobExecutionStore(s.queries)
}

func (s *Stores) JobSchedules() JobScheduleStore {
	return newJobScheduleStore(s.queries)
}

func (s *Stores) ApprovalWorkflows() ApprovalWorkflowStore {
	return newApprovalWorkflowStore(s.queries)
}

func (s *Stores) ApprovalRequests() ApprovalRequestStore {
	return newApprovalRequestStore(s.queries)
}
