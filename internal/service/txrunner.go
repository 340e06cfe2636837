package service

import (
	"context"

	"ergon.app/erp/core/db"
	"ergon.app/erp/internal/store"
)

// StoreProvider exposes the stores bound to one transaction.
type StoreProvider interface {
	Jobs() store.JobStore
	JobExecutions() store.JobExecutionStore
	JobSchedules() store.JobScheduleStore
	ApprovalWorkflows() store.ApprovalWorkflowStore
	ApprovalRequests() store.ApprovalRequestStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q *db.Queries) error {
		stores := store.NewStores(q)
		return fn(stores)
	})
}
