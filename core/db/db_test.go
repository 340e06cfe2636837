package db_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ergon.app/erp/core/db"
	"ergon.app/erp/core/db/dbtest"
)

var _ = Describe("DB", func() {
	var (
		ctx      context.Context
		database *db.DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		database, err = dbtest.Open(ctx)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(database.Close)
	})

	Describe("Migrate", func() {
		It("applies every embedded migration", func() {
			version, err := database.MigrationVersion(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeNumerically(">=", 2))
		})

		It("is idempotent", func() {
			Expect(database.Migrate(ctx)).To(Succeed())
		})
	})

	Describe("WithTx", func() {
		insert := func(q *db.Queries, id string) error {
			_, err := q.Exec(ctx, `INSERT INTO approval_workflows
				(id, code, name, document_type, approval_type, status, created_at, updated_at)
				VALUES (?, ?, 'n', 'expense', 'Sequential', 'Active', '2024-01-01T00:00:00.000000Z', '2024-01-01T00:00:00.000000Z')`,
				id, "code-"+id)
			return err
		}

		count := func() int {
			var n int
			Expect(database.Queries().QueryRow(ctx, `SELECT COUNT(*) FROM approval_workflows`).Scan(&n)).To(Succeed())
			return n
		}

		It("commits when the function succeeds", func() {
			err := database.WithTx(ctx, func(q *db.Queries) error {
				return insert(q, "a")
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(count()).To(Equal(1))
		})

		It("rolls back every statement when the function fails", func() {
			boom := errors.New("boom")
			err := database.WithTx(ctx, func(q *db.Queries) error {
				if err := insert(q, "a"); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))
			Expect(count()).To(Equal(0))
		})

		It("reports unique violations", func() {
			Expect(insert(database.Queries(), "a")).To(Succeed())
			_, err := database.Queries().Exec(ctx, `INSERT INTO approval_workflows
				(id, code, name, document_type, approval_type, status, created_at, updated_at)
				VALUES ('b', 'code-a', 'n', 'expense', 'Sequential', 'Active', '2024-01-01T00:00:00.000000Z', '2024-01-01T00:00:00.000000Z')`)
			Expect(err).To(HaveOccurred())
			Expect(db.IsUniqueViolation(err)).To(BeTrue())
		})
	})

	Describe("Rebind", func() {
		It("numbers placeholders outside quotes", func() {
			Expect(db.Rebind(`SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)`)).
				To(Equal(`SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)`))
		})

		It("leaves queries without placeholders alone", func() {
			Expect(db.Rebind(`SELECT 1`)).To(Equal(`SELECT 1`))
		})
	})
})
