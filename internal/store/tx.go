// Package store provides the retrying transactional helper that the
// planner's per-week commit builds on. Generalized from the teacher's raw
// db.BeginTx/Commit/Rollback pattern sprinkled through each service
// (see post_service.go's CreatePost), centralized here and wrapped in
// cockroachdb/cockroach-go's retry helper so a serialization conflict
// under concurrent commits is retried instead of surfaced as a
// Transient error on the first contention. The leaser's claim
// (repository.PostRepository.ClaimDue) manages its own transaction and
// does not go through InTx.
package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
)

// TxFunc is the unit of work run inside a single retryable transaction.
type TxFunc func(tx *sql.Tx) error

// InTx runs fn inside a transaction, retrying the whole closure on a
// retryable serialization error. fn must be idempotent and must not
// retain state across retries beyond what it reads from tx itself.
func InTx(ctx context.Context, db *sql.DB, fn TxFunc) error {
	return crdb.ExecuteTx(ctx, db, nil, fn)
}
