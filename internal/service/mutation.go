// Package service contains the application services: authentication, the
// audited mutation path and the project, folder, grant and agent operations.
package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/repository"
)

// Mutation performs the resource writes of one operation inside tx and returns
// the audit changes they produced, in order.
type Mutation func(ctx context.Context, tx pgx.Tx) ([]audit.Change, error)

// errUnchanged aborts a mutation that found nothing to write. Callers report
// success with the state they read.
var errUnchanged = errors.New("nothing to change")

// Mutator runs every tracked write through one transaction together with its
// audit entries. Either all of them commit or none do.
type Mutator struct {
	tx    repository.TxRunner
	trail *audit.Trail
	log   *zap.Logger
}

// NewMutator constructs a Mutator.
func NewMutator(tx repository.TxRunner, trail *audit.Trail, log *zap.Logger) *Mutator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mutator{tx: tx, trail: trail, log: log}
}

// Record applies fn and appends one audit entry per returned change. When the
// actor acts through a software agent, the agent is attached to every entry.
// An error from fn aborts without audit; a failing audit write is reported as
// a ConsistencyError and rolls the resource writes back.
func (m *Mutator) Record(ctx context.Context, actor model.Actor, fn Mutation) ([]*audit.Entry, error) {
	var out []*audit.Entry
	err := m.tx.InTx(ctx, func(tx pgx.Tx) error {
		changes, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return &errs.ConsistencyError{Op: "record mutation", Err: errors.New("mutation produced no audit change")}
		}
		out = out[:0]
		for _, c := range changes {
			e, err := m.trail.Record(ctx, tx, actor, c)
			if err != nil {
				return consistency("record audit", err)
			}
			if actor.Delegated() {
				if e, err = m.trail.AttachDelegation(ctx, tx, e, *actor.Agent); err != nil {
					return consistency("attach delegation", err)
				}
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		if errs.IsConsistency(err) {
			m.log.Error("audited mutation rolled back",
				zap.String("user_id", actor.UserID().String()),
				zap.String("request_id", audit.RequestIDFromContext(ctx)),
				zap.Error(err))
		}
		return nil, err
	}
	return out, nil
}

func consistency(op string, err error) error {
	if errs.IsConsistency(err) {
		return err
	}
	return &errs.ConsistencyError{Op: op, Err: err}
}
