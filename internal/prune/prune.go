// Package prune removes aged, unclaimed items and cascades the removal
// into per-user read state.
package prune

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"feedie/internal/database"
)

// retentionDays is the age past which an unclaimed item is deleted.
const retentionDays = 120

type Pruner struct {
	db     *database.DB
	logger *logrus.Logger
}

func NewPruner(db *database.DB, logger *logrus.Logger) *Pruner {
	return &Pruner{db: db, logger: logger}
}

// Result reports what a prune run touched. Advisory only.
type Result struct {
	Deleted      int
	UsersTouched int
}

// Run executes the sequential prune batch. Retention is reference-driven:
// an aged item survives as long as any team item still claims it. Any
// step failure aborts the remainder; writes already issued stay
// committed.
func (p *Pruner) Run(ctx context.Context) (Result, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	aged, err := p.db.ItemIDsPublishedBefore(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}

	refs, err := p.db.TeamItemRefs(ctx)
	if err != nil {
		return Result{}, err
	}
	claimed := lo.SliceToMap(refs, func(id string) (string, struct{}) {
		return id, struct{}{}
	})

	eligible := lo.Filter(aged, func(id string, _ int) bool {
		_, ok := claimed[id]
		return !ok
	})

	p.logger.WithFields(logrus.Fields{
		"aged":     len(aged),
		"eligible": len(eligible),
	}).Info("Removing items")

	if err := p.db.DeleteItems(ctx, eligible); err != nil {
		return Result{}, err
	}

	// Cascade: deleted identities disappear from every read set they
	// occur in, one update per affected user.
	users, err := p.db.GetUsers(ctx)
	if err != nil {
		return Result{Deleted: len(eligible)}, err
	}

	result := Result{Deleted: len(eligible)}
	for _, u := range users {
		remaining := lo.Without(u.ItemsRead, eligible...)
		if len(remaining) == len(u.ItemsRead) {
			continue
		}
		if err := p.db.SetUserItemsRead(ctx, u.ID, remaining); err != nil {
			return result, err
		}
		result.UsersTouched++
		p.logger.WithField("user", u.ID).Info("Removed deleted items from read state")
	}

	p.logger.WithFields(logrus.Fields{
		"deleted": result.Deleted,
		"users":   result.UsersTouched,
	}).Info("Prune done")
	return result, nil
}
