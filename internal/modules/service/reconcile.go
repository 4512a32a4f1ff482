package service

import (
	"context"
	"errors"
	"time"

	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileBatch = 100

type ReconcileResult struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
	Adopted int `json:"adopted"`
	Failed  int `json:"failed"`
}

// Reconciler deletes binaries whose upload intent never committed, i.e. the
// process died or the row write failed between upload and record. A binary
// that a book row points at is never deleted; its intent is committed instead.
type Reconciler struct {
	books    repo.BookRepo
	intents  repo.UploadIntentRepo
	backends *Backends
	log      *zap.Logger
	now      func() time.Time
}

func NewReconciler(books repo.BookRepo, intents repo.UploadIntentRepo, backends *Backends, log *zap.Logger) *Reconciler {
	return &Reconciler{books: books, intents: intents, backends: backends, log: log, now: time.Now}
}

// Sweep handles pending intents created more than olderThan ago.
func (r *Reconciler) Sweep(ctx context.Context, olderThan time.Duration) (*ReconcileResult, error) {
	stale, err := r.intents.ListStale(ctx, r.now().Add(-olderThan), reconcileBatch)
	if err != nil {
		return nil, err
	}

	res := &ReconcileResult{Scanned: len(stale)}
	for _, in := range stale {
		loc := model.Location{StorageType: in.StorageType, AssetID: in.GitHubAssetID}
		if in.ObjectKey != nil {
			loc.ObjectKey = *in.ObjectKey
		}
		if in.URL != nil {
			loc.URL = *in.URL
		}

		reason := "no binary recorded"
		if loc.AssetID != nil || loc.ObjectKey != "" || loc.URL != "" {
			owner, err := r.books.FindByBinary(ctx, loc.AssetID, loc.URL)
			if err == nil {
				if err := r.intents.Commit(ctx, in.ID, owner.ID); err != nil {
					r.log.Sugar().Warnw("commit adopted intent", "intent_id", in.ID, "err", err)
				}
				res.Adopted++
				r.log.Sugar().Infow("binary still referenced, intent committed", "intent_id", in.ID, "book_id", owner.ID)
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				res.Failed++
				r.log.Sugar().Warnw("check binary owner", "intent_id", in.ID, "err", err)
				continue
			}

			b, err := r.backends.Get(in.StorageType)
			if err == nil {
				err = b.Remove(ctx, loc)
			}
			if err != nil {
				res.Failed++
				r.log.Sugar().Warnw("remove orphaned binary", "intent_id", in.ID, "storage_type", in.StorageType, "err", err)
				continue
			}
			reason = "orphaned binary removed"
			res.Removed++
		}
		if err := r.intents.Fail(ctx, in.ID, reason); err != nil {
			r.log.Sugar().Warnw("mark intent failed", "intent_id", in.ID, "err", err)
		}
	}

	if res.Scanned > 0 {
		r.log.Sugar().Infow("reconciled upload intents", "scanned", res.Scanned, "removed", res.Removed, "adopted", res.Adopted, "failed", res.Failed)
	}
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, every, olderThan time.Duration) {
	if every <= 0 {
		r.log.Sugar().Warnw("reconciler disabled", "every", every)
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Sweep(ctx, olderThan); err != nil {
				r.log.Sugar().Errorw("reconcile sweep", "err", err)
			}
		}
	}
}
