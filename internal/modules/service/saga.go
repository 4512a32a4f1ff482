package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/repo"
	"go.uber.org/zap"
)

// saga brackets every binary upload with an upload intent: pending before the
// upload, stamped with the new location after it, committed once the book row
// points at it. Intents left pending are swept by the Reconciler.
type saga struct {
	intents  repo.UploadIntentRepo
	backends *Backends
	log      *zap.Logger
}

func newSaga(intents repo.UploadIntentRepo, backends *Backends, log *zap.Logger) *saga {
	return &saga{intents: intents, backends: backends, log: log}
}

func (s *saga) putBinary(ctx context.Context, backend Backend, f *StagedFile, name string) (model.Location, *model.UploadIntent, error) {
	intent := &model.UploadIntent{
		State:       model.IntentPending,
		StorageType: backend.Type(),
		Filename:    f.Name,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return model.Location{}, nil, fmt.Errorf("record upload intent: %w", err)
	}

	loc, err := backend.Put(ctx, f, name)
	if err != nil {
		s.failIntent(ctx, intent.ID, err)
		return model.Location{}, nil, err
	}

	if err := s.intents.Stamp(ctx, intent.ID, loc); err != nil {
		s.log.Sugar().Warnw("stamp upload intent", "intent_id", intent.ID, "err", err)
	}
	return loc, intent, nil
}

// compensate removes a binary whose row was never written. If the delete fails
// the intent stays pending for the reconciler.
func (s *saga) compensate(ctx context.Context, intent *model.UploadIntent, loc model.Location, cause error) {
	ctx = context.WithoutCancel(ctx)
	b, err := s.backends.Get(loc.StorageType)
	if err == nil {
		err = b.Remove(ctx, loc)
	}
	if err != nil {
		s.log.Sugar().Errorw("orphaned binary left for reconciliation", "intent_id", intent.ID, "url", loc.URL, "err", err)
		return
	}
	s.failIntent(ctx, intent.ID, cause)
}

func (s *saga) failIntent(ctx context.Context, id uuid.UUID, cause error) {
	if err := s.intents.Fail(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		s.log.Sugar().Warnw("mark upload intent failed", "intent_id", id, "err", err)
	}
}

func (s *saga) commit(ctx context.Context, intent *model.UploadIntent, bookID uuid.UUID) {
	if err := s.intents.Commit(context.WithoutCancel(ctx), intent.ID, bookID); err != nil {
		s.log.Sugar().Warnw("commit upload intent", "intent_id", intent.ID, "err", err)
	}
}
