package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/infra/httpclient"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// SourceOpener reads the current bytes of a book. *httpclient.SourceClient
// satisfies it.
type SourceOpener interface {
	Open(ctx context.Context, pdfURL string) (io.ReadCloser, *httpclient.Source, error)
}

// Dispatcher hands an async sweep to the worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req MigrationRequest) error
}

type SweepResult struct {
	RunID    uuid.UUID          `json:"run_id"`
	Migrated int                `json:"migrated"`
	Skipped  int                `json:"skipped"`
	Failed   int                `json:"failed"`
	Errors   []model.SweepError `json:"errors"`
}

type MigrationService interface {
	// MigrateAll moves every book not on target to target. Only a failure to
	// list books is returned as an error; per-book failures are reported in
	// the result.
	MigrateAll(ctx context.Context, target model.StorageType) (*SweepResult, error)
	Enqueue(ctx context.Context, target model.StorageType) (*model.MigrationRun, error)
	RunQueued(ctx context.Context, req MigrationRequest) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.MigrationRun, error)
}

type migrationService struct {
	*saga
	books      repo.BookRepo
	runs       repo.MigrationRunRepo
	stager     *Stager
	store      ObjectStore
	sources    SourceOpener
	dispatcher Dispatcher
	events     Events
	log        *zap.Logger
	now        func() time.Time
}

func NewMigrationService(books repo.BookRepo, runs repo.MigrationRunRepo, intents repo.UploadIntentRepo, backends *Backends,
	stager *Stager, store ObjectStore, sources SourceOpener, dispatcher Dispatcher, events Events, log *zap.Logger) MigrationService {
	if events == nil {
		events = NopEvents()
	}
	return &migrationService{
		saga:       newSaga(intents, backends, log),
		books:      books,
		runs:       runs,
		stager:     stager,
		store:      store,
		sources:    sources,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
		now:        time.Now,
	}
}

func (s *migrationService) MigrateAll(ctx context.Context, target model.StorageType) (*SweepResult, error) {
	backend, err := s.backends.Get(target)
	if err != nil {
		return nil, err
	}
	run := &model.MigrationRun{Target: target, Status: model.RunPending}
	if err := s.runs.Create(ctx, run); err != nil {
		s.log.Sugar().Warnw("record migration run", "err", err)
	}
	return s.execute(ctx, backend, run)
}

// Enqueue records a pending run and hands it to the worker. Without a
// dispatcher the sweep runs in the background of this process.
func (s *migrationService) Enqueue(ctx context.Context, target model.StorageType) (*model.MigrationRun, error) {
	backend, err := s.backends.Get(target)
	if err != nil {
		return nil, err
	}
	run := &model.MigrationRun{Target: target, Status: model.RunPending}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record migration run: %w", err)
	}

	if s.dispatcher == nil {
		queued := *run
		go func() {
			if _, err := s.execute(context.WithoutCancel(ctx), backend, run); err != nil {
				s.log.Sugar().Errorw("background migration failed", "run_id", run.ID, "err", err)
			}
		}()
		return &queued, nil
	}

	if err := s.dispatcher.Dispatch(ctx, MigrationRequest{RunID: run.ID, Target: target}); err != nil {
		s.finish(ctx, run, nil, err)
		return nil, fmt.Errorf("dispatch migration: %w", err)
	}
	s.events.Publish(ctx, EventMigrationRequested, MigrationRequest{RunID: run.ID, Target: target})
	return run, nil
}

// RunQueued executes a dispatched run. Redelivered runs that already finished
// are skipped.
func (s *migrationService) RunQueued(ctx context.Context, req MigrationRequest) error {
	run, err := s.runs.Get(ctx, req.RunID)
	if err != nil {
		return notFoundAs(err, ErrRunNotFound)
	}
	if run.Status == model.RunDone || run.Status == model.RunFailed {
		s.log.Sugar().Infow("migration run already finished", "run_id", run.ID, "status", run.Status)
		return nil
	}
	backend, err := s.backends.Get(run.Target)
	if err != nil {
		s.finish(ctx, run, nil, err)
		return nil
	}
	_, err = s.execute(ctx, backend, run)
	return err
}

func (s *migrationService) GetRun(ctx context.Context, id uuid.UUID) (*model.MigrationRun, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrRunNotFound)
	}
	return run, nil
}

func (s *migrationService) execute(ctx context.Context, backend Backend, run *model.MigrationRun) (*SweepResult, error) {
	started := s.now()
	run.Status = model.RunRunning
	run.StartedAt = &started
	s.save(ctx, run)

	res, err := s.sweep(ctx, backend)
	s.finish(ctx, run, res, err)
	if err != nil {
		return nil, err
	}
	res.RunID = run.ID
	return res, nil
}

func (s *migrationService) sweep(ctx context.Context, backend Backend) (*SweepResult, error) {
	target := backend.Type()
	books, err := s.books.ListNotOn(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("list books to migrate: %w", err)
	}

	res := &SweepResult{Errors: []model.SweepError{}}
	for _, b := range books {
		if err := s.migrateOne(ctx, backend, b); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, model.SweepError{ID: b.ID, Title: b.Title, Error: err.Error()})
			s.log.Sugar().Warnw("migrate book", "book_id", b.ID, "target", target, "err", err)
			continue
		}
		res.Migrated++
	}

	s.log.Sugar().Infow("migration sweep finished", "target", target, "migrated", res.Migrated, "failed", res.Failed)
	return res, nil
}

func (s *migrationService) migrateOne(ctx context.Context, backend Backend, b *model.Book) error {
	if b.PDFURL == "" {
		return errors.New("missing pdf_url")
	}

	f, err := s.fetch(ctx, b.PDFURL)
	defer f.Cleanup()
	if err != nil {
		return err
	}

	name := b.Title
	if name == "" {
		name = f.Name
	}
	loc, intent, err := s.putBinary(ctx, backend, f, name)
	if err != nil {
		return err
	}
	if err := s.books.UpdateLocation(ctx, b.ID, loc, f.Name, f.Size); err != nil {
		s.compensate(ctx, intent, loc, err)
		return fmt.Errorf("repoint book: %w", err)
	}
	s.commit(ctx, intent, b.ID)

	loc.Apply(b)
	s.events.Publish(ctx, EventBookMigrated, bookEvent(b))
	return nil
}

// fetch copies the book's current bytes into a local temp file. Objects in our
// own bucket are read through the store; anything else through the opener.
func (s *migrationService) fetch(ctx context.Context, pdfURL string) (*StagedFile, error) {
	var (
		rc  io.ReadCloser
		src = &httpclient.Source{ContentType: "application/pdf"}
		err error
	)
	if key, ok := s.store.KeyFromPublicURL(pdfURL); ok {
		rc, err = s.store.Download(ctx, key)
		src.Name = path.Base(key)
	} else {
		rc, src, err = s.sources.Open(ctx, pdfURL)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	f := &StagedFile{Name: src.Name, MIME: "application/pdf", log: s.log}
	if err := s.stager.spool(f, rc); err != nil {
		return f, err
	}
	return f, nil
}

func (s *migrationService) finish(ctx context.Context, run *model.MigrationRun, res *SweepResult, cause error) {
	done := s.now()
	run.FinishedAt = &done
	if cause != nil {
		msg := cause.Error()
		run.Status = model.RunFailed
		run.Message = &msg
	} else {
		run.Status = model.RunDone
		run.Migrated = res.Migrated
		run.Skipped = res.Skipped
		run.Failed = res.Failed
		run.Errors = datatypes.NewJSONType(res.Errors)
	}
	s.save(ctx, run)
}

func (s *migrationService) save(ctx context.Context, run *model.MigrationRun) {
	if err := s.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		s.log.Sugar().Warnw("save migration run", "run_id", run.ID, "err", err)
	}
}
