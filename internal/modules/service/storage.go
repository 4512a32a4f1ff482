package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gyandhara/gyandhara-api/internal/infra/release"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/pkg/utils/filename"
	"go.uber.org/zap"
)

// ReleaseStore is the permanent asset store. *release.Accessor satisfies it.
type ReleaseStore interface {
	GetOrCreate(ctx context.Context, tag string) (*release.Container, error)
	UploadAsset(ctx context.Context, c *release.Container, path, name, contentType string) (*release.Asset, error)
	DeleteAsset(ctx context.Context, id int64) error
	OpenAsset(ctx context.Context, id int64) (io.ReadCloser, *release.Asset, error)
}

// Backend stores PDF binaries of one storage type.
type Backend interface {
	Type() model.StorageType
	// Put uploads f under name and returns its new location.
	Put(ctx context.Context, f *StagedFile, name string) (model.Location, error)
	Remove(ctx context.Context, loc model.Location) error
}

type releaseBackend struct {
	rel ReleaseStore
	tag string
}

func NewReleaseBackend(rel ReleaseStore, tag string) Backend {
	return &releaseBackend{rel: rel, tag: tag}
}

func (b *releaseBackend) Type() model.StorageType { return model.StorageGitHubRelease }

func (b *releaseBackend) Put(ctx context.Context, f *StagedFile, name string) (model.Location, error) {
	c, err := b.rel.GetOrCreate(ctx, b.tag)
	if err != nil {
		return model.Location{}, err
	}
	asset, err := b.rel.UploadAsset(ctx, c, f.Path, filename.EnsureExt(name, ".pdf"), f.MIME)
	if err != nil {
		return model.Location{}, err
	}
	id, tag := asset.ID, c.Tag
	return model.Location{
		StorageType: model.StorageGitHubRelease,
		URL:         asset.DownloadURL,
		AssetID:     &id,
		ReleaseTag:  &tag,
	}, nil
}

func (b *releaseBackend) Remove(ctx context.Context, loc model.Location) error {
	if loc.AssetID == nil {
		return nil
	}
	return b.rel.DeleteAsset(ctx, *loc.AssetID)
}

const pdfPrefix = "books/pdfs/"

type objectBackend struct {
	store ObjectStore
	now   func() time.Time
}

func NewObjectBackend(store ObjectStore) Backend {
	return &objectBackend{store: store, now: time.Now}
}

func (b *objectBackend) Type() model.StorageType { return model.StorageSupabase }

func (b *objectBackend) Put(ctx context.Context, f *StagedFile, name string) (model.Location, error) {
	key := pdfPrefix + filename.Stamped(b.now(), filename.EnsureExt(name, ".pdf"))
	src, err := os.Open(f.Path)
	if err != nil {
		return model.Location{}, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer src.Close()

	if _, err := b.store.Upload(ctx, key, src, f.MIME, false); err != nil {
		return model.Location{}, err
	}
	return model.Location{
		StorageType: model.StorageSupabase,
		URL:         b.store.PublicURL(key),
		ObjectKey:   key,
	}, nil
}

func (b *objectBackend) Remove(ctx context.Context, loc model.Location) error {
	key := loc.ObjectKey
	if key == "" {
		var ok bool
		if key, ok = b.store.KeyFromPublicURL(loc.URL); !ok {
			return fmt.Errorf("no object key for %s", loc.URL)
		}
	}
	return b.store.Delete(ctx, key)
}

// Backends resolves a backend by storage type. local has none: nothing is
// written there any more and its files are not ours to delete.
type Backends struct {
	byType map[model.StorageType]Backend
	log    *zap.Logger
}

func NewBackends(log *zap.Logger, bs ...Backend) *Backends {
	m := make(map[model.StorageType]Backend, len(bs))
	for _, b := range bs {
		m[b.Type()] = b
	}
	return &Backends{byType: m, log: log}
}

func (r *Backends) Get(t model.StorageType) (Backend, error) {
	b, ok := r.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, t)
	}
	return b, nil
}

// RemoveBestEffort deletes the binary at loc and only logs failures.
func (r *Backends) RemoveBestEffort(ctx context.Context, loc model.Location) {
	b, ok := r.byType[loc.StorageType]
	if !ok {
		return
	}
	if err := b.Remove(ctx, loc); err != nil {
		r.log.Sugar().Warnw("delete old binary", "storage_type", loc.StorageType, "url", loc.URL, "err", err)
	}
}
