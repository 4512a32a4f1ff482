package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/pkg/utils/filename"
	"go.uber.org/zap"
)

const (
	containerName = "PDF Storage"
	containerBody = "Storage for educational PDFs uploaded via GyanDhara admin panel"
)

var (
	// ErrAssetUploadFailed wraps any failure from the release asset upload endpoint.
	ErrAssetUploadFailed = errors.New("failed to upload PDF to GitHub Releases")
	ErrAssetNotFound     = errors.New("release asset not found")
)

// API is the part of the GitHub repositories service the accessor uses.
// *github.RepositoriesService satisfies it.
type API interface {
	GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.RepositoryRelease, *github.Response, error)
	CreateRelease(ctx context.Context, owner, repo string, release *github.RepositoryRelease) (*github.RepositoryRelease, *github.Response, error)
	UploadReleaseAsset(ctx context.Context, owner, repo string, id int64, opts *github.UploadOptions, file *os.File) (*github.ReleaseAsset, *github.Response, error)
	DeleteReleaseAsset(ctx context.Context, owner, repo string, id int64) (*github.Response, error)
	GetReleaseAsset(ctx context.Context, owner, repo string, id int64) (*github.ReleaseAsset, *github.Response, error)
	DownloadReleaseAsset(ctx context.Context, owner, repo string, id int64, followRedirectsClient *http.Client) (io.ReadCloser, string, error)
}

// Container is a release addressed by its tag.
type Container struct {
	ID   int64  `json:"id"`
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

type Asset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// LookupResult is Found(container) or NotFound. A missing release is a normal
// outcome of Lookup, not an error.
type LookupResult struct {
	container *Container
}

func Found(c *Container) LookupResult { return LookupResult{container: c} }

func NotFound() LookupResult { return LookupResult{} }

func (r LookupResult) Container() (*Container, bool) {
	return r.container, r.container != nil
}

type Accessor struct {
	api   API
	owner string
	repo  string
	dl    *http.Client
	log   *zap.Logger
	now   func() time.Time
}

func NewAccessor(api API, owner, repo string, log *zap.Logger) *Accessor {
	return &Accessor{
		api:   api,
		owner: owner,
		repo:  repo,
		dl:    &http.Client{Timeout: 10 * time.Minute},
		log:   log,
		now:   time.Now,
	}
}

// NewGitHub builds an accessor backed by the real GitHub API.
func NewGitHub(cfg *config.Config, log *zap.Logger) (*Accessor, error) {
	hc := &http.Client{Timeout: 10 * time.Minute}
	client := github.NewClient(hc)
	if cfg.GitHub.Token != "" {
		client = client.WithAuthToken(cfg.GitHub.Token)
	}
	if cfg.GitHub.APIBaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.GitHub.APIBaseURL, cfg.GitHub.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("github enterprise urls: %w", err)
		}
	}
	return NewAccessor(client.Repositories, cfg.GitHub.Owner, cfg.GitHub.Repo, log), nil
}

func (a *Accessor) Lookup(ctx context.Context, tag string) (LookupResult, error) {
	rel, resp, err := a.api.GetReleaseByTag(ctx, a.owner, a.repo, tag)
	if err != nil {
		if isStatus(resp, err, http.StatusNotFound) {
			return NotFound(), nil
		}
		return LookupResult{}, fmt.Errorf("get release %s: %w", tag, err)
	}
	return Found(toContainer(rel)), nil
}

// GetOrCreate returns the release for tag, creating it on first use. Two
// concurrent callers may both miss the lookup; when GitHub rejects the second
// create because the tag exists, the lookup is retried instead of failing.
func (a *Accessor) GetOrCreate(ctx context.Context, tag string) (*Container, error) {
	res, err := a.Lookup(ctx, tag)
	if err != nil {
		return nil, err
	}
	if c, ok := res.Container(); ok {
		return c, nil
	}

	rel, resp, err := a.api.CreateRelease(ctx, a.owner, a.repo, &github.RepositoryRelease{
		TagName:    github.String(tag),
		Name:       github.String(containerName),
		Body:       github.String(containerBody),
		Draft:      github.Bool(false),
		Prerelease: github.Bool(false),
	})
	if err != nil {
		if alreadyExists(resp, err) {
			a.log.Sugar().Infow("release created concurrently, retrying lookup", "tag", tag)
			res, lerr := a.Lookup(ctx, tag)
			if lerr != nil {
				return nil, lerr
			}
			if c, ok := res.Container(); ok {
				return c, nil
			}
		}
		return nil, fmt.Errorf("create release %s: %w", tag, err)
	}

	a.log.Sugar().Infow("created release", "tag", tag, "release_id", rel.GetID())
	return toContainer(rel), nil
}

// UploadAsset uploads the file at path into c under a timestamp-prefixed name.
func (a *Accessor) UploadAsset(ctx context.Context, c *Container, path, name, contentType string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrAssetUploadFailed, path, err)
	}
	defer f.Close()

	asset, _, err := a.api.UploadReleaseAsset(ctx, a.owner, a.repo, c.ID, &github.UploadOptions{
		Name:      filename.Stamped(a.now(), name),
		MediaType: contentType,
	}, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetUploadFailed, err)
	}
	return toAsset(asset), nil
}

func (a *Accessor) DeleteAsset(ctx context.Context, id int64) error {
	if _, err := a.api.DeleteReleaseAsset(ctx, a.owner, a.repo, id); err != nil {
		return fmt.Errorf("delete release asset %d: %w", id, err)
	}
	return nil
}

// OpenAsset returns the asset metadata and a reader over its bytes; the caller closes it.
func (a *Accessor) OpenAsset(ctx context.Context, id int64) (io.ReadCloser, *Asset, error) {
	meta, resp, err := a.api.GetReleaseAsset(ctx, a.owner, a.repo, id)
	if err != nil {
		if isStatus(resp, err, http.StatusNotFound) {
			return nil, nil, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
		}
		return nil, nil, fmt.Errorf("get release asset %d: %w", id, err)
	}
	rc, _, err := a.api.DownloadReleaseAsset(ctx, a.owner, a.repo, id, a.dl)
	if err != nil {
		return nil, nil, fmt.Errorf("download release asset %d: %w", id, err)
	}
	return rc, toAsset(meta), nil
}

func toContainer(rel *github.RepositoryRelease) *Container {
	return &Container{ID: rel.GetID(), Tag: rel.GetTagName(), Name: rel.GetName()}
}

func toAsset(a *github.ReleaseAsset) *Asset {
	return &Asset{
		ID:          a.GetID(),
		Name:        a.GetName(),
		Size:        int64(a.GetSize()),
		DownloadURL: a.GetBrowserDownloadURL(),
	}
}

func isStatus(resp *github.Response, err error, code int) bool {
	if resp != nil && resp.Response != nil && resp.StatusCode == code {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == code
}

func alreadyExists(resp *github.Response, err error) bool {
	if !isStatus(resp, err, http.StatusUnprocessableEntity) {
		return false
	}
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return false
}
