package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// S3Deps talks to the intermediate object store through its S3-compatible API.
// Supabase Storage exposes one per project, so covers, staged PDFs and legacy
// supabase_storage books all live in the same bucket.
type S3Deps struct {
	Client        *s3.Client
	Uploader      *manager.Uploader
	Presigner     *s3.PresignClient
	Bucket        string
	PublicBaseURL string
}

func NewS3(ctx context.Context, cfg *config.Config) (*S3Deps, error) {
	loadOpts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(cfg.S3.Region),
	}
	if cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		loadOpts = append(loadOpts, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		))
	}

	acfg, err := awsCfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	otelaws.AppendMiddlewares(&acfg.APIOptions)

	s3Opts := func(o *s3.Options) {
		if ep := strings.TrimSpace(cfg.S3.Endpoint); ep != "" {
			if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
				ep = "https://" + ep
			}
			if u, uerr := url.Parse(ep); uerr == nil {
				o.BaseEndpoint = aws.String(u.String())
			}
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	}

	client := s3.NewFromConfig(acfg, s3Opts)

	return &S3Deps{
		Client:        client,
		Uploader:      manager.NewUploader(client),
		Presigner:     s3.NewPresignClient(client),
		Bucket:        cfg.S3.Bucket,
		PublicBaseURL: strings.TrimRight(cfg.S3.PublicBaseURL, "/"),
	}, nil
}

type UploadedMeta struct {
	Bucket string
	Key    string
	ETag   string
	MIME   string
}

// Upload streams body to key. With upsert=false an existing object is kept and
// the call fails with a precondition error.
func (s *S3Deps) Upload(ctx context.Context, key string, body io.Reader, contentType string, upsert bool) (*UploadedMeta, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if !upsert {
		input.IfNoneMatch = aws.String("*")
	}

	out, err := s.Uploader.Upload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	meta := &UploadedMeta{Bucket: s.Bucket, Key: key, MIME: contentType}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	return meta, nil
}

// Download opens the object body; the caller closes it.
func (s *S3Deps) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, errors.New("key is empty")
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Deps) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is empty")
	}
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	return err
}

// Generate a pre-signed PUT URL (clients stage large files directly with it)
func (s *S3Deps) PresignPut(ctx context.Context, key, contentType string, expire time.Duration) (string, error) {
	ps, err := s.Presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.Bucket,
		Key:         &key,
		ContentType: &contentType,
	}, func(po *s3.PresignOptions) {
		po.Expires = expire
	})
	if err != nil {
		return "", err
	}
	return ps.URL, nil
}

func (s *S3Deps) PublicURL(key string) string {
	return PublicURL(s.PublicBaseURL, key)
}

func (s *S3Deps) KeyFromPublicURL(raw string) (string, bool) {
	return KeyFromPublicURL(s.PublicBaseURL, raw)
}

// PublicURL joins base and key, escaping each key segment.
func PublicURL(base, key string) string {
	segs := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segs, "/")
}

// KeyFromPublicURL reverses PublicURL. It reports false for URLs outside base.
func KeyFromPublicURL(base, raw string) (string, bool) {
	base = strings.TrimRight(base, "/")
	if base == "" || !strings.HasPrefix(raw, base+"/") {
		return "", false
	}
	rest := strings.TrimPrefix(raw, base+"/")
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	key, err := url.PathUnescape(rest)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}
