package httpclient

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/pkg/utils/filename"
	"go.uber.org/zap"
)

// Source describes the bytes behind a stored pdf_url.
type Source struct {
	Name        string
	ContentType string
	Size        int64
}

// SourceClient reads the binary of a book from wherever its pdf_url points:
// an absolute URL, or a legacy /uploads path served from local disk or the
// app's own base URL.
type SourceClient struct {
	BaseURL    string
	LegacyDir  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewSourceClient(cfg *config.Config, log *zap.Logger) *SourceClient {
	timeout := time.Duration(cfg.Upload.DownloadTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SourceClient{
		BaseURL:    strings.TrimRight(cfg.App.BaseURL, "/"),
		LegacyDir:  cfg.Upload.LegacyDir,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     log,
	}
}

// Open returns a reader over the bytes at pdfURL; the caller closes it.
func (c *SourceClient) Open(ctx context.Context, pdfURL string) (io.ReadCloser, *Source, error) {
	switch {
	case pdfURL == "":
		return nil, nil, fmt.Errorf("missing pdf_url")
	case strings.HasPrefix(pdfURL, "http://"), strings.HasPrefix(pdfURL, "https://"):
		return c.get(ctx, pdfURL)
	case strings.HasPrefix(pdfURL, "/"):
		if rc, src, ok := c.openLegacy(pdfURL); ok {
			return rc, src, nil
		}
		return c.get(ctx, c.BaseURL+pdfURL)
	default:
		return nil, nil, fmt.Errorf("unsupported pdf_url %q", pdfURL)
	}
}

func (c *SourceClient) openLegacy(pdfURL string) (io.ReadCloser, *Source, bool) {
	if c.LegacyDir == "" || !strings.HasPrefix(pdfURL, "/uploads/") {
		return nil, nil, false
	}
	rel := path.Clean("/" + strings.TrimPrefix(pdfURL, "/uploads/"))
	p := filepath.Join(c.LegacyDir, filepath.FromSlash(rel))
	f, err := os.Open(p)
	if err != nil {
		return nil, nil, false
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		f.Close()
		return nil, nil, false
	}
	return f, &Source{Name: filename.Sanitize(st.Name()), ContentType: "application/pdf", Size: st.Size()}, true
}

func (c *SourceClient) get(ctx context.Context, rawURL string) (io.ReadCloser, *Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.Logger.Warn("source download failed", zap.String("url", rawURL), zap.Int("status_code", resp.StatusCode))
		return nil, nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/pdf"
	}
	return resp.Body, &Source{
		Name:        sourceName(resp.Header.Get("Content-Disposition"), rawURL),
		ContentType: ct,
		Size:        resp.ContentLength,
	}, nil
}

// sourceName prefers the Content-Disposition filename, then the last path
// segment, then a generic name.
func sourceName(disposition, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if n := filename.Sanitize(params["filename"]); n != "" {
				return n
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base, err := url.PathUnescape(path.Base(u.Path)); err == nil {
			if n := filename.Sanitize(base); n != "" && n != "/" && n != "." {
				return n
			}
		}
	}
	return "document.pdf"
}
