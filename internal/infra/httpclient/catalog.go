package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/infra/cache"
	"go.uber.org/zap"
)

var (
	ErrCatalogNotFound = errors.New("resource not found on GitHub")
	ErrCatalogBadID    = errors.New("invalid catalog id")
)

var catalogID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CatalogClient reads the processed book JSON published in a GitHub repository
// through a TTL cache.
type CatalogClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      cache.Cache
	Logger     *zap.Logger
}

func NewCatalogClient(cfg *config.Config, c cache.Cache, log *zap.Logger) *CatalogClient {
	owner, repo := cfg.Catalog.Owner, cfg.Catalog.Repo
	if owner == "" {
		owner = cfg.GitHub.Owner
	}
	if repo == "" {
		repo = cfg.GitHub.Repo
	}
	return &CatalogClient{
		BaseURL: fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s",
			owner, repo, cfg.Catalog.Branch, cfg.Catalog.DataPath),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Cache:  c,
		Logger: log,
	}
}

// CatalogTopics is the topics file of one book, optionally translated.
type CatalogTopics struct {
	BookID      string                   `json:"bookId"`
	TotalTopics int                      `json:"totalTopics"`
	Topics      []map[string]interface{} `json:"topics"`
}

// Index returns the raw books index.
func (c *CatalogClient) Index(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, "index.json", "books-index")
}

// Book returns the raw metadata of one book.
func (c *CatalogClient) Book(ctx context.Context, bookID string) ([]byte, error) {
	if !catalogID.MatchString(bookID) {
		return nil, ErrCatalogBadID
	}
	return c.fetch(ctx, bookID+"/metadata.json", "book-"+bookID+"-metadata")
}

// Page returns the raw JSON of one page of a book.
func (c *CatalogClient) Page(ctx context.Context, bookID string, page int) ([]byte, error) {
	if !catalogID.MatchString(bookID) || page < 1 {
		return nil, ErrCatalogBadID
	}
	n := strconv.Itoa(page)
	return c.fetch(ctx, bookID+"/pages/page_"+n+".json", "book-"+bookID+"-page-"+n)
}

// Topics returns the topics of a book. A language other than "" or "all"
// swaps in that translation wherever one exists.
func (c *CatalogClient) Topics(ctx context.Context, bookID, language string) (*CatalogTopics, error) {
	if !catalogID.MatchString(bookID) {
		return nil, ErrCatalogBadID
	}
	raw, err := c.fetch(ctx, bookID+"/topics.json", "book-"+bookID+"-topics")
	if err != nil {
		return nil, err
	}

	var doc CatalogTopics
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	if doc.Topics == nil {
		doc.Topics = []map[string]interface{}{}
	}
	if language != "" && language != "all" {
		for _, t := range doc.Topics {
			translate(t, language)
		}
	}
	doc.TotalTopics = len(doc.Topics)
	return &doc, nil
}

// Topic returns one topic of a book by id.
func (c *CatalogClient) Topic(ctx context.Context, bookID, topicID, language string) (map[string]interface{}, error) {
	doc, err := c.Topics(ctx, bookID, language)
	if err != nil {
		return nil, err
	}
	for _, t := range doc.Topics {
		if id, _ := t["id"].(string); id == topicID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: topic %s", ErrCatalogNotFound, topicID)
}

func (c *CatalogClient) ClearCache(ctx context.Context) error {
	return c.Cache.Clear(ctx)
}

func translate(topic map[string]interface{}, language string) {
	all, _ := topic["translations"].(map[string]interface{})
	tr, ok := all[language].(map[string]interface{})
	if !ok {
		return
	}
	for _, field := range []string{"title", "summary", "content"} {
		if v, ok := tr[field].(string); ok && v != "" {
			topic[field] = v
		}
	}
	topic["displayLanguage"] = language
}

func (c *CatalogClient) fetch(ctx context.Context, relPath, cacheKey string) ([]byte, error) {
	if b, ok, err := c.Cache.Get(ctx, cacheKey); err != nil {
		c.Logger.Warn("catalog cache get", zap.String("key", cacheKey), zap.Error(err))
	} else if ok {
		return b, nil
	}

	endpoint := c.BaseURL + "/" + relPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "GyanDhara-App/1.0")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from GitHub: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrCatalogNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.Logger.Error("catalog request failed",
			zap.String("url", endpoint),
			zap.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("failed to fetch from GitHub: status %d", resp.StatusCode)
	}
	if !sonic.Valid(body) {
		return nil, fmt.Errorf("failed to fetch from GitHub: %s is not valid JSON", relPath)
	}

	if err := c.Cache.Set(ctx, cacheKey, body); err != nil {
		c.Logger.Warn("catalog cache set", zap.String("key", cacheKey), zap.Error(err))
	}
	return body, nil
}
