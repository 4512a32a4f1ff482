package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gyandhara/gyandhara-api/internal/infra/httpclient"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
)

// CatalogReader serves the published book catalog. *httpclient.CatalogClient
// satisfies it.
type CatalogReader interface {
	Index(ctx context.Context) ([]byte, error)
	Book(ctx context.Context, bookID string) ([]byte, error)
	Page(ctx context.Context, bookID string, page int) ([]byte, error)
	Topics(ctx context.Context, bookID, language string) (*httpclient.CatalogTopics, error)
	Topic(ctx context.Context, bookID, topicID, language string) (map[string]interface{}, error)
	ClearCache(ctx context.Context) error
}

type CatalogHandler struct {
	catalog CatalogReader
}

func NewCatalogHandler(c CatalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

// ListCatalog godoc
//
//	@Summary	Catalog index
//	@Tags		catalog
//	@Produce	json
//	@Success	200	{object}	object
//	@Router		/catalog/books [get]
func (h *CatalogHandler) ListCatalog(c *gin.Context) {
	raw, err := h.catalog.Index(c.Request.Context())
	if err != nil {
		catalogErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// GetCatalogBook godoc
//
//	@Summary	Catalog book metadata
//	@Tags		catalog
//	@Produce	json
//	@Param		book_id	path		string	true	"Catalog book ID"
//	@Success	200		{object}	object
//	@Router		/catalog/books/{book_id} [get]
func (h *CatalogHandler) GetCatalogBook(c *gin.Context) {
	raw, err := h.catalog.Book(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		catalogErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// GetCatalogPage godoc
//
//	@Summary	Catalog page
//	@Tags		catalog
//	@Produce	json
//	@Param		book_id	path		string	true	"Catalog book ID"
//	@Param		page	path		integer	true	"Page number"
//	@Success	200		{object}	object
//	@Router		/catalog/books/{book_id}/pages/{page} [get]
func (h *CatalogHandler) GetCatalogPage(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid page number", err))
		return
	}
	raw, err := h.catalog.Page(c.Request.Context(), c.Param("book_id"), page)
	if err != nil {
		catalogErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// ListCatalogTopics godoc
//
//	@Summary		Catalog topics
//	@Description	Topics of a catalog book. With lang, titles are replaced by their translation where one exists.
//	@Tags			catalog
//	@Produce		json
//	@Param			book_id	path		string	true	"Catalog book ID"
//	@Param			lang	query		string	false	"Language code, e.g. hi"
//	@Success		200		{object}	serializer.Response{data=httpclient.CatalogTopics}
//	@Router			/catalog/books/{book_id}/topics [get]
func (h *CatalogHandler) ListCatalogTopics(c *gin.Context) {
	out, err := h.catalog.Topics(c.Request.Context(), c.Param("book_id"), c.Query("lang"))
	if err != nil {
		catalogErr(c, err)
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: out})
}

// GetCatalogTopic godoc
//
//	@Summary	Catalog topic
//	@Tags		catalog
//	@Produce	json
//	@Param		book_id		path		string	true	"Catalog book ID"
//	@Param		topic_id	path		string	true	"Topic ID"
//	@Param		lang		query		string	false	"Language code"
//	@Success	200			{object}	serializer.Response{data=object}
//	@Router		/catalog/books/{book_id}/topics/{topic_id} [get]
func (h *CatalogHandler) GetCatalogTopic(c *gin.Context) {
	out, err := h.catalog.Topic(c.Request.Context(), c.Param("book_id"), c.Param("topic_id"), c.Query("lang"))
	if err != nil {
		catalogErr(c, err)
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: out})
}

// ClearCatalogCache godoc
//
//	@Summary	Clear catalog cache
//	@Tags		catalog
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	serializer.Response{}
//	@Router		/catalog/cache [delete]
func (h *CatalogHandler) ClearCatalogCache(c *gin.Context) {
	if err := h.catalog.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, serializer.Err(http.StatusInternalServerError, "failed to clear cache", err))
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Msg: "Cache cleared successfully"})
}

func catalogErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, httpclient.ErrCatalogBadID):
		c.JSON(http.StatusBadRequest, serializer.ParamErr(err.Error(), err))
	case errors.Is(err, httpclient.ErrCatalogNotFound):
		c.JSON(http.StatusNotFound, serializer.NotFoundErr(err.Error(), err))
	default:
		c.JSON(http.StatusBadGateway, serializer.Err(http.StatusBadGateway, "Failed to fetch from GitHub", err))
	}
}
