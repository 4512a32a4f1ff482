package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
)

type BookHandler struct {
	svc     service.BookService
	maxBody int64
}

// NewBookHandler limits multipart bodies to maxBody bytes; 0 disables the limit.
func NewBookHandler(s service.BookService, maxBody int64) *BookHandler {
	return &BookHandler{svc: s, maxBody: maxBody}
}

type UploadBookReq struct {
	ThemeID         string  `form:"theme_id" json:"theme_id" example:"123e4567-e89b-12d3-a456-426614174000"`
	TopicID         string  `form:"topic_id" json:"topic_id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Title           string  `form:"title" json:"title" example:"Class 10 Science"`
	Description     *string `form:"description" json:"description"`
	BookNumber      *int    `form:"book_number" json:"book_number" example:"1"`
	Author          *string `form:"author" json:"author"`
	Publisher       *string `form:"publisher" json:"publisher" example:"NCERT"`
	PublicationYear *int    `form:"publication_year" json:"publication_year" example:"2023"`
	ISBN            *string `form:"isbn" json:"isbn"`
	DisplayOrder    *int    `form:"display_order" json:"display_order" example:"1"`
	StagedKey       string  `form:"staged_key" json:"staged_key" example:"staging/2026/10/15/1760486400000000000-atlas.pdf"`
}

// UploadBookResp and the other write responses are rendered without the
// serializer.Response envelope; admin clients read success and book at the top level.
type UploadBookResp struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Book    *serializer.BookView `json:"book"`
	Storage service.StorageInfo  `json:"storage"`
}

type BookResp struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Book    *serializer.BookView `json:"book"`
}

type DeleteBookResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UploadBook godoc
//
//	@Summary		Upload book
//	@Description	Upload a PDF (or adopt a pre-staged one) with optional cover image and record it under a topic. With theme_id the theme's PDF bucket topic is used.
//	@Tags			books
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			theme_id			formData	string	false	"Theme ID (required without topic_id)"	Format(uuid)
//	@Param			topic_id			formData	string	false	"Topic ID"	Format(uuid)
//	@Param			title				formData	string	true	"Book title"
//	@Param			pdf					formData	file	false	"PDF file (required without staged_key)"
//	@Param			staged_key			formData	string	false	"Key returned by /books/staging-url"
//	@Param			cover_image			formData	file	false	"Cover image (jpeg, png or webp)"
//	@Param			description			formData	string	false	"Description"
//	@Param			book_number			formData	integer	false	"Book number"
//	@Param			author				formData	string	false	"Author"
//	@Param			publisher			formData	string	false	"Publisher"
//	@Param			publication_year	formData	integer	false	"Publication year"
//	@Param			isbn				formData	string	false	"ISBN"
//	@Param			display_order		formData	integer	false	"Display order"
//	@Security		BearerAuth
//	@Success		200	{object}	handler.UploadBookResp
//	@Failure		400	{object}	serializer.Response
//	@Failure		500	{object}	serializer.Response
//	@Router			/books/upload [post]
func (h *BookHandler) UploadBook(c *gin.Context) {
	h.limitBody(c)
	req := UploadBookReq{}
	if err := c.ShouldBind(&req); err != nil {
		h.bindErr(c, err)
		return
	}
	pdf, cover, err := h.files(c)
	if err != nil {
		h.bindErr(c, err)
		return
	}

	out, err := h.svc.Upload(c.Request.Context(), service.UploadInput{
		TopicID:         strings.TrimSpace(req.TopicID),
		ThemeID:         strings.TrimSpace(req.ThemeID),
		Title:           req.Title,
		Description:     req.Description,
		BookNumber:      req.BookNumber,
		Author:          req.Author,
		Publisher:       req.Publisher,
		PublicationYear: req.PublicationYear,
		ISBN:            req.ISBN,
		DisplayOrder:    req.DisplayOrder,
		PDF:             pdf,
		StagedKey:       strings.TrimSpace(req.StagedKey),
		Cover:           cover,
	})
	if err != nil {
		respondErr(c, "Upload failed", err)
		return
	}

	c.JSON(http.StatusOK, UploadBookResp{
		Success: true,
		Message: uploadedMsg(out.Storage.Type),
		Book:    serializer.NewBookView(out.Book),
		Storage: out.Storage,
	})
}

func uploadedMsg(t model.StorageType) string {
	switch t {
	case model.StorageGitHubRelease:
		return "PDF uploaded successfully to GitHub Releases"
	case model.StorageSupabase:
		return "PDF uploaded successfully to Supabase Storage"
	default:
		return "PDF uploaded successfully"
	}
}

type UpdateBookReq struct {
	Title           *string `form:"title" json:"title"`
	Description     *string `form:"description" json:"description"`
	BookNumber      *int    `form:"book_number" json:"book_number"`
	Author          *string `form:"author" json:"author"`
	Publisher       *string `form:"publisher" json:"publisher"`
	PublicationYear *int    `form:"publication_year" json:"publication_year"`
	ISBN            *string `form:"isbn" json:"isbn"`
	DisplayOrder    *int    `form:"display_order" json:"display_order"`
	IsActive        *bool   `form:"is_active" json:"is_active"`
	StagedKey       string  `form:"staged_key" json:"staged_key"`
}

// UpdateBook godoc
//
//	@Summary		Update book
//	@Description	Partially update a book. A new pdf replaces the binary; the old one is deleted only after the record points at the new one.
//	@Tags			books
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id			path		string	true	"Book ID"	Format(uuid)
//	@Param			pdf			formData	file	false	"Replacement PDF"
//	@Param			cover_image	formData	file	false	"Replacement cover"
//	@Security		BearerAuth
//	@Success		200	{object}	handler.BookResp
//	@Failure		400	{object}	serializer.Response
//	@Failure		404	{object}	serializer.Response
//	@Router			/books/{id} [put]
func (h *BookHandler) UpdateBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid book id", err))
		return
	}
	h.limitBody(c)
	req := UpdateBookReq{}
	if err := c.ShouldBind(&req); err != nil {
		h.bindErr(c, err)
		return
	}
	pdf, cover, err := h.files(c)
	if err != nil {
		h.bindErr(c, err)
		return
	}

	book, err := h.svc.Update(c.Request.Context(), id, service.UpdateInput{
		Title:           req.Title,
		Description:     req.Description,
		BookNumber:      req.BookNumber,
		Author:          req.Author,
		Publisher:       req.Publisher,
		PublicationYear: req.PublicationYear,
		ISBN:            req.ISBN,
		DisplayOrder:    req.DisplayOrder,
		IsActive:        req.IsActive,
		PDF:             pdf,
		StagedKey:       strings.TrimSpace(req.StagedKey),
		Cover:           cover,
	})
	if err != nil {
		respondErr(c, "Update failed", err)
		return
	}

	c.JSON(http.StatusOK, BookResp{
		Success: true,
		Message: "Book updated successfully",
		Book:    serializer.NewBookView(book),
	})
}

// DeleteBook godoc
//
//	@Summary		Delete book
//	@Description	Delete the stored PDF (best-effort) and then the book record
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	handler.DeleteBookResp
//	@Failure		404	{object}	serializer.Response
//	@Router			/books/{id} [delete]
func (h *BookHandler) DeleteBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid book id", err))
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondErr(c, "Delete failed", err)
		return
	}
	c.JSON(http.StatusOK, DeleteBookResp{Success: true, Message: "PDF deleted successfully"})
}

// GetBook godoc
//
//	@Summary	Get book
//	@Tags		books
//	@Produce	json
//	@Param		id	path		string	true	"Book ID"	Format(uuid)
//	@Success	200	{object}	serializer.Response{data=handler.BookResp}
//	@Router		/books/{id} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid book id", err))
		return
	}
	book, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondErr(c, "Failed to fetch book", err)
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: BookResp{Success: true, Book: serializer.NewBookView(book)}})
}

type ListBooksReq struct {
	TopicID string `form:"topic_id" json:"topic_id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Limit   int    `form:"limit,default=50" json:"limit" binding:"required,min=1,max=200" example:"50"`
	Cursor  string `form:"cursor" json:"cursor"`
}

type ListBooksResp struct {
	Success    bool                   `json:"success"`
	Books      []*serializer.BookView `json:"books"`
	NextCursor string                 `json:"next_cursor,omitempty"`
	HasMore    bool                   `json:"has_more"`
}

// ListBooks godoc
//
//	@Summary		List books
//	@Description	List active books ordered by display order, optionally within one topic
//	@Tags			books
//	@Produce		json
//	@Param			topic_id	query	string	false	"Topic ID"	Format(uuid)
//	@Param			limit		query	integer	false	"Limit of books to return, default 50. Max 200."
//	@Param			cursor		query	string	false	"Cursor from the previous page"
//	@Success		200	{object}	serializer.Response{data=handler.ListBooksResp}
//	@Router			/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	req := ListBooksReq{}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	var topicID uuid.UUID
	if req.TopicID != "" {
		var err error
		if topicID, err = uuid.Parse(req.TopicID); err != nil {
			c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid topic_id", err))
			return
		}
	}

	out, err := h.svc.List(c.Request.Context(), service.ListBooksInput{TopicID: topicID, Limit: req.Limit, Cursor: req.Cursor})
	if err != nil {
		if service.IsValidation(err) {
			respondErr(c, "", err)
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: ListBooksResp{
		Success:    true,
		Books:      serializer.NewBookViews(out.Items),
		NextCursor: out.NextCursor,
		HasMore:    out.HasMore,
	}})
}

type StatsResp struct {
	Success bool                 `json:"success"`
	Stats   *service.StatsOutput `json:"stats"`
}

// GetStats godoc
//
//	@Summary	Storage statistics
//	@Tags		books
//	@Produce	json
//	@Success	200	{object}	handler.StatsResp
//	@Router		/books/stats [get]
func (h *BookHandler) GetStats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, serializer.DBErr("Failed to fetch stats", err))
		return
	}
	c.JSON(http.StatusOK, StatsResp{Success: true, Stats: st})
}

// StreamAsset godoc
//
//	@Summary		Stream release asset
//	@Description	Proxy a PDF stored as a release asset so browsers can display it inline
//	@Tags			books
//	@Produce		application/pdf
//	@Param			asset_id	path	integer	true	"Release asset ID"
//	@Success		200
//	@Router			/books/asset/{asset_id} [get]
func (h *BookHandler) StreamAsset(c *gin.Context) {
	assetID, err := strconv.ParseInt(c.Param("asset_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("Invalid asset ID", err))
		return
	}

	rc, meta, err := h.svc.OpenAsset(c.Request.Context(), assetID)
	if err != nil {
		respondErr(c, "Failed to fetch asset", err)
		return
	}
	defer rc.Close()

	name := meta.Name
	if name == "" {
		name = "document.pdf"
	}
	size := meta.Size
	if size <= 0 {
		size = -1
	}
	c.DataFromReader(http.StatusOK, size, "application/pdf", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="%s"`, strings.ReplaceAll(name, `"`, "")),
		"Cache-Control":       "public, max-age=86400",
	})
}

type StagingURLReq struct {
	Filename    string `json:"filename" binding:"required" example:"atlas.pdf"`
	ContentType string `json:"content_type" example:"application/pdf"`
}

// CreateStagingURL godoc
//
//	@Summary		Presigned staging upload
//	@Description	Reserve a staging key and return a presigned PUT URL for uploading a large PDF directly to storage. Submit the key as staged_key afterwards.
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			payload	body	handler.StagingURLReq	true	"File to stage"
//	@Security		BearerAuth
//	@Success		201	{object}	serializer.Response{data=service.StagingURLOutput}
//	@Router			/books/staging-url [post]
func (h *BookHandler) CreateStagingURL(c *gin.Context) {
	req := StagingURLReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	out, err := h.svc.StagingURL(c.Request.Context(), req.Filename, req.ContentType)
	if err != nil {
		respondErr(c, "Failed to create staging url", err)
		return
	}
	c.JSON(http.StatusCreated, serializer.Response{Data: out})
}

func (h *BookHandler) limitBody(c *gin.Context) {
	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}
}

func (h *BookHandler) bindErr(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		c.JSON(http.StatusBadRequest, serializer.ParamErr(
			fmt.Sprintf("request exceeds %dMB maximum limit", h.maxBody/(1024*1024)), service.ErrFileTooLarge))
		return
	}
	c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
}

func (h *BookHandler) files(c *gin.Context) (pdf, cover *multipart.FileHeader, err error) {
	if pdf, err = optionalFile(c, "pdf"); err != nil {
		return nil, nil, err
	}
	if cover, err = optionalFile(c, "cover_image"); err != nil {
		return nil, nil, err
	}
	return pdf, cover, nil
}

func optionalFile(c *gin.Context, field string) (*multipart.FileHeader, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	return fh, err
}
