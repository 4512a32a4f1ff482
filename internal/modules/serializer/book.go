package serializer

import (
	"fmt"

	"github.com/gyandhara/gyandhara-api/internal/modules/model"
)

// BookView is a book row plus the fields the admin panel derives from it.
type BookView struct {
	*model.Book
	FileSizeMB      string `json:"file_size_mb"`
	IsGitHubRelease bool   `json:"is_github_release"`
}

func NewBookView(b *model.Book) *BookView {
	if b == nil {
		return nil
	}
	return &BookView{
		Book:            b,
		FileSizeMB:      fmt.Sprintf("%.2f", float64(b.FileSizeBytes)/(1024*1024)),
		IsGitHubRelease: b.Location().StorageType == model.StorageGitHubRelease,
	}
}

func NewBookViews(bs []*model.Book) []*BookView {
	out := make([]*BookView, 0, len(bs))
	for _, b := range bs {
		out = append(out, NewBookView(b))
	}
	return out
}
