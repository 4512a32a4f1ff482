package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StorageType string

const (
	StorageLocal         StorageType = "local"
	StorageSupabase      StorageType = "supabase_storage"
	StorageGitHubRelease StorageType = "github_release"
)

func (t StorageType) Valid() bool {
	switch t {
	case StorageLocal, StorageSupabase, StorageGitHubRelease:
		return true
	}
	return false
}

// Book is one uploaded PDF and the single authoritative record of where its
// bytes live.
type Book struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID         uuid.UUID `gorm:"type:uuid;not null;index" json:"topic_id"`
	Title           string    `gorm:"type:text;not null" json:"title"`
	Description     *string   `gorm:"type:text" json:"description"`
	BookNumber      int       `gorm:"not null;default:1" json:"book_number"`
	Author          *string   `gorm:"type:text" json:"author"`
	Publisher       *string   `gorm:"type:text" json:"publisher"`
	PublicationYear *int      `json:"publication_year"`
	ISBN            *string   `gorm:"column:isbn;type:text" json:"isbn"`
	DisplayOrder    int       `gorm:"not null;default:1;index" json:"display_order"`

	PDFURL        string  `gorm:"column:pdf_url;type:text" json:"pdf_url"`
	PDFFilename   string  `gorm:"column:pdf_filename;type:text" json:"pdf_filename"`
	FileSizeBytes int64   `gorm:"column:file_size_bytes" json:"file_size_bytes"`
	CoverImageURL *string `gorm:"column:cover_image_url;type:text" json:"cover_image_url"`
	IsActive      bool    `gorm:"not null;default:true;index" json:"is_active"`

	StorageType      *StorageType `gorm:"column:storage_type;type:text;index" json:"storage_type"`
	GitHubAssetID    *int64       `gorm:"column:github_asset_id" json:"github_asset_id"`
	GitHubReleaseTag *string      `gorm:"column:github_release_tag;type:text" json:"github_release_tag"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Book <-> Topic
	Topic *Topic `gorm:"foreignKey:TopicID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (Book) TableName() string { return "topic_books" }

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Location reports where the book's bytes currently live. Rows written before
// storage_type existed are treated as local.
func (b *Book) Location() Location {
	st := StorageLocal
	if b.StorageType != nil && *b.StorageType != "" {
		st = *b.StorageType
	}
	return Location{
		StorageType: st,
		URL:         b.PDFURL,
		AssetID:     b.GitHubAssetID,
		ReleaseTag:  b.GitHubReleaseTag,
	}
}

var (
	ErrLocationMissingAsset = errors.New("github_release location requires asset id and release tag")
	ErrLocationStrayAsset   = errors.New("only github_release locations may carry an asset id or release tag")
	ErrLocationNoURL        = errors.New("location has no url")
	ErrLocationBadType      = errors.New("unknown storage type")
)

// Location is the set of binary fields of a Book. It is the only value the
// recorder accepts for them, so storage_type and its backend fields always
// change together.
type Location struct {
	StorageType StorageType `json:"type"`
	URL         string      `json:"download_url"`
	AssetID     *int64      `json:"asset_id,omitempty"`
	ReleaseTag  *string     `json:"release_tag,omitempty"`

	// ObjectKey is set for supabase_storage locations; it is derivable from URL
	// and not persisted.
	ObjectKey string `json:"-"`
}

func (l Location) Validate() error {
	if !l.StorageType.Valid() {
		return ErrLocationBadType
	}
	if l.URL == "" {
		return ErrLocationNoURL
	}
	hasAsset := l.AssetID != nil && *l.AssetID != 0
	hasTag := l.ReleaseTag != nil && *l.ReleaseTag != ""
	if l.StorageType == StorageGitHubRelease {
		if !hasAsset || !hasTag {
			return ErrLocationMissingAsset
		}
		return nil
	}
	if hasAsset || hasTag {
		return ErrLocationStrayAsset
	}
	return nil
}

// Columns returns the row fields for l, clearing the release fields for other
// backends.
func (l Location) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"pdf_url":            l.URL,
		"storage_type":       string(l.StorageType),
		"github_asset_id":    nil,
		"github_release_tag": nil,
	}
	if l.StorageType == StorageGitHubRelease {
		cols["github_asset_id"] = *l.AssetID
		cols["github_release_tag"] = *l.ReleaseTag
	}
	return cols
}

// Apply copies l onto b.
func (l Location) Apply(b *Book) {
	st := l.StorageType
	b.StorageType = &st
	b.PDFURL = l.URL
	b.GitHubAssetID = nil
	b.GitHubReleaseTag = nil
	if l.StorageType == StorageGitHubRelease {
		id, tag := *l.AssetID, *l.ReleaseTag
		b.GitHubAssetID = &id
		b.GitHubReleaseTag = &tag
	}
}
