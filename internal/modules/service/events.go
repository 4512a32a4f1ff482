package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
)

const (
	EventBookUploaded       = "book.uploaded"
	EventBookUpdated        = "book.updated"
	EventBookDeleted        = "book.deleted"
	EventBookMigrated       = "book.migrated"
	EventMigrationRequested = "migration.requested"
)

// Events publishes domain events. Publishing never fails the caller.
type Events interface {
	Publish(ctx context.Context, routingKey string, payload any)
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, string, any) {}

// NopEvents drops every event.
func NopEvents() Events { return nopEvents{} }

type BookEvent struct {
	BookID      uuid.UUID         `json:"book_id"`
	TopicID     uuid.UUID         `json:"topic_id"`
	Title       string            `json:"title"`
	StorageType model.StorageType `json:"storage_type"`
	PDFURL      string            `json:"pdf_url"`
	At          time.Time         `json:"at"`
}

func bookEvent(b *model.Book) BookEvent {
	loc := b.Location()
	return BookEvent{
		BookID:      b.ID,
		TopicID:     b.TopicID,
		Title:       b.Title,
		StorageType: loc.StorageType,
		PDFURL:      loc.URL,
		At:          time.Now().UTC(),
	}
}

// MigrationRequest is the queue message behind an async sweep.
type MigrationRequest struct {
	RunID  uuid.UUID         `json:"run_id"`
	Target model.StorageType `json:"target"`
}
