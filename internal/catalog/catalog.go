// Package catalog adapts the platform's content and behavior stores. The engine only
// reads through these interfaces; the tables behind them are owned by the CRUD side.
package catalog

import (
	"context"
	"errors"

	"github.com/hyperjump/hondana/internal/models"
)

// ErrNotFound is returned (wrapped) for unknown books, chapters or users.
var ErrNotFound = errors.New("not found")

// Chapter is the raw text of one chapter.
type Chapter struct {
	ID       string
	BookID   string
	Position int
	Text     string
}

// ContentStore yields chapter text and book metadata.
type ContentStore interface {
	GetChapterText(ctx context.Context, chapterID string) (*Chapter, error)
	GetBookMetadata(ctx context.Context, bookID string) (*models.BookMetadata, error)
	GetBookCategories(ctx context.Context, bookIDs []string) (map[string][]string, error)
	ListChaptersForBook(ctx context.Context, bookID string) ([]string, error)
	ListBookIDs(ctx context.Context) ([]string, error)
}

// InteractionStore yields user behavior. An unknown user has empty interactions, not an error.
type InteractionStore interface {
	GetUserInteractions(ctx context.Context, userID string) (*models.Interactions, error)
	ListUsersWhoInteractedWith(ctx context.Context, bookID string) ([]string, error)
	// CountInteractionsByBook maps every catalog book to its distinct interacting users.
	CountInteractionsByBook(ctx context.Context) (map[string]int, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

var (
	_ ContentStore     = (*SQLiteCatalog)(nil)
	_ InteractionStore = (*SQLiteCatalog)(nil)
	_ ContentStore     = (*MemoryCatalog)(nil)
	_ InteractionStore = (*MemoryCatalog)(nil)
)
