package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/hondana/internal/models"
)

// MemoryCatalog is an in-process ContentStore and InteractionStore for tests and demos.
type MemoryCatalog struct {
	mu          sync.RWMutex
	books       map[string]*models.BookMetadata
	chapters    map[string]*Chapter
	bookOrder   map[string][]string
	ratings     map[string]map[string]models.Rating
	bookmarks   map[string][]models.Event
	reads       map[string][]models.Event
	purchases   map[string][]models.Event
	preferences map[string][]string
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		books:       make(map[string]*models.BookMetadata),
		chapters:    make(map[string]*Chapter),
		bookOrder:   make(map[string][]string),
		ratings:     make(map[string]map[string]models.Rating),
		bookmarks:   make(map[string][]models.Event),
		reads:       make(map[string][]models.Event),
		purchases:   make(map[string][]models.Event),
		preferences: make(map[string][]string),
	}
}

// AddBook stores or replaces book metadata.
func (m *MemoryCatalog) AddBook(meta models.BookMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cats := append([]string(nil), meta.Categories...)
	sort.Strings(cats)
	meta.Categories = cats
	m.books[meta.BookID] = &meta
}

// AddChapter stores or replaces a chapter, appending it to its book's reading order.
func (m *MemoryCatalog) AddChapter(bookID, chapterID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chapters[chapterID]; !ok {
		m.bookOrder[bookID] = append(m.bookOrder[bookID], chapterID)
	}
	m.chapters[chapterID] = &Chapter{ID: chapterID, BookID: bookID, Position: len(m.bookOrder[bookID]) - 1, Text: text}
}

// Rate records or replaces a rating.
func (m *MemoryCatalog) Rate(userID, bookID string, value float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ratings[userID] == nil {
		m.ratings[userID] = make(map[string]models.Rating)
	}
	m.ratings[userID][bookID] = models.Rating{BookID: bookID, Value: value, At: at}
}

// Read records a read completion.
func (m *MemoryCatalog) Read(userID, bookID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[userID] = append(m.reads[userID], models.Event{BookID: bookID, At: at})
}

// Bookmark records a bookmark.
func (m *MemoryCatalog) Bookmark(userID, bookID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookmarks[userID] = append(m.bookmarks[userID], models.Event{BookID: bookID, At: at})
}

// Purchase records a purchase.
func (m *MemoryCatalog) Purchase(userID, bookID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[userID] = append(m.purchases[userID], models.Event{BookID: bookID, At: at})
}

// Prefer sets a user's stated category preferences.
func (m *MemoryCatalog) Prefer(userID string, categories ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[userID] = append([]string(nil), categories...)
}

func (m *MemoryCatalog) GetChapterText(ctx context.Context, chapterID string) (*Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.chapters[chapterID]
	if !ok {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, ErrNotFound)
	}
	out := *ch
	return &out, nil
}

func (m *MemoryCatalog) GetBookMetadata(ctx context.Context, bookID string) (*models.BookMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.books[bookID]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	out := *meta
	out.Categories = append([]string(nil), meta.Categories...)
	return &out, nil
}

func (m *MemoryCatalog) GetBookCategories(ctx context.Context, bookIDs []string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(bookIDs))
	for _, id := range bookIDs {
		if meta, ok := m.books[id]; ok && len(meta.Categories) > 0 {
			out[id] = append([]string(nil), meta.Categories...)
		}
	}
	return out, nil
}

func (m *MemoryCatalog) ListChaptersForBook(ctx context.Context, bookID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.bookOrder[bookID]...), nil
}

func (m *MemoryCatalog) ListBookIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.books))
	for id := range m.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryCatalog) GetUserInteractions(ctx context.Context, userID string) (*models.Interactions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in := &models.Interactions{
		UserID:              userID,
		Bookmarks:           append([]models.Event(nil), m.bookmarks[userID]...),
		Reads:               append([]models.Event(nil), m.reads[userID]...),
		Purchases:           append([]models.Event(nil), m.purchases[userID]...),
		PreferredCategories: append([]string(nil), m.preferences[userID]...),
	}
	for _, r := range m.ratings[userID] {
		in.Ratings = append(in.Ratings, r)
	}
	sort.Slice(in.Ratings, func(i, j int) bool { return in.Ratings[i].BookID < in.Ratings[j].BookID })
	return in, nil
}

func (m *MemoryCatalog) ListUsersWhoInteractedWith(ctx context.Context, bookID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var users []string
	for user, books := range m.booksByUser() {
		if _, ok := books[bookID]; ok {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (m *MemoryCatalog) CountInteractionsByBook(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.books))
	for id := range m.books {
		out[id] = 0
	}
	for _, books := range m.booksByUser() {
		for id := range books {
			out[id]++
		}
	}
	return out, nil
}

func (m *MemoryCatalog) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := m.booksByUser()
	users := make([]string, 0, len(seen))
	for user := range seen {
		users = append(users, user)
	}
	for user := range m.preferences {
		if _, ok := seen[user]; !ok {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

// booksByUser must be called with the read lock held.
func (m *MemoryCatalog) booksByUser() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	add := func(user, book string) {
		if out[user] == nil {
			out[user] = make(map[string]struct{})
		}
		out[user][book] = struct{}{}
	}
	for user, rs := range m.ratings {
		for book := range rs {
			add(user, book)
		}
	}
	for _, events := range []map[string][]models.Event{m.bookmarks, m.reads, m.purchases} {
		for user, list := range events {
			for _, e := range list {
				add(user, e.BookID)
			}
		}
	}
	return out
}
