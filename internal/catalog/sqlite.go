package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hondana/internal/models"
)

// SQLiteCatalog reads the platform tables (books, chapters, ratings, ...) from SQLite.
// It implements both ContentStore and InteractionStore.
type SQLiteCatalog struct {
	db *sql.DB
}

// Schema is the subset of the platform schema the catalog reads. It is applied with
// IF NOT EXISTS so a fresh database is usable.
const Schema = `
CREATE TABLE IF NOT EXISTS books (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS book_categories (
	book_id TEXT NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY (book_id, category)
);

CREATE TABLE IF NOT EXISTS chapters (
	id TEXT PRIMARY KEY,
	book_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chapters_book ON chapters(book_id, position);

CREATE TABLE IF NOT EXISTS ratings (
	user_id TEXT NOT NULL,
	book_id TEXT NOT NULL,
	rating REAL NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, book_id)
);

CREATE TABLE IF NOT EXISTS bookmarks (
	user_id TEXT NOT NULL,
	book_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS reads (
	user_id TEXT NOT NULL,
	book_id TEXT NOT NULL,
	completed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS purchases (
	user_id TEXT NOT NULL,
	book_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY (user_id, category)
);

CREATE INDEX IF NOT EXISTS idx_ratings_book ON ratings(book_id);
CREATE INDEX IF NOT EXISTS idx_bookmarks_book ON bookmarks(book_id);
CREATE INDEX IF NOT EXISTS idx_reads_book ON reads(book_id);
CREATE INDEX IF NOT EXISTS idx_purchases_book ON purchases(book_id);
`

// interactionUnion lists every (user_id, book_id) interaction.
const interactionUnion = `
	SELECT user_id, book_id FROM ratings
	UNION ALL SELECT user_id, book_id FROM bookmarks
	UNION ALL SELECT user_id, book_id FROM reads
	UNION ALL SELECT user_id, book_id FROM purchases`

// NewSQLiteCatalog opens the catalog database at path.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

// DB exposes the handle for seeding tools and tests.
func (c *SQLiteCatalog) DB() *sql.DB { return c.db }

// GetChapterText returns a chapter's text.
func (c *SQLiteCatalog) GetChapterText(ctx context.Context, chapterID string) (*Chapter, error) {
	var ch Chapter
	err := c.db.QueryRowContext(ctx,
		`SELECT id, book_id, position, content FROM chapters WHERE id = ?`, chapterID,
	).Scan(&ch.ID, &ch.BookID, &ch.Position, &ch.Text)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetBookMetadata returns title, description and categories of a book.
func (c *SQLiteCatalog) GetBookMetadata(ctx context.Context, bookID string) (*models.BookMetadata, error) {
	meta := models.BookMetadata{BookID: bookID}
	err := c.db.QueryRowContext(ctx,
		`SELECT title, description FROM books WHERE id = ?`, bookID,
	).Scan(&meta.Title, &meta.Description)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	cats, err := c.GetBookCategories(ctx, []string{bookID})
	if err != nil {
		return nil, err
	}
	meta.Categories = cats[bookID]
	return &meta, nil
}

// GetBookCategories returns the sorted category tags of each requested book. Books
// without tags are absent from the map.
func (c *SQLiteCatalog) GetBookCategories(ctx context.Context, bookIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(bookIDs))
	if len(bookIDs) == 0 {
		return out, nil
	}
	// SQLite caps bound parameters; 500 stays well below every default.
	const chunk = 500
	for start := 0; start < len(bookIDs); start += chunk {
		end := start + chunk
		if end > len(bookIDs) {
			end = len(bookIDs)
		}
		ids := bookIDs[start:end]
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := c.db.QueryContext(ctx,
			`SELECT book_id, category FROM book_categories
			 WHERE book_id IN (`+placeholders(len(ids))+`) ORDER BY book_id, category`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var bookID, cat string
			if err := rows.Scan(&bookID, &cat); err != nil {
				rows.Close()
				return nil, err
			}
			out[bookID] = append(out[bookID], cat)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListChaptersForBook returns chapter ids in reading order.
func (c *SQLiteCatalog) ListChaptersForBook(ctx context.Context, bookID string) ([]string, error) {
	return c.queryStrings(ctx, `SELECT id FROM chapters WHERE book_id = ? ORDER BY position, id`, bookID)
}

// ListBookIDs returns every book id.
func (c *SQLiteCatalog) ListBookIDs(ctx context.Context) ([]string, error) {
	return c.queryStrings(ctx, `SELECT id FROM books ORDER BY id`)
}

// GetUserInteractions loads every rating, bookmark, read and purchase of a user,
// plus stated category preferences.
func (c *SQLiteCatalog) GetUserInteractions(ctx context.Context, userID string) (*models.Interactions, error) {
	in := &models.Interactions{UserID: userID}

	rows, err := c.db.QueryContext(ctx,
		`SELECT book_id, rating, created_at FROM ratings WHERE user_id = ? ORDER BY book_id`, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.BookID, &r.Value, &r.At); err != nil {
			rows.Close()
			return nil, err
		}
		in.Ratings = append(in.Ratings, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	events := []struct {
		query string
		dst   *[]models.Event
	}{
		{`SELECT book_id, created_at FROM bookmarks WHERE user_id = ? ORDER BY book_id`, &in.Bookmarks},
		{`SELECT book_id, completed_at FROM reads WHERE user_id = ? ORDER BY book_id`, &in.Reads},
		{`SELECT book_id, created_at FROM purchases WHERE user_id = ? ORDER BY book_id`, &in.Purchases},
	}
	for _, e := range events {
		list, err := c.queryEvents(ctx, e.query, userID)
		if err != nil {
			return nil, err
		}
		*e.dst = list
	}

	in.PreferredCategories, err = c.queryStrings(ctx,
		`SELECT category FROM user_preferences WHERE user_id = ? ORDER BY category`, userID)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// ListUsersWhoInteractedWith returns the distinct users with any interaction on bookID.
func (c *SQLiteCatalog) ListUsersWhoInteractedWith(ctx context.Context, bookID string) ([]string, error) {
	return c.queryStrings(ctx,
		`SELECT DISTINCT user_id FROM (`+interactionUnion+`) WHERE book_id = ? ORDER BY user_id`, bookID)
}

// CountInteractionsByBook returns the number of distinct interacting users per book.
// Every catalog book is present; books nobody touched count 0.
func (c *SQLiteCatalog) CountInteractionsByBook(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT book_id, COUNT(DISTINCT user_id) FROM (`+interactionUnion+`) GROUP BY book_id
		 UNION ALL
		 SELECT id, 0 FROM books WHERE id NOT IN (SELECT book_id FROM (`+interactionUnion+`))`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var bookID string
		var n int
		if err := rows.Scan(&bookID, &n); err != nil {
			return nil, err
		}
		out[bookID] = n
	}
	return out, rows.Err()
}

// ListUserIDs returns every user with at least one interaction or stated preference.
func (c *SQLiteCatalog) ListUserIDs(ctx context.Context) ([]string, error) {
	return c.queryStrings(ctx,
		`SELECT user_id FROM (`+interactionUnion+`)
		 UNION SELECT user_id FROM user_preferences
		 ORDER BY user_id`)
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

func (c *SQLiteCatalog) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *SQLiteCatalog) queryEvents(ctx context.Context, query string, userID string) ([]models.Event, error) {
	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		var e models.Event
		var at time.Time
		if err := rows.Scan(&e.BookID, &at); err != nil {
			return nil, err
		}
		e.At = at
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
