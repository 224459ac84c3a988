package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func seedCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO books (id, title, description) VALUES (?, ?, ?)`, []any{"b1", "The Long Road", "A journey"}},
		{`INSERT INTO books (id, title, description) VALUES (?, ?, ?)`, []any{"b2", "Night Market", "A mystery"}},
		{`INSERT INTO book_categories (book_id, category) VALUES (?, ?)`, []any{"b1", "fantasy"}},
		{`INSERT INTO book_categories (book_id, category) VALUES (?, ?)`, []any{"b1", "adventure"}},
		{`INSERT INTO book_categories (book_id, category) VALUES (?, ?)`, []any{"b2", "mystery"}},
		{`INSERT INTO chapters (id, book_id, position, content) VALUES (?, ?, ?, ?)`, []any{"c2", "b1", 2, "Second."}},
		{`INSERT INTO chapters (id, book_id, position, content) VALUES (?, ?, ?, ?)`, []any{"c1", "b1", 1, "First."}},
		{`INSERT INTO ratings (user_id, book_id, rating, created_at) VALUES (?, ?, ?, ?)`, []any{"alice", "b1", 5.0, now}},
		{`INSERT INTO reads (user_id, book_id, completed_at) VALUES (?, ?, ?)`, []any{"alice", "b2", now}},
		{`INSERT INTO bookmarks (user_id, book_id, created_at) VALUES (?, ?, ?)`, []any{"bob", "b1", now}},
		{`INSERT INTO purchases (user_id, book_id, created_at) VALUES (?, ?, ?)`, []any{"bob", "b1", now}},
		{`INSERT INTO user_preferences (user_id, category) VALUES (?, ?)`, []any{"carol", "romance"}},
	}
	for _, s := range stmts {
		if _, err := c.DB().Exec(s.query, s.args...); err != nil {
			t.Fatalf("seed %q: %v", s.query, err)
		}
	}
	return c
}

func TestSQLiteCatalog_Content(t *testing.T) {
	c := seedCatalog(t)
	ctx := context.Background()

	ch, err := c.GetChapterText(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if ch.BookID != "b1" || ch.Text != "First." {
		t.Errorf("chapter: %+v", ch)
	}
	if _, err := c.GetChapterText(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	meta, err := c.GetBookMetadata(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "The Long Road" || !reflect.DeepEqual(meta.Categories, []string{"adventure", "fantasy"}) {
		t.Errorf("metadata: %+v", meta)
	}

	chapters, _ := c.ListChaptersForBook(ctx, "b1")
	if !reflect.DeepEqual(chapters, []string{"c1", "c2"}) {
		t.Errorf("chapters should follow position: %v", chapters)
	}
	books, _ := c.ListBookIDs(ctx)
	if !reflect.DeepEqual(books, []string{"b1", "b2"}) {
		t.Errorf("books: %v", books)
	}
}

func TestSQLiteCatalog_Interactions(t *testing.T) {
	c := seedCatalog(t)
	ctx := context.Background()

	in, err := c.GetUserInteractions(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Ratings) != 1 || in.Ratings[0].Value != 5 || len(in.Reads) != 1 {
		t.Errorf("alice: %+v", in)
	}
	if in.Ratings[0].At.IsZero() {
		t.Error("rating time should round-trip")
	}

	carol, _ := c.GetUserInteractions(ctx, "carol")
	if !carol.Empty() || !reflect.DeepEqual(carol.PreferredCategories, []string{"romance"}) {
		t.Errorf("carol: %+v", carol)
	}

	users, _ := c.ListUsersWhoInteractedWith(ctx, "b1")
	if !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Errorf("users of b1: %v", users)
	}

	if _, err := c.DB().Exec(`INSERT INTO books (id, title, description) VALUES ('b3', 'Shelf Dust', '')`); err != nil {
		t.Fatal(err)
	}
	counts, _ := c.CountInteractionsByBook(ctx)
	if counts["b1"] != 2 || counts["b2"] != 1 {
		t.Errorf("bob's bookmark and purchase count once: %v", counts)
	}
	if n, ok := counts["b3"]; !ok || n != 0 {
		t.Errorf("untouched book should count 0: %v", counts)
	}

	all, _ := c.ListUserIDs(ctx)
	if !reflect.DeepEqual(all, []string{"alice", "bob", "carol"}) {
		t.Errorf("users: %v", all)
	}
}
