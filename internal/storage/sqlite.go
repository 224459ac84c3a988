package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Migration workers write concurrently; wait on the lock instead of failing.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS book_embeddings (
		book_id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		category_tags TEXT,
		content_hash TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chapter_embeddings (
		chapter_id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		vector BLOB NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chapter_embeddings_book ON chapter_embeddings(book_id);

	CREATE TABLE IF NOT EXISTS chapter_chunk_embeddings (
		chunk_id TEXT PRIMARY KEY,
		chapter_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		vector BLOB NOT NULL,
		content_hash TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (chapter_id, chunk_index)
	);

	CREATE TABLE IF NOT EXISTS user_similarities (
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		similarity_score REAL NOT NULL,
		rating_correlation REAL NOT NULL,
		category_overlap REAL NOT NULL,
		common_book_ids TEXT,
		computed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_a, user_b),
		CHECK (user_a < user_b)
	);

	CREATE INDEX IF NOT EXISTS idx_user_similarities_b ON user_similarities(user_b);

	CREATE TABLE IF NOT EXISTS user_similarity_snapshots (
		user_id TEXT PRIMARY KEY,
		computed_at TIMESTAMP NOT NULL,
		rating_count INTEGER NOT NULL,
		neighbor_count INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// GetBookEmbedding returns the embedding of a book.
func (s *SQLiteStorage) GetBookEmbedding(ctx context.Context, bookID string) (*models.BookEmbedding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT book_id, vector, category_tags, content_hash, updated_at
		 FROM book_embeddings WHERE book_id = ?`, bookID)
	emb, err := scanBookEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("book embedding %s: %w", bookID, ErrNotFound)
	}
	return emb, err
}

// UpsertBookEmbedding inserts or replaces a book embedding.
func (s *SQLiteStorage) UpsertBookEmbedding(ctx context.Context, emb *models.BookEmbedding) error {
	tags, err := json.Marshal(emb.CategoryTags)
	if err != nil {
		return fmt.Errorf("failed to marshal category tags: %w", err)
	}
	if emb.UpdatedAt.IsZero() {
		emb.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO book_embeddings (book_id, vector, category_tags, content_hash, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET
		   vector = excluded.vector,
		   category_tags = excluded.category_tags,
		   content_hash = excluded.content_hash,
		   updated_at = excluded.updated_at`,
		emb.BookID, vector.EncodeVector(emb.Vector), string(tags), emb.ContentHash, emb.UpdatedAt,
	)
	return err
}

// ListBookEmbeddings returns every book embedding ordered by book id.
func (s *SQLiteStorage) ListBookEmbeddings(ctx context.Context) ([]*models.BookEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT book_id, vector, category_tags, content_hash, updated_at
		 FROM book_embeddings ORDER BY book_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BookEmbedding
	for rows.Next() {
		emb, err := scanBookEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, rows.Err()
}

// GetChapterEmbedding returns the chapter-level embedding.
func (s *SQLiteStorage) GetChapterEmbedding(ctx context.Context, chapterID string) (*models.ChapterContentEmbedding, error) {
	var emb models.ChapterContentEmbedding
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT chapter_id, book_id, vector, content_hash, chunk_count, updated_at
		 FROM chapter_embeddings WHERE chapter_id = ?`, chapterID,
	).Scan(&emb.ChapterID, &emb.BookID, &blob, &emb.ContentHash, &emb.ChunkCount, &emb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chapter embedding %s: %w", chapterID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if emb.Vector, err = vector.DecodeVector(blob); err != nil {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, err)
	}
	return &emb, nil
}

// ReplaceChapterEmbeddings swaps a chapter's whole chunk set and its chapter-level row
// in one transaction. Readers see either the old set or the new one.
func (s *SQLiteStorage) ReplaceChapterEmbeddings(ctx context.Context, chapter *models.ChapterContentEmbedding, chunks []*models.ChapterChunkEmbedding) error {
	for i, c := range chunks {
		if c.ChapterID != chapter.ChapterID {
			return fmt.Errorf("chunk %s belongs to chapter %s, not %s", c.ChunkID, c.ChapterID, chapter.ChapterID)
		}
		if c.ChunkIndex != i {
			return fmt.Errorf("chunk indexes must be contiguous from 0: position %d has index %d", i, c.ChunkIndex)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chapter_chunk_embeddings WHERE chapter_id = ?`, chapter.ChapterID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chapter_chunk_embeddings
		 (chunk_id, chapter_id, book_id, chunk_index, start_offset, end_offset, vector, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		c.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.ChapterID, c.BookID, c.ChunkIndex,
			c.StartOffset, c.EndOffset, vector.EncodeVector(c.Vector), c.ContentHash, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	chapter.ChunkCount = len(chunks)
	chapter.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chapter_embeddings (chapter_id, book_id, vector, content_hash, chunk_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chapter_id) DO UPDATE SET
		   book_id = excluded.book_id,
		   vector = excluded.vector,
		   content_hash = excluded.content_hash,
		   chunk_count = excluded.chunk_count,
		   updated_at = excluded.updated_at`,
		chapter.ChapterID, chapter.BookID, vector.EncodeVector(chapter.Vector), chapter.ContentHash,
		chapter.ChunkCount, chapter.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert chapter embedding: %w", err)
	}
	return tx.Commit()
}

// DeleteChapterEmbeddings removes a chapter's chunk rows and chapter row.
func (s *SQLiteStorage) DeleteChapterEmbeddings(ctx context.Context, chapterID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chapter_chunk_embeddings WHERE chapter_id = ?`, chapterID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chapter_embeddings WHERE chapter_id = ?`, chapterID); err != nil {
		return err
	}
	return tx.Commit()
}

const chunkColumns = `chunk_id, chapter_id, book_id, chunk_index, start_offset, end_offset, vector, content_hash, created_at`

// GetChunkEmbeddings returns all chunks of a chapter ordered by chunk_index.
func (s *SQLiteStorage) GetChunkEmbeddings(ctx context.Context, chapterID string) ([]*models.ChapterChunkEmbedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chapter_chunk_embeddings WHERE chapter_id = ? ORDER BY chunk_index`,
		chapterID,
	)
	if err != nil {
		return nil, err
	}
	return collectChunks(rows)
}

// ScanChunkEmbeddings pages through every chunk in chunk_id order, starting after afterID.
// Pass an empty afterID for the first page.
func (s *SQLiteStorage) ScanChunkEmbeddings(ctx context.Context, afterID string, limit int) ([]*models.ChapterChunkEmbedding, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chapter_chunk_embeddings WHERE chunk_id > ? ORDER BY chunk_id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectChunks(rows)
}

// CountChunks returns the number of chunks stored for a chapter.
func (s *SQLiteStorage) CountChunks(ctx context.Context, chapterID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chapter_chunk_embeddings WHERE chapter_id = ?`, chapterID).Scan(&count)
	return count, err
}

// Stats counts rows in every table and measures the database files.
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"book_embeddings", &st.BookEmbeddings},
		{"chapter_embeddings", &st.ChapterEmbeddings},
		{"chapter_chunk_embeddings", &st.ChunkEmbeddings},
		{"user_similarities", &st.UserSimilarities},
		{"user_similarity_snapshots", &st.Snapshots},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	size, err := DiskUsageBytes(databaseFiles(s.path)...)
	if err != nil {
		return nil, err
	}
	st.DiskUsageBytes = size
	return &st, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookEmbedding(r rowScanner) (*models.BookEmbedding, error) {
	var emb models.BookEmbedding
	var blob []byte
	var tags sql.NullString
	if err := r.Scan(&emb.BookID, &blob, &tags, &emb.ContentHash, &emb.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if emb.Vector, err = vector.DecodeVector(blob); err != nil {
		return nil, fmt.Errorf("book %s: %w", emb.BookID, err)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &emb.CategoryTags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal category tags: %w", err)
		}
	}
	return &emb, nil
}

func collectChunks(rows *sql.Rows) ([]*models.ChapterChunkEmbedding, error) {
	defer rows.Close()
	var chunks []*models.ChapterChunkEmbedding
	for rows.Next() {
		var c models.ChapterChunkEmbedding
		var blob []byte
		if err := rows.Scan(&c.ChunkID, &c.ChapterID, &c.BookID, &c.ChunkIndex, &c.StartOffset,
			&c.EndOffset, &blob, &c.ContentHash, &c.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if c.Vector, err = vector.DecodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ChunkID, err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
