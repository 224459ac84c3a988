// Package models defines core data structures for embeddings, behavior profiles,
// user similarity and recommendation results.
package models

import "time"

// BookEmbedding is the coarse semantic fingerprint of a book, derived from its
// descriptive metadata and category tags.
type BookEmbedding struct {
	BookID       string    `json:"book_id" db:"book_id"`
	Vector       []float32 `json:"-" db:"vector"`
	CategoryTags []string  `json:"category_tags" db:"category_tags"`
	ContentHash  string    `json:"content_hash" db:"content_hash"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ChapterContentEmbedding is the fingerprint of one full chapter.
type ChapterContentEmbedding struct {
	ChapterID   string    `json:"chapter_id" db:"chapter_id"`
	BookID      string    `json:"book_id" db:"book_id"`
	Vector      []float32 `json:"-" db:"vector"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	ChunkCount  int       `json:"chunk_count" db:"chunk_count"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ChapterChunkEmbedding is the fingerprint of one bounded segment of a chapter.
// ContentHash is the hash of the chunk text; offsets are byte offsets into the chapter.
type ChapterChunkEmbedding struct {
	ChunkID     string    `json:"chunk_id" db:"chunk_id"`
	ChapterID   string    `json:"chapter_id" db:"chapter_id"`
	BookID      string    `json:"book_id" db:"book_id"`
	ChunkIndex  int       `json:"chunk_index" db:"chunk_index"`
	StartOffset int       `json:"start_offset" db:"start_offset"`
	EndOffset   int       `json:"end_offset" db:"end_offset"`
	Vector      []float32 `json:"-" db:"vector"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// BookMetadata is the descriptive metadata the content store holds for a book.
type BookMetadata struct {
	BookID      string   `json:"book_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
}
