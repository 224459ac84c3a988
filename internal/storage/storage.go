// Package storage persists book, chapter and chunk embeddings and the materialized
// user-similarity snapshot.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/hondana/internal/models"
)

// ErrNotFound is returned (wrapped) when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines embedding and similarity persistence operations.
type Storage interface {
	// Book embeddings
	GetBookEmbedding(ctx context.Context, bookID string) (*models.BookEmbedding, error)
	UpsertBookEmbedding(ctx context.Context, emb *models.BookEmbedding) error
	ListBookEmbeddings(ctx context.Context) ([]*models.BookEmbedding, error)

	// Chapter and chunk embeddings
	GetChapterEmbedding(ctx context.Context, chapterID string) (*models.ChapterContentEmbedding, error)
	ReplaceChapterEmbeddings(ctx context.Context, chapter *models.ChapterContentEmbedding, chunks []*models.ChapterChunkEmbedding) error
	DeleteChapterEmbeddings(ctx context.Context, chapterID string) error
	GetChunkEmbeddings(ctx context.Context, chapterID string) ([]*models.ChapterChunkEmbedding, error)
	ScanChunkEmbeddings(ctx context.Context, afterID string, limit int) ([]*models.ChapterChunkEmbedding, error)
	CountChunks(ctx context.Context, chapterID string) (int, error)

	// User similarity
	ReplaceUserSimilarities(ctx context.Context, userID string, rows []*models.UserSimilarity, snapshot *models.SimilaritySnapshot) error
	GetNeighbors(ctx context.Context, userID string, k int, floor float64) ([]models.Neighbor, error)
	GetUserSimilarity(ctx context.Context, a, b string) (*models.UserSimilarity, error)
	GetSimilaritySnapshot(ctx context.Context, userID string) (*models.SimilaritySnapshot, error)
	CountUserSimilarities(ctx context.Context) (int64, error)

	// Stats
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Stats summarizes what the store holds.
type Stats struct {
	BookEmbeddings    int64 `json:"book_embeddings"`
	ChapterEmbeddings int64 `json:"chapter_embeddings"`
	ChunkEmbeddings   int64 `json:"chunk_embeddings"`
	UserSimilarities  int64 `json:"user_similarities"`
	Snapshots         int64 `json:"similarity_snapshots"`
	DiskUsageBytes    int64 `json:"disk_usage_bytes"`
}
