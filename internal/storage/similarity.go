package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperjump/hondana/internal/models"
)

// ReplaceUserSimilarities deletes every pair row involving userID, writes rows, and
// records the snapshot, all in one transaction. Each row must involve userID; rows are
// canonicalized so that user_a < user_b.
func (s *SQLiteStorage) ReplaceUserSimilarities(ctx context.Context, userID string, rows []*models.UserSimilarity, snapshot *models.SimilaritySnapshot) error {
	for _, r := range rows {
		if r.UserIDA != userID && r.UserIDB != userID {
			return fmt.Errorf("similarity row %s/%s does not involve user %s", r.UserIDA, r.UserIDB, userID)
		}
		if r.UserIDA == r.UserIDB {
			return fmt.Errorf("self-similarity row for user %s", userID)
		}
		r.Canonicalize()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_similarities WHERE user_a = ? OR user_b = ?`, userID, userID); err != nil {
		return fmt.Errorf("failed to delete old similarities: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO user_similarities
		 (user_a, user_b, similarity_score, rating_correlation, category_overlap, common_book_ids, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_a, user_b) DO UPDATE SET
		   similarity_score = excluded.similarity_score,
		   rating_correlation = excluded.rating_correlation,
		   category_overlap = excluded.category_overlap,
		   common_book_ids = excluded.common_book_ids,
		   computed_at = excluded.computed_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range rows {
		if r.ComputedAt.IsZero() {
			r.ComputedAt = now
		}
		common, err := json.Marshal(r.CommonBookIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal common books: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.UserIDA, r.UserIDB, r.SimilarityScore,
			r.RatingCorrelation, r.CategoryOverlap, string(common), r.ComputedAt); err != nil {
			return fmt.Errorf("failed to insert similarity %s/%s: %w", r.UserIDA, r.UserIDB, err)
		}
	}

	if snapshot != nil {
		if snapshot.ComputedAt.IsZero() {
			snapshot.ComputedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_similarity_snapshots (user_id, computed_at, rating_count, neighbor_count)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
			   computed_at = excluded.computed_at,
			   rating_count = excluded.rating_count,
			   neighbor_count = excluded.neighbor_count`,
			userID, snapshot.ComputedAt, snapshot.RatingCount, snapshot.NeighborCount,
		); err != nil {
			return fmt.Errorf("failed to record snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// GetNeighbors returns up to k users whose similarity with userID exceeds floor, most
// similar first. k <= 0 means no limit.
func (s *SQLiteStorage) GetNeighbors(ctx context.Context, userID string, k int, floor float64) ([]models.Neighbor, error) {
	if k <= 0 {
		k = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN user_a = ? THEN user_b ELSE user_a END AS other, similarity_score
		 FROM user_similarities
		 WHERE (user_a = ? OR user_b = ?) AND similarity_score > ?
		 ORDER BY similarity_score DESC, other ASC
		 LIMIT ?`,
		userID, userID, userID, floor, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Neighbor
	for rows.Next() {
		var n models.Neighbor
		if err := rows.Scan(&n.UserID, &n.Score); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetUserSimilarity returns the pair row for a and b in either order.
func (s *SQLiteStorage) GetUserSimilarity(ctx context.Context, a, b string) (*models.UserSimilarity, error) {
	key := &models.UserSimilarity{UserIDA: a, UserIDB: b}
	key.Canonicalize()

	var r models.UserSimilarity
	var common sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_a, user_b, similarity_score, rating_correlation, category_overlap, common_book_ids, computed_at
		 FROM user_similarities WHERE user_a = ? AND user_b = ?`, key.UserIDA, key.UserIDB,
	).Scan(&r.UserIDA, &r.UserIDB, &r.SimilarityScore, &r.RatingCorrelation, &r.CategoryOverlap, &common, &r.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user similarity %s/%s: %w", key.UserIDA, key.UserIDB, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if common.Valid && common.String != "" {
		if err := json.Unmarshal([]byte(common.String), &r.CommonBookIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal common books: %w", err)
		}
	}
	return &r, nil
}

// GetSimilaritySnapshot returns the snapshot marker for userID.
func (s *SQLiteStorage) GetSimilaritySnapshot(ctx context.Context, userID string) (*models.SimilaritySnapshot, error) {
	var snap models.SimilaritySnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, computed_at, rating_count, neighbor_count
		 FROM user_similarity_snapshots WHERE user_id = ?`, userID,
	).Scan(&snap.UserID, &snap.ComputedAt, &snap.RatingCount, &snap.NeighborCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("similarity snapshot %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// CountUserSimilarities returns the number of stored pairs.
func (s *SQLiteStorage) CountUserSimilarities(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_similarities`).Scan(&count)
	return count, err
}
