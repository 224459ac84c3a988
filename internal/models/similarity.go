package models

import (
	"strings"
	"time"
)

// UserSimilarity is the pairwise relationship between two users.
// One row exists per unordered pair with UserIDA < UserIDB.
type UserSimilarity struct {
	UserIDA           string    `json:"user_id_a" db:"user_a"`
	UserIDB           string    `json:"user_id_b" db:"user_b"`
	SimilarityScore   float64   `json:"similarity_score" db:"similarity_score"`
	CommonBookIDs     []string  `json:"common_book_ids" db:"common_book_ids"`
	RatingCorrelation float64   `json:"rating_correlation" db:"rating_correlation"`
	CategoryOverlap   float64   `json:"category_overlap" db:"category_overlap"`
	ComputedAt        time.Time `json:"computed_at" db:"computed_at"`
}

// Canonicalize orders the pair so that UserIDA < UserIDB.
func (s *UserSimilarity) Canonicalize() {
	if strings.Compare(s.UserIDA, s.UserIDB) > 0 {
		s.UserIDA, s.UserIDB = s.UserIDB, s.UserIDA
	}
}

// Other returns the member of the pair that is not userID.
func (s *UserSimilarity) Other(userID string) string {
	if s.UserIDA == userID {
		return s.UserIDB
	}
	return s.UserIDA
}

// SimilaritySnapshot records that a user's neighbor set was materialized.
type SimilaritySnapshot struct {
	UserID        string    `json:"user_id" db:"user_id"`
	ComputedAt    time.Time `json:"computed_at" db:"computed_at"`
	RatingCount   int       `json:"rating_count" db:"rating_count"`
	NeighborCount int       `json:"neighbor_count" db:"neighbor_count"`
}

// Neighbor is a similar user read back from the snapshot.
type Neighbor struct {
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}
