package models

import (
	"sort"
	"time"
)

// Rating is an explicit rating event.
type Rating struct {
	BookID string    `json:"book_id"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// Event is an implicit interaction (read completion, bookmark, purchase).
type Event struct {
	BookID string    `json:"book_id"`
	At     time.Time `json:"at"`
}

// Interactions is everything the behavior store knows about one user.
type Interactions struct {
	UserID              string   `json:"user_id"`
	Ratings             []Rating `json:"ratings"`
	Bookmarks           []Event  `json:"bookmarks"`
	Reads               []Event  `json:"reads"`
	Purchases           []Event  `json:"purchases"`
	PreferredCategories []string `json:"preferred_categories,omitempty"`
}

// Empty reports whether the user has no interaction events at all.
// Stated category preferences are not interactions.
func (i *Interactions) Empty() bool {
	return i == nil || len(i.Ratings)+len(i.Bookmarks)+len(i.Reads)+len(i.Purchases) == 0
}

// ProfileKind tags a behavior profile as empty (cold start) or active.
type ProfileKind int

const (
	// ProfileEmpty is a user with zero interactions.
	ProfileEmpty ProfileKind = iota
	// ProfileActive is a user with at least one interaction.
	ProfileActive
)

// String returns a string representation of the profile kind.
func (k ProfileKind) String() string {
	switch k {
	case ProfileEmpty:
		return "empty"
	case ProfileActive:
		return "active"
	default:
		return "unknown"
	}
}

// UserBehaviorProfile is the derived, ephemeral view of a user's behavior.
// CategoryPreference weights lie in [0,1] and sum to 1 for an active profile with
// categorized books.
type UserBehaviorProfile struct {
	UserID              string             `json:"user_id"`
	Kind                ProfileKind        `json:"kind"`
	ReadBookIDs         []string           `json:"read_book_ids"`
	BookmarkedBookIDs   []string           `json:"bookmarked_book_ids"`
	HighlyRatedBookIDs  []string           `json:"highly_rated_book_ids"`
	PurchasedBookIDs    []string           `json:"purchased_book_ids"`
	Ratings             map[string]float64 `json:"ratings"`
	CategoryPreference  map[string]float64 `json:"category_preference"`
	PreferredCategories []string           `json:"preferred_categories,omitempty"`
	AverageRating       float64            `json:"average_rating"`
	TotalBooksRead      int                `json:"total_books_read"`
	LastActiveAt        time.Time          `json:"last_active_at"`
	ComputedAt          time.Time          `json:"computed_at"`
}

// NewEmptyProfile returns the explicit cold-start profile for userID.
func NewEmptyProfile(userID string, preferred []string) *UserBehaviorProfile {
	return &UserBehaviorProfile{
		UserID:              userID,
		Kind:                ProfileEmpty,
		Ratings:             map[string]float64{},
		CategoryPreference:  map[string]float64{},
		PreferredCategories: preferred,
		ComputedAt:          time.Now(),
	}
}

// IsColdStart reports whether the profile carries no behavior signal.
func (p *UserBehaviorProfile) IsColdStart() bool {
	return p == nil || p.Kind == ProfileEmpty
}

// TopCategories returns up to n categories by descending weight, ties by name.
func (p *UserBehaviorProfile) TopCategories(n int) []string {
	if p == nil || n <= 0 {
		return nil
	}
	cats := make([]string, 0, len(p.CategoryPreference))
	for c, w := range p.CategoryPreference {
		if w > 0 {
			cats = append(cats, c)
		}
	}
	sort.Slice(cats, func(i, j int) bool {
		wi, wj := p.CategoryPreference[cats[i]], p.CategoryPreference[cats[j]]
		if wi != wj {
			return wi > wj
		}
		return cats[i] < cats[j]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

// ConsumedBookIDs returns books the user has read, rated or purchased.
// These are removed from recommendation output.
func (p *UserBehaviorProfile) ConsumedBookIDs() map[string]struct{} {
	out := make(map[string]struct{})
	if p == nil {
		return out
	}
	for _, id := range p.ReadBookIDs {
		out[id] = struct{}{}
	}
	for _, id := range p.PurchasedBookIDs {
		out[id] = struct{}{}
	}
	for id := range p.Ratings {
		out[id] = struct{}{}
	}
	return out
}
