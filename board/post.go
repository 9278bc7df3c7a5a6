// Package board provides the shared knowledge board: TTL-bounded posts
// indexed by category and author, with relevance search and creation-time
// subscriptions. Posts live in the same durable store as the bus.
package board

import (
	"errors"
	"time"
)

// ErrNotFound indicates the post does not exist or has expired.
var ErrNotFound = errors.New("post not found")

// Post is a note on the knowledge board.
type Post struct {
	ID         int64      `json:"id"`
	Author     string     `json:"author"`
	Category   string     `json:"category"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Tags       []string   `json:"tags,omitempty"`
	Priority   int        `json:"priority"` // 0-2
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // nil = indefinite
	Views      int        `json:"views"`
	AccessedBy []string   `json:"accessed_by,omitempty"`
}

// Expired reports whether the post is past its TTL at the given instant.
// Posts past TTL are considered deleted even before GC runs.
func (p *Post) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// CategoryGeneral is the coercion target for unknown categories.
const CategoryGeneral = "general"

// Categories is the closed set of valid post categories.
var Categories = map[string]bool{
	CategoryGeneral: true,
	"market":        true,
	"security":      true,
	"treasury":      true,
	"liquidity":     true,
	"governance":    true,
	"patterns":      true,
	"incidents":     true,
	"operations":    true,
	"research":      true,
}

// NormalizeCategory coerces unknown categories to general.
func NormalizeCategory(category string) string {
	if Categories[category] {
		return category
	}
	return CategoryGeneral
}
