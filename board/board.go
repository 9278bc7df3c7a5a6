package board

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Subscriber is invoked once per matching post at creation time, best-effort.
type Subscriber func(*Post)

// Board is the shared knowledge board.
type Board struct {
	store      Store
	logger     *slog.Logger
	defaultTTL time.Duration

	mu   sync.RWMutex
	subs map[string][]Subscriber

	statsMu     sync.Mutex
	postsMade   int64
	postsRead   int64
	postsSwept  int64
	searchCount int64
}

// Option configures a Board.
type Option func(*Board)

// WithDefaultTTL overrides the 24 h default post TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(b *Board) { b.defaultTTL = ttl }
}

// New creates a board over the given store.
func New(store Store, logger *slog.Logger, opts ...Option) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Board{
		store:      store,
		logger:     logger,
		defaultTTL: 24 * time.Hour,
		subs:       make(map[string][]Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PostInput carries the optional fields for Post.
type PostInput struct {
	Tags     []string
	Priority int // 0-2
	// TTL bounds the post lifetime. Zero uses the board default; a negative
	// value makes the post indefinite.
	TTL time.Duration
}

// Post creates a post and notifies category subscribers. Unknown categories
// coerce to general.
func (b *Board) Post(ctx context.Context, author, category, title, content string, in PostInput) (int64, error) {
	id, err := b.store.NextID(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	post := &Post{
		ID:        id,
		Author:    author,
		Category:  NormalizeCategory(category),
		Title:     title,
		Content:   content,
		Tags:      in.Tags,
		Priority:  clampPriority(in.Priority),
		CreatedAt: now,
	}

	ttl := in.TTL
	if ttl == 0 {
		ttl = b.defaultTTL
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		post.ExpiresAt = &expires
	}

	if err := b.store.Save(ctx, post); err != nil {
		return 0, err
	}

	b.statsMu.Lock()
	b.postsMade++
	b.statsMu.Unlock()

	b.notify(post)
	return id, nil
}

// Get returns a post by id, incrementing its view count and recording the
// reader on their first read. Expired posts are invisible.
func (b *Board) Get(ctx context.Context, id int64, reader string) (*Post, error) {
	post, err := b.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Expired(time.Now()) {
		// Past TTL means deleted even before GC runs.
		_ = b.store.Delete(ctx, post)
		return nil, ErrNotFound
	}

	post.Views++
	if reader != "" && !contains(post.AccessedBy, reader) {
		post.AccessedBy = append(post.AccessedBy, reader)
	}
	if err := b.store.Save(ctx, post); err != nil {
		b.logger.Warn("Failed to record post view", slog.Int64("post", id), slog.String("error", err.Error()))
	}

	b.statsMu.Lock()
	b.postsRead++
	b.statsMu.Unlock()
	return post, nil
}

// Query describes a board query.
type Query struct {
	Category    string
	Author      string
	Tags        []string
	Since       time.Time
	MinPriority int
	Limit       int
}

// QueryPosts returns posts matching the filter, sorted by priority then
// recency. Expired posts touched by the query are lazily removed.
func (b *Board) QueryPosts(ctx context.Context, q Query) ([]*Post, error) {
	var ids []int64
	var err error
	switch {
	case q.Category != "":
		ids, err = b.store.IDsByCategory(ctx, NormalizeCategory(q.Category))
	case q.Author != "":
		ids, err = b.store.IDsByAuthor(ctx, q.Author)
	default:
		ids, err = b.store.AllIDs(ctx)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var posts []*Post
	for _, id := range ids {
		post, err := b.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if post.Expired(now) {
			b.sweep(ctx, post)
			continue
		}
		if q.Author != "" && post.Author != q.Author {
			continue
		}
		if !q.Since.IsZero() && post.CreatedAt.Before(q.Since) {
			continue
		}
		if post.Priority < q.MinPriority {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(post.Tags, q.Tags) {
			continue
		}
		posts = append(posts, post)
	}

	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Priority != posts[j].Priority {
			return posts[i].Priority > posts[j].Priority
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})

	if q.Limit > 0 && len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}
	return posts, nil
}

// Search ranks posts by relevance to the query string over title, category,
// and tags, with a recency bonus.
func (b *Board) Search(ctx context.Context, query string, limit int) ([]*Post, error) {
	ids, err := b.store.AllIDs(ctx)
	if err != nil {
		return nil, err
	}

	b.statsMu.Lock()
	b.searchCount++
	b.statsMu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	now := time.Now()

	type scored struct {
		post  *Post
		score float64
	}
	var matches []scored
	for _, id := range ids {
		post, err := b.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if post.Expired(now) {
			b.sweep(ctx, post)
			continue
		}
		s := relevance(post, terms, now)
		if s > 0 {
			matches = append(matches, scored{post, s})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*Post, len(matches))
	for i, m := range matches {
		out[i] = m.post
	}
	return out, nil
}

// relevance = 10 per title hit + 5 per category hit + 3 per tag hit
// + 2 * priority + max(0, 10 - age in hours).
func relevance(post *Post, terms []string, now time.Time) float64 {
	if len(terms) == 0 {
		return 0
	}
	title := strings.ToLower(post.Title)
	category := strings.ToLower(post.Category)

	var score float64
	matched := false
	for _, term := range terms {
		if strings.Contains(title, term) {
			score += 10
			matched = true
		}
		if strings.Contains(category, term) {
			score += 5
			matched = true
		}
		for _, tag := range post.Tags {
			if strings.Contains(strings.ToLower(tag), term) {
				score += 3
				matched = true
			}
		}
	}
	if !matched {
		return 0
	}

	score += 2 * float64(post.Priority)
	ageHours := now.Sub(post.CreatedAt).Hours()
	if bonus := 10 - ageHours; bonus > 0 {
		score += bonus
	}
	return score
}

// Subscribe registers a handler fired once per new post in a category.
func (b *Board) Subscribe(category string, sub Subscriber) {
	category = NormalizeCategory(category)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[category] = append(b.subs[category], sub)
}

func (b *Board) notify(post *Post) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs[post.Category]))
	copy(subs, b.subs[post.Category])
	b.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("Board subscriber panicked", slog.String("category", post.Category), slog.Any("panic", r))
				}
			}()
			sub(post)
		}()
	}
}

// Stats reports board activity counters.
type Stats struct {
	ActivePosts int   `json:"active_posts"`
	PostsMade   int64 `json:"posts_made"`
	PostsRead   int64 `json:"posts_read"`
	PostsSwept  int64 `json:"posts_swept"`
	Searches    int64 `json:"searches"`
}

// BoardStats returns activity counters and the current live-post count.
func (b *Board) BoardStats(ctx context.Context) (Stats, error) {
	ids, err := b.store.AllIDs(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := time.Now()
	active := 0
	for _, id := range ids {
		post, err := b.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if !post.Expired(now) {
			active++
		}
	}

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return Stats{
		ActivePosts: active,
		PostsMade:   b.postsMade,
		PostsRead:   b.postsRead,
		PostsSwept:  b.postsSwept,
		Searches:    b.searchCount,
	}, nil
}

// StartSweeper runs the background GC loop until the context is cancelled.
func (b *Board) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweepAll(ctx)
			}
		}
	}()
}

func (b *Board) sweepAll(ctx context.Context) {
	ids, err := b.store.AllIDs(ctx)
	if err != nil {
		b.logger.Warn("Board sweep failed", slog.String("error", err.Error()))
		return
	}
	now := time.Now()
	for _, id := range ids {
		post, err := b.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if post.Expired(now) {
			b.sweep(ctx, post)
		}
	}
}

func (b *Board) sweep(ctx context.Context, post *Post) {
	if err := b.store.Delete(ctx, post); err != nil {
		b.logger.Warn("Failed to GC expired post", slog.Int64("post", post.ID), slog.String("error", err.Error()))
		return
	}
	b.statsMu.Lock()
	b.postsSwept++
	b.statsMu.Unlock()
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 2 {
		return 2
	}
	return p
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasAnyTag(postTags, queryTags []string) bool {
	for _, qt := range queryTags {
		if contains(postTags, qt) {
			return true
		}
	}
	return false
}
