package board

import (
	"context"
	"sort"
	"sync"
)

// Store abstracts post persistence so the board runs on the durable backend
// or falls back to process memory alongside the bus.
type Store interface {
	// NextID returns a monotonically increasing post id.
	NextID(ctx context.Context) (int64, error)
	// Save writes a post and its category/author indexes.
	Save(ctx context.Context, post *Post) error
	// Get returns a post by id, ErrNotFound if absent.
	Get(ctx context.Context, id int64) (*Post, error)
	// Delete removes a post and its index entries.
	Delete(ctx context.Context, post *Post) error
	// IDsByCategory returns post ids in a category, newest first.
	IDsByCategory(ctx context.Context, category string) ([]int64, error)
	// IDsByAuthor returns post ids by an author, newest first.
	IDsByAuthor(ctx context.Context, author string) ([]int64, error)
	// AllIDs returns every post id, newest first.
	AllIDs(ctx context.Context) ([]int64, error)
}

// MemoryStore is the in-process fallback store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	posts  map[int64]*Post
}

// NewMemoryStore creates an empty in-memory post store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{posts: make(map[int64]*Post)}
}

// NextID increments the post counter.
func (s *MemoryStore) NextID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// Save stores a copy of the post.
func (s *MemoryStore) Save(_ context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *post
	s.posts[post.ID] = &cp
	return nil
}

// Get returns a copy of the post.
func (s *MemoryStore) Get(_ context.Context, id int64) (*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *post
	return &cp, nil
}

// Delete removes the post.
func (s *MemoryStore) Delete(_ context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, post.ID)
	return nil
}

// IDsByCategory returns ids in a category, newest first.
func (s *MemoryStore) IDsByCategory(_ context.Context, category string) ([]int64, error) {
	return s.filter(func(p *Post) bool { return p.Category == category }), nil
}

// IDsByAuthor returns ids by author, newest first.
func (s *MemoryStore) IDsByAuthor(_ context.Context, author string) ([]int64, error) {
	return s.filter(func(p *Post) bool { return p.Author == author }), nil
}

// AllIDs returns all ids, newest first.
func (s *MemoryStore) AllIDs(_ context.Context) ([]int64, error) {
	return s.filter(func(*Post) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(*Post) bool) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*Post, 0, len(s.posts))
	for _, p := range s.posts {
		if keep(p) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	ids := make([]int64, len(matched))
	for i, p := range matched {
		ids[i] = p.ID
	}
	return ids
}
