package board

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Durable store key layout.
const (
	keyCounter        = "post_id:counter"
	keyPostPrefix     = "post:"
	keyByCategoryPref = "posts:by_category:"
	keyByAuthorPref   = "posts:by_author:"
	keyAll            = "posts:all"
)

// RedisStore persists posts in the durable backend: a hash per post plus
// sorted-set indexes scored by creation timestamp.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing durable-backend connection.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NextID increments the shared post counter.
func (s *RedisStore) NextID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, keyCounter).Result()
	if err != nil {
		return 0, fmt.Errorf("increment post counter: %w", err)
	}
	return id, nil
}

// Save writes the post hash and index entries in one transaction.
func (s *RedisStore) Save(ctx context.Context, post *Post) error {
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	score := float64(post.CreatedAt.UnixMilli())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyPostPrefix+strconv.FormatInt(post.ID, 10), "data", data)
	pipe.ZAdd(ctx, keyByCategoryPref+post.Category, redis.Z{Score: score, Member: post.ID})
	pipe.ZAdd(ctx, keyByAuthorPref+post.Author, redis.Z{Score: score, Member: post.ID})
	pipe.ZAdd(ctx, keyAll, redis.Z{Score: score, Member: post.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save post %d: %w", post.ID, err)
	}
	return nil
}

// Get loads a post by id.
func (s *RedisStore) Get(ctx context.Context, id int64) (*Post, error) {
	data, err := s.client.HGet(ctx, keyPostPrefix+strconv.FormatInt(id, 10), "data").Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", id, err)
	}
	var post Post
	if err := json.Unmarshal(data, &post); err != nil {
		return nil, fmt.Errorf("decode post %d: %w", id, err)
	}
	return &post, nil
}

// Delete removes the post hash and its index entries.
func (s *RedisStore) Delete(ctx context.Context, post *Post) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyPostPrefix+strconv.FormatInt(post.ID, 10))
	pipe.ZRem(ctx, keyByCategoryPref+post.Category, post.ID)
	pipe.ZRem(ctx, keyByAuthorPref+post.Author, post.ID)
	pipe.ZRem(ctx, keyAll, post.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete post %d: %w", post.ID, err)
	}
	return nil
}

// IDsByCategory returns ids in a category, newest first.
func (s *RedisStore) IDsByCategory(ctx context.Context, category string) ([]int64, error) {
	return s.revRange(ctx, keyByCategoryPref+category)
}

// IDsByAuthor returns ids by author, newest first.
func (s *RedisStore) IDsByAuthor(ctx context.Context, author string) ([]int64, error) {
	return s.revRange(ctx, keyByAuthorPref+author)
}

// AllIDs returns all ids, newest first.
func (s *RedisStore) AllIDs(ctx context.Context) ([]int64, error) {
	return s.revRange(ctx, keyAll)
}

func (s *RedisStore) revRange(ctx context.Context, key string) ([]int64, error) {
	raw, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
