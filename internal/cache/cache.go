package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"toomanypages/internal/config"
)

const keyPrefix = "toomanypages:page:"

const defaultTTL = time.Hour

type Entry struct {
	Body       []byte      `json:"body"`
	Headers    http.Header `json:"headers"`
	StatusCode int         `json:"status_code"`
	Timestamp  time.Time   `json:"timestamp"`
	MaxAge     *int        `json:"max_age,omitempty"`
	Expires    *time.Time  `json:"expires,omitempty"`
}

type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

func New(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, defaultTTL: defaultTTL}, nil
}

// WithDefaultTTL sets the TTL used when a response carries no caching
// headers.
func (c *Cache) WithDefaultTTL(ttl time.Duration) *Cache {
	if ttl > 0 {
		c.defaultTTL = ttl
	}
	return c
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying connection so other stores can share it.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Get(req *http.Request, cfg *config.Config) *Entry {
	if c == nil || c.client == nil {
		return nil
	}

	key := c.generateKey(req)
	data, err := c.client.Get(req.Context(), key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to read cache entry", "key", key, "error", err)
		}
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Error("Failed to decode cache entry", "key", key, "error", err)
		return nil
	}

	if c.isExpired(&entry) {
		return nil
	}

	return &entry
}

// Set stores entry for req. The default TTL is fixed by WithDefaultTTL, which
// callers run under their own write lock, so concurrent calls share no
// mutable state.
func (c *Cache) Set(req *http.Request, entry *Entry, cfg *config.Config) error {
	if c == nil || c.client == nil {
		return nil
	}

	if entry.MaxAge == nil {
		entry.MaxAge = parseMaxAge(entry.Headers.Get("Cache-Control"))
	}
	if entry.Expires == nil {
		entry.Expires = parseExpires(entry.Headers.Get("Expires"))
	}

	ttl := c.calculateTTL(entry)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.client.Set(req.Context(), c.generateKey(req), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Purge drops every cached page, e.g. after a configuration reload.
func (c *Cache) Purge(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	return nil
}

func (c *Cache) generateKey(req *http.Request) string {
	h := xxhash.New()
	_, _ = h.WriteString(req.Method)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(req.URL.Path)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(canonicalQuery(req.URL.RawQuery))
	return keyPrefix + strconv.FormatUint(h.Sum64(), 16)
}

func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func (c *Cache) IsCacheable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}

	if resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}

	if resp.Header.Get("Set-Cookie") != "" {
		return false
	}

	cacheControl := strings.ToLower(resp.Header.Get("Cache-Control"))
	for _, directive := range []string{"no-cache", "no-store", "private"} {
		if strings.Contains(cacheControl, directive) {
			return false
		}
	}

	return true
}

func (c *Cache) isExpired(entry *Entry) bool {
	return time.Now().After(entry.Timestamp.Add(c.calculateTTL(entry)))
}

func (c *Cache) calculateTTL(entry *Entry) time.Duration {
	if entry.MaxAge != nil {
		return time.Duration(*entry.MaxAge) * time.Second
	}

	if entry.Expires != nil {
		return entry.Expires.Sub(entry.Timestamp)
	}

	if c.defaultTTL > 0 {
		return c.defaultTTL
	}
	return defaultTTL
}

func parseMaxAge(cacheControl string) *int {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		value, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return nil
		}
		return &seconds
	}
	return nil
}

func parseExpires(expires string) *time.Time {
	if expires == "" {
		return nil
	}
	t, err := http.ParseTime(expires)
	if err != nil {
		return nil
	}
	return &t
}
