// Package session reads the admin login state that the editor stores in
// Redis. It never writes sessions.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// LoggedInField is the session field set by the admin editor after login.
const LoggedInField = "backend_logged_in"

// Store answers whether a request belongs to a logged in admin session.
type Store interface {
	Authenticated(ctx context.Context, r *http.Request) bool
}

// Nop is used when no session backend is configured. Nobody is logged in.
type Nop struct{}

func (Nop) Authenticated(context.Context, *http.Request) bool {
	return false
}

// RedisStore looks the session cookie up as a Redis hash named
// <prefix><cookie value>.
type RedisStore struct {
	client *redis.Client
	cookie string
	prefix string
}

func NewRedisStore(client *redis.Client, cookie, prefix string) *RedisStore {
	return &RedisStore{client: client, cookie: cookie, prefix: prefix}
}

func (s *RedisStore) Authenticated(ctx context.Context, r *http.Request) bool {
	c, err := r.Cookie(s.cookie)
	if err != nil || c.Value == "" {
		return false
	}

	value, err := s.client.HGet(ctx, s.prefix+c.Value, LoggedInField).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to read session", "cookie", s.cookie, "error", err)
		}
		return false
	}

	return truthy(value)
}

// truthy mirrors how the editor stores the flag: any non-empty value other
// than "0" or "false" counts as logged in.
func truthy(value string) bool {
	if value == "" || value == "0" {
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return true
}
