package site

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"toomanypages/internal/cache"
	"toomanypages/internal/config"
	"toomanypages/internal/metrics"
	"toomanypages/internal/plugins"
	"toomanypages/internal/session"
	"toomanypages/internal/toomanypages"
	"toomanypages/pkg/plugin"
)

type Site struct {
	mu       sync.RWMutex
	config   *config.Config
	cache    *cache.Cache
	sessions session.Store
	plugins  *plugins.Manager
	metrics  *metrics.Metrics
	version  string

	// sessionsFixed is set when the store was injected with WithSessions and
	// must survive config reloads.
	sessionsFixed bool
}

type Option func(*Site)

// WithSessions replaces the session store derived from the Redis settings.
func WithSessions(store session.Store) Option {
	return func(s *Site) {
		s.sessions = store
		s.sessionsFixed = true
	}
}

// WithMetrics records lifecycle metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Site) {
		s.metrics = m
	}
}

// WithPlugin registers an additional built-in plugin factory.
func WithPlugin(name string, factory plugin.Factory) Option {
	return func(s *Site) {
		s.plugins.Register(name, factory)
	}
}

func New(cfg *config.Config, version string, opts ...Option) (*Site, error) {
	pluginManager, err := plugins.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin manager: %w", err)
	}
	pluginManager.Register(toomanypages.Name, toomanypages.Factory)

	s := &Site{
		config:   cfg,
		sessions: session.Nop{},
		plugins:  pluginManager,
		version:  version,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	if err := pluginManager.LoadPlugins(cfg); err != nil {
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}

	if cfg.CacheEnabled() {
		cacheClient, err := cache.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache client: %w", err)
		}
		s.setCache(cacheClient.WithDefaultTTL(cfg.CacheTTL()), cfg)
	}

	return s, nil
}

func (s *Site) setCache(c *cache.Cache, cfg *config.Config) {
	s.cache = c
	if !s.sessionsFixed {
		s.sessions = session.NewRedisStore(c.Client(), cfg.Session.Cookie, cfg.Session.KeyPrefix)
	}
}

func (s *Site) UpdateConfig(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Connect to a changed Redis up front, but swap nothing until the plugins
	// have loaded too.
	redisChanged := s.config.Redis != cfg.Redis
	var newCache *cache.Cache
	if redisChanged && cfg.CacheEnabled() {
		c, err := cache.New(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to create new cache client: %w", err)
		}
		newCache = c
	}

	if err := s.plugins.LoadPlugins(cfg); err != nil {
		if newCache != nil {
			if closeErr := newCache.Close(); closeErr != nil {
				slog.Error("Failed to close cache client", "error", closeErr)
			}
		}
		return fmt.Errorf("failed to reload plugins: %w", err)
	}

	if redisChanged {
		s.closeCache()
		s.cache = nil
		if !s.sessionsFixed {
			s.sessions = session.Nop{}
		}
		if newCache != nil {
			s.setCache(newCache, cfg)
		}
	}
	if s.cache != nil {
		s.cache.WithDefaultTTL(cfg.CacheTTL())
		if !s.sessionsFixed {
			s.sessions = session.NewRedisStore(s.cache.Client(), cfg.Session.Cookie, cfg.Session.KeyPrefix)
		}
	}

	// Rendered pages depend on content_dir and plugin settings.
	if err := s.cache.Purge(context.Background()); err != nil {
		slog.Error("Failed to purge cache", "error", err)
	}

	s.config = cfg
	return nil
}

func (s *Site) closeCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Close(); err != nil {
		slog.Error("Failed to close cache client", "error", err)
	}
}

// Close releases the Redis connection.
func (s *Site) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requestID := uuid.NewString()
	logger := slog.With("request_id", requestID, "path", r.URL.Path)

	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-TooManyPages-Version", s.version)

	if r.Method != http.MethodGet && r.Method != http.MethodPost && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD, POST")
		s.writeError(w, http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout())
	defer cancel()
	r = r.WithContext(ctx)

	useCache := s.cache != nil && r.Method == http.MethodGet && !s.hasDenylistedCookies(r)
	if useCache {
		cached := s.cache.Get(r, s.config)
		s.metrics.ObserveCache(cached != nil)
		if cached != nil {
			logger.Info("Serving cached page")
			s.serveCachedResponse(w, r, cached)
			return
		}
	}

	resp, err := s.servePage(ctx, r, logger)
	if err != nil {
		logger.Error("Failed to serve page", "error", err)
		s.writeError(w, http.StatusInternalServerError)
		return
	}

	if useCache && s.shouldCache(r, resp) {
		entry := &cache.Entry{
			Body:       resp.body,
			Headers:    resp.header.Clone(),
			StatusCode: resp.status,
			Timestamp:  time.Now(),
		}
		if err := s.cache.Set(r, entry, s.config); err != nil {
			logger.Error("Failed to cache response", "error", err)
		}
		resp.header.Set("X-TooManyPages-Cache", "MISS")
	}

	s.writeResponse(w, r, resp)
}

// response is a fully rendered page waiting to be written.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (s *Site) shouldCache(r *http.Request, resp *response) bool {
	return s.cache.IsCacheable(&http.Response{
		StatusCode: resp.status,
		Header:     resp.header,
		Request:    r,
	})
}

func (s *Site) hasDenylistedCookies(req *http.Request) bool {
	denylist := append([]string{s.config.Session.Cookie}, s.config.CookieDenylist...)
	for _, denyName := range denylist {
		for _, cookie := range req.Cookies() {
			if cookie.Name == denyName {
				return true
			}
		}
	}
	return false
}

func (s *Site) serveCachedResponse(w http.ResponseWriter, r *http.Request, entry *cache.Entry) {
	for key, values := range entry.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("X-TooManyPages-Cache", "HIT")

	s.metrics.ObserveRequest(entry.StatusCode)
	w.WriteHeader(entry.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(entry.Body); err != nil {
		slog.Error("Failed to write cached response body", "error", err)
	}
}

func (s *Site) writeResponse(w http.ResponseWriter, r *http.Request, resp *response) {
	for key, values := range resp.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.body)))

	s.metrics.ObserveRequest(resp.status)
	w.WriteHeader(resp.status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.body); err != nil {
		slog.Error("Failed to write response body", "error", err)
	}
}

func (s *Site) writeError(w http.ResponseWriter, status int) {
	s.metrics.ObserveRequest(status)
	http.Error(w, http.StatusText(status), status)
}

func htmlResponse(status int, body *bytes.Buffer) *response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	return &response{status: status, header: header, body: body.Bytes()}
}
