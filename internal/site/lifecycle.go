// This file drives the plugin lifecycle for a single request. The hooks run
// strictly in this order:
//
//	OnConfigLoaded -> OnRequestURL -> OnRequestFile -> OnPagesLoading
//	-> (discovery) -> OnPagesLoaded -> (rendering)
//
// Every option the host needs after a hook is read back from the shared
// mapping, so plugins can redirect discovery or rendering by changing it.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"toomanypages/internal/content"
	"toomanypages/internal/render"
	"toomanypages/pkg/plugin"
)

const (
	sitemapURL       = "sitemap.xml"
	credentialField  = "password"
	excerptMaxLength = 160
)

// lifecycle holds the per-request plugin instances and their shared options.
type lifecycle struct {
	plugins []plugin.Plugin
	options plugin.Config
	logger  *slog.Logger
}

func (lc *lifecycle) configLoaded() {
	for _, p := range lc.plugins {
		if h, ok := p.(plugin.ConfigLoadedHook); ok {
			lc.trace("OnConfigLoaded", p)
			h.OnConfigLoaded(lc.options)
		}
	}
}

func (lc *lifecycle) requestURL(url string) {
	for _, p := range lc.plugins {
		if h, ok := p.(plugin.RequestURLHook); ok {
			lc.trace("OnRequestURL", p)
			h.OnRequestURL(url)
		}
	}
}

func (lc *lifecycle) requestFile(file string, signals plugin.RequestSignals) {
	for _, p := range lc.plugins {
		if h, ok := p.(plugin.RequestFileHook); ok {
			lc.trace("OnRequestFile", p)
			h.OnRequestFile(file, signals)
		}
	}
}

func (lc *lifecycle) pagesLoading() {
	for _, p := range lc.plugins {
		if h, ok := p.(plugin.PagesLoadingHook); ok {
			lc.trace("OnPagesLoading", p)
			h.OnPagesLoading()
		}
	}
}

func (lc *lifecycle) pagesLoaded(pages []plugin.Page, current, previous, next *plugin.Page) {
	for _, p := range lc.plugins {
		if h, ok := p.(plugin.PagesLoadedHook); ok {
			lc.trace("OnPagesLoaded", p)
			h.OnPagesLoaded(pages, current, previous, next)
		}
	}
}

func (lc *lifecycle) trace(hook string, p plugin.Plugin) {
	lc.logger.Debug("Running plugin hook", "hook", hook, "plugin", p.Name())
}

func (lc *lifecycle) option(key string) string {
	v, _ := lc.options.String(key)
	return v
}

// signals collects the request facts plugins may act on in OnRequestFile.
func (s *Site) signals(ctx context.Context, r *http.Request) plugin.RequestSignals {
	return plugin.RequestSignals{
		SessionAuthenticated: s.sessions.Authenticated(ctx, r),
		CredentialSubmitted:  r.Method == http.MethodPost && r.PostFormValue(credentialField) != "",
	}
}

func (s *Site) servePage(ctx context.Context, r *http.Request, logger *slog.Logger) (*response, error) {
	instances, err := s.plugins.Instantiate()
	if err != nil {
		return nil, fmt.Errorf("failed to create plugins: %w", err)
	}

	lc := &lifecycle{
		plugins: instances,
		options: s.config.RequestOptions(),
		logger:  logger,
	}

	lc.configLoaded()

	url := content.EvaluateURL(r.URL.Path)
	lc.requestURL(url)

	contentDir := lc.option(plugin.KeyContentDir)
	ext := lc.option(plugin.KeyContentExt)
	baseURL := lc.option(plugin.KeyBaseURL)

	file := content.ResolveFile(contentDir, url, ext)
	lc.requestFile(file, s.signals(ctx, r))

	isSitemap := url == sitemapURL
	status := http.StatusOK

	var requested *plugin.Page
	if !isSitemap {
		requested, err = content.ReadPage(contentDir, file, ext, baseURL)
		switch {
		case errors.Is(err, content.ErrNotFound):
			status = http.StatusNotFound
		case err != nil:
			return nil, err
		}
	}

	lc.pagesLoading()

	discoveryDir := lc.option(plugin.KeyContentDir)
	start := time.Now()
	pages, err := content.Discover(ctx, discoveryDir, ext, baseURL)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	s.metrics.ObserveDiscovery(elapsed, len(pages))
	logger.Debug("Discovered pages", "dir", discoveryDir, "count", len(pages), "duration", elapsed)

	var current, previous, next *plugin.Page
	if requested != nil {
		current, previous, next = content.Neighbours(pages, requested.ID)
	}
	lc.pagesLoaded(pages, current, previous, next)

	var resp *response
	switch {
	case isSitemap:
		resp, err = sitemapResponse(pages)
	case status == http.StatusNotFound:
		resp, err = s.notFoundResponse(lc, file, pages)
	default:
		resp, err = s.pageResponse(lc, status, requested, pages, previous, next)
	}
	if err != nil {
		return nil, err
	}

	resp.header.Set("X-Pages-Discovered", strconv.Itoa(len(pages)))
	return resp, nil
}

func sitemapResponse(pages []plugin.Page) (*response, error) {
	body, err := render.Sitemap(pages)
	if err != nil {
		return nil, err
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/xml; charset=utf-8")
	return &response{status: http.StatusOK, header: header, body: body}, nil
}

// notFoundResponse renders the nearest 404 page. content_dir is read again
// here because plugins may have changed it during discovery.
func (s *Site) notFoundResponse(lc *lifecycle, file string, pages []plugin.Page) (*response, error) {
	contentDir := lc.option(plugin.KeyContentDir)
	ext := lc.option(plugin.KeyContentExt)

	notFound, err := content.NotFoundFile(contentDir, file, ext)
	if errors.Is(err, content.ErrNotFound) {
		header := make(http.Header)
		header.Set("Content-Type", "text/plain; charset=utf-8")
		return &response{status: http.StatusNotFound, header: header, body: []byte("Not Found\n")}, nil
	}
	if err != nil {
		return nil, err
	}

	page, err := content.ReadPage(contentDir, notFound, ext, lc.option(plugin.KeyBaseURL))
	if err != nil {
		return nil, err
	}
	return s.pageResponse(lc, http.StatusNotFound, page, pages, nil, nil)
}

func (s *Site) pageResponse(lc *lifecycle, status int, page *plugin.Page, pages []plugin.Page, previous, next *plugin.Page) (*response, error) {
	baseURL := lc.option(plugin.KeyBaseURL)

	html, err := render.Markdown(page.Raw, baseURL)
	if err != nil {
		return nil, err
	}

	description := page.Description
	if description == "" {
		description, err = render.Excerpt(html, excerptMaxLength)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	err = render.Page(&buf, render.PageData{
		SiteTitle:   lc.option(plugin.KeySiteTitle),
		BaseURL:     baseURL,
		Title:       page.Title,
		Description: description,
		Content:     template.HTML(html),
		Pages:       pages,
		Previous:    previous,
		Next:        next,
	})
	if err != nil {
		return nil, err
	}

	return htmlResponse(status, &buf), nil
}
