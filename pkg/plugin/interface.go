package plugin

import "time"

// Plugin is the minimal contract every plugin satisfies. The lifecycle hooks
// are optional: the host checks each hook interface below and only calls the
// ones a plugin implements.
type Plugin interface {
	Name() string
}

// Factory creates a fresh plugin instance. The host calls it once per request
// with the plugin's settings block from the configuration file.
type Factory func(settings map[string]any) (Plugin, error)

// ConfigLoadedHook is triggered after the host has built the options for the
// current request. The mapping is shared: changes are seen by the host and by
// every plugin that runs afterwards.
type ConfigLoadedHook interface {
	OnConfigLoaded(cfg Config)
}

// RequestURLHook is triggered after the host has evaluated the request URL.
// url is the decoded path without surrounding slashes, e.g. "blog/post1".
type RequestURLHook interface {
	OnRequestURL(url string)
}

// RequestFileHook is triggered after the host has resolved the content file
// to serve. signals carries the request state the host knows at that point.
type RequestFileHook interface {
	OnRequestFile(file string, signals RequestSignals)
}

// PagesLoadingHook is triggered right before the host discovers all pages
// under content_dir.
type PagesLoadingHook interface {
	OnPagesLoading()
}

// PagesLoadedHook is triggered after page discovery. current, previous and
// next are nil when the requested page is not part of pages.
type PagesLoadedHook interface {
	OnPagesLoaded(pages []Page, current, previous, next *Page)
}

// RequestSignals are the session and request body facts a plugin may base a
// decision on. Plugins only read them.
type RequestSignals struct {
	// SessionAuthenticated is true when the request belongs to a logged in
	// administrative session.
	SessionAuthenticated bool
	// CredentialSubmitted is true when the request body carries a password.
	CredentialSubmitted bool
}

// Page is a single discovered content file.
type Page struct {
	ID          string
	URL         string
	File        string
	Title       string
	Description string
	Date        time.Time
	Meta        map[string]any
	Raw         []byte
}
