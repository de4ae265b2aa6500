// Minimal out-of-tree plugin example.
// It shows the smallest plugin the host accepts: a Name and one hook.

package main

import (
	"log/slog"

	"toomanypages/pkg/plugin"
)

type MinimalPlugin struct{}

func (p *MinimalPlugin) Name() string {
	return "MinimalPlugin"
}

// OnPagesLoaded reports how many pages discovery returned. With
// TooManyPages enabled this is 0 for ordinary requests.
func (p *MinimalPlugin) OnPagesLoaded(pages []plugin.Page, current, previous, next *plugin.Page) {
	slog.Info("Pages loaded", "plugin", p.Name(), "count", len(pages))
}

// NewPlugin is the exported factory the host looks up.
func NewPlugin(settings map[string]any) (plugin.Plugin, error) {
	return &MinimalPlugin{}, nil
}
