package plugin

import "maps"

// Well-known option keys.
const (
	KeyContentDir = "content_dir"
	KeyContentExt = "content_ext"
	KeyBaseURL    = "base_url"
	KeySiteTitle  = "site_title"
)

// Config is the option mapping the host shares with plugins for one request.
// It is a map, so every holder sees the same entries; plugins must not keep it
// after the request ends.
type Config map[string]any

// String returns the value stored under key when it is a string.
func (c Config) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy that can be handed to a new request.
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	return maps.Clone(c)
}
