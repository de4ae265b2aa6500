package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"toomanypages/pkg/plugin"
)

// ErrUnterminatedFrontMatter is returned when the opening "---" has no
// matching closing line.
var ErrUnterminatedFrontMatter = errors.New("front matter is missing its closing delimiter")

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// SplitFrontMatter separates YAML front matter fenced by "---" lines from the
// body. Content without front matter returns a nil header and raw as body.
func SplitFrontMatter(raw []byte) (header, body []byte, err error) {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, raw, nil
	}

	rest := normalized[len("---\n"):]
	if bytes.HasPrefix(rest, []byte("---\n")) {
		return []byte{}, rest[len("---\n"):], nil
	}

	idx := bytes.Index(rest, []byte("\n---\n"))
	if idx < 0 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return rest[:len(rest)-len("\n---")+1], []byte{}, nil
		}
		return nil, nil, ErrUnterminatedFrontMatter
	}
	return rest[:idx+1], rest[idx+len("\n---\n"):], nil
}

// ParsePage builds a Page from a content file's raw bytes.
func ParsePage(contentDir, file, ext, baseURL string, raw []byte) (*plugin.Page, error) {
	header, body, err := SplitFrontMatter(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	meta := map[string]any{}
	if len(header) > 0 {
		if err := yaml.Unmarshal(header, &meta); err != nil {
			return nil, fmt.Errorf("%s: failed to parse front matter: %w", file, err)
		}
		if meta == nil {
			meta = map[string]any{}
		}
	}

	id := PageID(contentDir, file, ext)
	page := &plugin.Page{
		ID:   id,
		URL:  PageURL(baseURL, id),
		File: file,
		Meta: meta,
		Raw:  body,
	}

	page.Title = metaString(meta, "title", "Title")
	page.Description = metaString(meta, "description", "Description")
	page.Date = metaDate(meta, "date", "Date")

	return page, nil
}

func metaString(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := meta[key]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}

func metaDate(meta map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		switch v := meta[key].(type) {
		case time.Time:
			return v
		case string:
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}
