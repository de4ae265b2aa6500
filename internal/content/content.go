// Package content is the host's view of the flat-file content directory:
// mapping request URLs to files and discovering every page under a
// directory.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"toomanypages/pkg/plugin"
)

// ErrNotFound is returned when no content file exists for a request.
var ErrNotFound = errors.New("content file not found")

const (
	indexName    = "index"
	notFoundName = "404"
)

// EvaluateURL turns a request path into the URL handed to plugins: no
// leading or trailing slashes, "" for the site index.
func EvaluateURL(path string) string {
	return strings.Trim(path, "/")
}

// ResolveFile maps url to the content file that serves it. The result may
// not exist; callers check with os.Stat or ReadFile.
func ResolveFile(contentDir, url, ext string) string {
	if url == "" {
		return filepath.Join(contentDir, indexName+ext)
	}

	candidate := filepath.Join(contentDir, filepath.FromSlash(url))
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return filepath.Join(candidate, indexName+ext)
	}
	return candidate + ext
}

// NotFoundFile returns the nearest 404 page for file, walking up towards
// contentDir.
func NotFoundFile(contentDir, file, ext string) (string, error) {
	root, err := filepath.Abs(contentDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve content dir: %w", err)
	}
	dir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return "", fmt.Errorf("failed to resolve request file: %w", err)
	}
	if !isWithin(root, dir) {
		dir = root
	}

	for {
		candidate := filepath.Join(dir, notFoundName+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		if dir == root {
			return "", ErrNotFound
		}
		dir = filepath.Dir(dir)
	}
}

func isWithin(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ReadPage reads and parses a content file. Files outside contentDir, such
// as those reached through ".." in the URL, are reported as ErrNotFound.
func ReadPage(contentDir, file, ext, baseURL string) (*plugin.Page, error) {
	root, err := filepath.Abs(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve content dir: %w", err)
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve content file: %w", err)
	}
	if !isWithin(root, abs) {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	return ParsePage(contentDir, file, ext, baseURL, raw)
}

// Discover returns every page under contentDir sorted by ID. 404 pages are
// not part of the list.
func Discover(ctx context.Context, contentDir, ext, baseURL string) ([]plugin.Page, error) {
	info, err := os.Stat(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open content dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content dir %s is not a directory", contentDir)
	}

	var pages []plugin.Page
	err = filepath.WalkDir(contentDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ext || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.TrimSuffix(d.Name(), ext) == notFoundName {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		page, err := ParsePage(contentDir, path, ext, baseURL, raw)
		if err != nil {
			return err
		}
		pages = append(pages, *page)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover pages: %w", err)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return pages, nil
}

// Neighbours finds the page with id and the pages before and after it.
func Neighbours(pages []plugin.Page, id string) (current, previous, next *plugin.Page) {
	for i := range pages {
		if pages[i].ID != id {
			continue
		}
		current = &pages[i]
		if i > 0 {
			previous = &pages[i-1]
		}
		if i < len(pages)-1 {
			next = &pages[i+1]
		}
		return current, previous, next
	}
	return nil, nil, nil
}

// PageID is the slash separated path of file relative to contentDir without
// the extension.
func PageID(contentDir, file, ext string) string {
	rel, err := filepath.Rel(contentDir, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, ext))
}

// PageURL is the public URL of a page ID; index pages map to their directory.
func PageURL(baseURL, id string) string {
	switch {
	case id == indexName:
		id = ""
	case strings.HasSuffix(id, "/"+indexName):
		id = strings.TrimSuffix(id, indexName)
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + id
}
