// Package docs renders the operator documentation shipped with the node.
// Pages are AsciiDoc files in a single directory; rendered HTML is cached
// until the source file changes.
package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

// ErrNotFound is returned for names that do not resolve to a page.
var ErrNotFound = errors.New("doc not found")

const ext = ".adoc"

type page struct {
	html    string
	modTime time.Time
}

type Service struct {
	docsDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]page
}

func NewService(docsDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		docsDir: docsDir,
		logger:  logger.With("component", "docs"),
		cache:   make(map[string]page),
	}
}

// Dir returns the directory pages are read from.
func (s *Service) Dir() string { return s.docsDir }

// GetDoc returns the HTML body of the named page. The name may be given
// with or without the .adoc suffix; directory components are rejected.
func (s *Service) GetDoc(ctx context.Context, name string) (string, error) {
	filename, err := cleanName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.docsDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return "", fmt.Errorf("stat doc file: %w", err)
	}

	s.mu.RLock()
	cached, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.html, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()
	s.mu.Lock()
	s.cache[filename] = page{html: html, modTime: info.ModTime()}
	s.mu.Unlock()
	s.logger.Debug("rendered doc", "file", filename, "bytes", len(html))

	return html, nil
}

// ListDocs returns the page file names in lexical order.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ext) {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}

func cleanName(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !strings.HasSuffix(name, ext) {
		name += ext
	}
	return name, nil
}
