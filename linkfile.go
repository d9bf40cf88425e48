package clonechat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LinkFile appends clone records to a plain-text registry. Each record
// is exactly two lines: the origin title, then the destination deep
// link with an optional invite link after a pipe separator.
type LinkFile struct {
	mu   sync.Mutex
	path string
}

// NewLinkFile returns a LinkFile writing to path. The file and its
// directory are created on first append.
func NewLinkFile(path string) *LinkFile {
	return &LinkFile{path: path}
}

// Path returns the registry location.
func (f *LinkFile) Path() string { return f.path }

// Append writes one record. invite may be empty.
func (f *LinkFile) Append(title, link, invite string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("link file: %w", err)
		}
	}

	// Titles must stay on one line to keep the two-line record shape.
	title = strings.Join(strings.Fields(NormalizeText(title)), " ")
	if title == "" {
		title = "untitled"
	}
	line := link
	if invite != "" {
		line += " | " + invite
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("link file: %w", err)
	}
	if _, err := fmt.Fprintf(fh, "%s\n%s\n", title, line); err != nil {
		fh.Close()
		return fmt.Errorf("link file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("link file: %w", err)
	}
	return nil
}
