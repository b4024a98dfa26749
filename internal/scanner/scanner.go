package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultExtensions lists the message file types the parser understands.
var DefaultExtensions = []string{".eml"}

// Scanner finds message files below a root directory
type Scanner struct {
	rootPath   string
	extensions []string
}

// NewScanner creates a scanner for root. With no extensions given it looks
// for DefaultExtensions.
func NewScanner(rootPath string, extensions ...string) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, len(extensions))
	for i, ext := range extensions {
		exts[i] = strings.ToLower(ext)
	}
	return &Scanner{
		rootPath:   rootPath,
		extensions: exts,
	}
}

// Matches reports whether name has one of the scanner's extensions.
func (s *Scanner) Matches(name string) bool {
	return slices.Contains(s.extensions, strings.ToLower(filepath.Ext(name)))
}

// Scan walks the root and returns matching files as slash-separated paths
// relative to the root, in lexical order.
func (s *Scanner) Scan() ([]string, error) {
	absRoot, err := filepath.Abs(s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute root path: %w", err)
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if d.IsDir() || !s.Matches(path) {
			return nil
		}
		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	slices.Sort(files)
	return files, nil
}

// Resolve turns a path returned by Scan back into a filesystem path.
func (s *Scanner) Resolve(relPath string) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(relPath))
}
