// Package batch runs the optimizer over every image found under a directory
// tree and aggregates the results.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"image-optimizer-go/internal/optimizer"
)

// DiscoveryError reports that the files under Root could not be enumerated.
// It aborts the whole run.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover images in %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Finder enumerates candidate image files below a root directory.
type Finder interface {
	Find(root string) ([]string, error)
}

// WalkFinder finds files by extension with filepath.WalkDir.
type WalkFinder struct {
	extensions    map[string]struct{}
	excludeDirs   map[string]struct{}
	skipOptimized bool
}

// NewWalkFinder returns a WalkFinder matching the given extensions
// (case-insensitive, with or without the dot) and pruning directories whose
// name is in excludeDirs. With skipOptimized, files previously written by the
// optimizer are ignored.
func NewWalkFinder(extensions, excludeDirs []string, skipOptimized bool) *WalkFinder {
	f := &WalkFinder{
		extensions:    make(map[string]struct{}, len(extensions)),
		excludeDirs:   make(map[string]struct{}, len(excludeDirs)),
		skipOptimized: skipOptimized,
	}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	for _, dir := range excludeDirs {
		f.excludeDirs[dir] = struct{}{}
	}
	return f
}

// Find returns the matching files below root, sorted lexicographically.
// Dotfiles and dot-directories below root are ignored. Unreadable
// subdirectories are skipped; an unreadable root is a *DiscoveryError.
func (f *WalkFinder) Find(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if _, skip := f.excludeDirs[d.Name()]; skip || isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(d.Name()) {
			return nil
		}
		if _, ok := f.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		if f.skipOptimized && optimizer.IsOutputPath(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	sort.Strings(files)
	return files, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
