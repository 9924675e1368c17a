// Package source produces the virtual file set the pipeline consumes, from a
// local directory, a git repository, or filesystem change notifications.
package source

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/fileset"
)

// skipDirs are directory names never included in the file set: VCS metadata,
// installed dependencies, and build output that the sandbox regenerates.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".next":        true,
	"dist":         true,
	"build":        true,
	".cache":       true,
}

// DirLoader reads a project directory into a file set.
type DirLoader struct {
	cfg config.SourceConfig
}

// NewDirLoader builds a loader for cfg.Dir.
func NewDirLoader(cfg config.SourceConfig) *DirLoader {
	return &DirLoader{cfg: cfg}
}

// Load walks the directory and returns the entries that pass the filters.
// Files over the size cap are skipped, not errors: a giant asset should not
// block the preview of everything else.
func (l *DirLoader) Load() ([]fileset.Entry, error) {
	root, err := filepath.Abs(l.cfg.Dir)
	if err != nil {
		return nil, errors.SourceError(l.cfg.Dir, err)
	}

	var entries []fileset.Entry
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (skipDirs[name] || (!l.cfg.IncludeDotfiles && strings.HasPrefix(name, "."))) {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.cfg.IncludeDotfiles && strings.HasPrefix(name, ".") && !isWhitelistedDotfile(name) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if l.excluded(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > l.cfg.MaxFileSizeBytes {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, fileset.Entry{Path: rel, Content: string(content)})
		return nil
	})
	if walkErr != nil {
		return nil, errors.SourceError(l.cfg.Dir, walkErr)
	}
	return entries, nil
}

// isWhitelistedDotfile lists dotfiles that matter to the dev server even when
// dotfiles are otherwise excluded.
func isWhitelistedDotfile(name string) bool {
	switch name {
	case ".env", ".env.local", ".npmrc", ".babelrc":
		return true
	}
	return false
}

func (l *DirLoader) excluded(rel string) bool {
	for _, pattern := range l.cfg.ExcludePatterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
