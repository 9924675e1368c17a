// Package syncer mirrors the virtual file set into the sandbox and ensures
// the framework scaffold is complete.
package syncer

import (
	"context"
	"sort"
	"strings"

	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/fileset"
	"git.home.luguber.info/inful/previewd/internal/runtime"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

// API is the slice of the sandbox client the engine needs.
type API interface {
	MakeDir(ctx context.Context, h *sandbox.Handle, path string) error
	WriteFile(ctx context.Context, h *sandbox.Handle, path, content string) error
}

// Engine performs full file-set syncs.
type Engine struct {
	api API
}

// NewEngine builds a sync engine over the sandbox client.
func NewEngine(api API) *Engine {
	return &Engine{api: api}
}

// Sync mirrors entries into the sandbox: directories first (parents before
// children), then every file, then the framework scaffold. Any step failure
// aborts the whole sync.
func (e *Engine) Sync(ctx context.Context, h *sandbox.Handle, entries []fileset.Entry, profile runtime.Profile) error {
	for _, dir := range directoryPrefixes(entries) {
		if err := e.api.MakeDir(ctx, h, dir); err != nil {
			return errors.SyncError(err).WithContext("dir", dir)
		}
	}

	for _, entry := range entries {
		path := fileset.NormalizePath(entry.Path)
		if path == "" {
			continue
		}
		if err := e.api.WriteFile(ctx, h, path, entry.Content); err != nil {
			return errors.SyncError(err).WithContext("path", path)
		}
	}

	if err := e.ensureScaffold(ctx, h, entries, profile); err != nil {
		return err
	}
	return nil
}

// directoryPrefixes derives every directory implied by the entry paths.
// Lexicographic order guarantees each parent precedes its children.
func directoryPrefixes(entries []fileset.Entry) []string {
	seen := map[string]bool{}
	for _, entry := range entries {
		path := fileset.NormalizePath(entry.Path)
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			seen[strings.Join(parts[:i], "/")] = true
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}
