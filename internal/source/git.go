package source

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/fileset"
)

// GitLoader clones a repository into memory and reads it as a file set.
// Nothing touches the local disk: the worktree lives in a billy memfs.
type GitLoader struct {
	cfg config.SourceConfig
}

// NewGitLoader builds a loader for cfg.Repo.
func NewGitLoader(cfg config.SourceConfig) *GitLoader {
	return &GitLoader{cfg: cfg}
}

// Load performs a shallow single-branch clone and collects the worktree.
func (l *GitLoader) Load(ctx context.Context) ([]fileset.Entry, error) {
	worktree := memfs.New()
	opts := &git.CloneOptions{
		URL:          l.cfg.Repo,
		Depth:        1,
		SingleBranch: true,
	}
	if l.cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(l.cfg.Branch)
	}
	if _, err := git.CloneContext(ctx, memory.NewStorage(), worktree, opts); err != nil {
		return nil, errors.SourceError(l.cfg.Repo, err)
	}

	var entries []fileset.Entry
	if err := l.collect(worktree, "", &entries); err != nil {
		return nil, errors.SourceError(l.cfg.Repo, err)
	}
	return entries, nil
}

func (l *GitLoader) collect(fsys billy.Filesystem, dir string, out *[]fileset.Entry) error {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, info := range infos {
		name := info.Name()
		path := name
		if dir != "" {
			path = dir + "/" + name
		}
		if info.IsDir() {
			if skipDirs[name] || (!l.cfg.IncludeDotfiles && strings.HasPrefix(name, ".")) {
				continue
			}
			if err := l.collect(fsys, path, out); err != nil {
				return err
			}
			continue
		}
		if !l.cfg.IncludeDotfiles && strings.HasPrefix(name, ".") && !isWhitelistedDotfile(name) {
			continue
		}
		if l.excludedPath(path) || info.Size() > l.cfg.MaxFileSizeBytes {
			continue
		}
		f, err := fsys.Open(path)
		if err != nil {
			return err
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return err
		}
		*out = append(*out, fileset.Entry{Path: path, Content: string(content)})
	}
	return nil
}

func (l *GitLoader) excludedPath(rel string) bool {
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
