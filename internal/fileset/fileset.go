// Package fileset models the virtual file set the pipeline converges on and
// provides the order-independent fingerprint used to detect sync/rebuild work.
package fileset

import "strings"

// Entry is one unit of desired file-set state.
type Entry struct {
	Path    string
	Content string
}

// NormalizePath converts backslashes to forward slashes and strips one
// leading "./" or "/" so all paths are sandbox-root relative.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return p
}

// Find returns the entry whose normalized path equals path.
func Find(entries []Entry, path string) (Entry, bool) {
	path = NormalizePath(path)
	for _, e := range entries {
		if NormalizePath(e.Path) == path {
			return e, true
		}
	}
	return Entry{}, false
}

// HasManifest reports whether the set contains a root package manifest.
// The controller uses this as the minimum-viability gate before a full build.
func HasManifest(entries []Entry) bool {
	_, ok := Find(entries, "package.json")
	return ok
}
