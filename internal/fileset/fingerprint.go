package fileset

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// HashString renders the FNV-1a 64-bit digest of s as hex. Not cryptographic;
// stability across runs and sensitivity to single-byte changes is what matters.
func HashString(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Fingerprint computes a deterministic, order-independent digest of the file
// set. Each entry contributes "hash(path):hash(content)"; tokens are sorted
// before the final hash so permutations of the same entries are equal.
func Fingerprint(entries []Entry) string {
	tokens := make([]string, 0, len(entries))
	for _, e := range entries {
		tokens = append(tokens, HashString(NormalizePath(e.Path))+":"+HashString(e.Content))
	}
	sort.Strings(tokens)
	return HashString(strings.Join(tokens, "|"))
}
