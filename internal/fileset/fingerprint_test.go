package fileset

import "testing"

// TestFingerprintOrderIndependent verifies permutations of the same entries
// yield the same digest.
func TestFingerprintOrderIndependent(t *testing.T) {
	a := []Entry{
		{Path: "package.json", Content: `{"name":"x"}`},
		{Path: "app/page.tsx", Content: "export default function Page() {}"},
		{Path: "app/layout.tsx", Content: "<html><body></body></html>"},
	}
	b := []Entry{a[2], a[0], a[1]}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("permuted file sets must have equal fingerprints")
	}
}

// TestFingerprintSingleByteChange flips one byte without changing total length.
func TestFingerprintSingleByteChange(t *testing.T) {
	a := []Entry{{Path: "src/main.tsx", Content: "const x = 1"}}
	b := []Entry{{Path: "src/main.tsx", Content: "const x = 2"}}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("single byte content change must change the fingerprint")
	}
}

func TestFingerprintPathNormalization(t *testing.T) {
	a := []Entry{{Path: "./app/page.tsx", Content: "p"}}
	b := []Entry{{Path: "app\\page.tsx", Content: "p"}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("equivalent normalized paths must fingerprint identically")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	entries := []Entry{{Path: "a", Content: "1"}, {Path: "b", Content: "2"}}
	if Fingerprint(entries) != Fingerprint(entries) {
		t.Fatalf("fingerprint must be stable across calls")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"./app/page.tsx": "app/page.tsx",
		"/app/page.tsx":  "app/page.tsx",
		"app\\page.tsx":  "app/page.tsx",
		"app/page.tsx":   "app/page.tsx",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHasManifest(t *testing.T) {
	if HasManifest(nil) {
		t.Fatalf("empty set has no manifest")
	}
	if !HasManifest([]Entry{{Path: "./package.json", Content: "{}"}}) {
		t.Fatalf("root package.json should be detected through normalization")
	}
	if HasManifest([]Entry{{Path: "sub/package.json", Content: "{}"}}) {
		t.Fatalf("nested manifest does not satisfy the root manifest gate")
	}
}
