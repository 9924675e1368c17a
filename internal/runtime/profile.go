// Package runtime selects the framework profile (dev command, port) for a
// virtual file set by inspecting its package manifest.
package runtime

import (
	"encoding/json"
	"strings"

	"git.home.luguber.info/inful/previewd/internal/fileset"
)

// Framework identifies a supported dev-server framework.
type Framework string

const (
	FrameworkNextJS Framework = "nextjs"
	FrameworkVite   Framework = "vite"
)

// Profile is derived from the current file set each time it is needed; it is
// never persisted. The command always binds all interfaces on an explicit
// port so the sandbox host route can reach the dev server.
type Profile struct {
	Framework Framework
	Command   string
	Port      int
	HostBind  bool
}

var profiles = map[Framework]Profile{
	FrameworkNextJS: {Framework: FrameworkNextJS, Command: "npx next dev -H 0.0.0.0 -p 3000", Port: 3000, HostBind: true},
	FrameworkVite:   {Framework: FrameworkVite, Command: "npx vite --host 0.0.0.0 --port 5173", Port: 5173, HostBind: true},
}

// DefaultProfile is used when no manifest exists or it cannot be parsed.
func DefaultProfile() Profile { return profiles[FrameworkNextJS] }

// ProfileFor returns the canonical profile for a framework.
func ProfileFor(f Framework) Profile { return profiles[f] }

// Manifest is the subset of package.json the resolver cares about.
type Manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

// ParseManifest locates and parses the root package manifest. The second
// return is false when the manifest is absent or malformed.
func ParseManifest(entries []fileset.Entry) (*Manifest, bool) {
	entry, ok := fileset.Find(entries, "package.json")
	if !ok {
		return nil, false
	}
	var m Manifest
	if err := json.Unmarshal([]byte(entry.Content), &m); err != nil {
		return nil, false
	}
	return &m, true
}

// Resolve inspects the file set and picks a profile. It never fails: a
// missing or unparsable manifest falls back to the default. Next.js wins
// whenever its signal is present or neither signal is conclusive; Vite is
// chosen only when its signal is present and the Next.js signal absent.
func Resolve(entries []fileset.Entry) Profile {
	m, ok := ParseManifest(entries)
	if !ok {
		return DefaultProfile()
	}

	deps := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for k, v := range m.Dependencies {
		deps[k] = v
	}
	for k, v := range m.DevDependencies {
		deps[k] = v
	}

	devScript := m.Scripts["dev"]
	_, hasNext := deps["next"]
	_, hasVite := deps["vite"]
	nextSignal := hasNext || strings.Contains(devScript, "next")
	viteSignal := hasVite || strings.Contains(devScript, "vite")

	if nextSignal || !viteSignal {
		return profiles[FrameworkNextJS]
	}
	return profiles[FrameworkVite]
}
