package runtime

import (
	"testing"

	"git.home.luguber.info/inful/previewd/internal/fileset"
)

func manifestSet(content string) []fileset.Entry {
	return []fileset.Entry{{Path: "package.json", Content: content}}
}

func TestResolveEmptySet(t *testing.T) {
	p := Resolve(nil)
	if p.Framework != FrameworkNextJS || p.Port != 3000 {
		t.Fatalf("empty set must resolve to the default profile, got %+v", p)
	}
}

func TestResolveMalformedManifest(t *testing.T) {
	p := Resolve(manifestSet("{not json"))
	if p.Framework != FrameworkNextJS {
		t.Fatalf("malformed manifest must fall back to default, got %s", p.Framework)
	}
}

func TestResolveViteOnlySignal(t *testing.T) {
	p := Resolve(manifestSet(`{"devDependencies":{"vite":"^5.0.0"},"dependencies":{"react":"^18.0.0"}}`))
	if p.Framework != FrameworkVite {
		t.Fatalf("vite signal without next signal must pick vite, got %s", p.Framework)
	}
	if p.Port != 5173 {
		t.Fatalf("vite profile must carry its own port, got %d", p.Port)
	}
}

func TestResolveNextWinsOverVite(t *testing.T) {
	p := Resolve(manifestSet(`{"dependencies":{"next":"14.0.0","vite":"^5.0.0"}}`))
	if p.Framework != FrameworkNextJS {
		t.Fatalf("next signal must win regardless of other signals, got %s", p.Framework)
	}
}

func TestResolveDevScriptSignal(t *testing.T) {
	p := Resolve(manifestSet(`{"scripts":{"dev":"vite --open"}}`))
	if p.Framework != FrameworkVite {
		t.Fatalf("dev script substring must count as a signal, got %s", p.Framework)
	}
}

func TestResolveInconclusiveSignals(t *testing.T) {
	p := Resolve(manifestSet(`{"dependencies":{"react":"^18.0.0"}}`))
	if p.Framework != FrameworkNextJS {
		t.Fatalf("inconclusive signals must pick the default framework, got %s", p.Framework)
	}
}

func TestProfileCommandsBindAllInterfaces(t *testing.T) {
	for _, f := range []Framework{FrameworkNextJS, FrameworkVite} {
		p := ProfileFor(f)
		if !p.HostBind {
			t.Fatalf("%s profile must set the host-bind flag", f)
		}
	}
}
