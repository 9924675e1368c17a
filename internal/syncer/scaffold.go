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

// DiagnosticsBridgeMarker identifies an already-injected diagnostics bridge.
const DiagnosticsBridgeMarker = "__previewd_diagnostics__"

// diagnosticsBridge forwards uncaught errors from the preview to its embedder.
const diagnosticsBridge = `<script id="` + DiagnosticsBridgeMarker + `">window.addEventListener("error",function(e){try{window.parent.postMessage({type:"previewd:error",message:String(e.message)},"*")}catch(_){}});window.addEventListener("unhandledrejection",function(e){try{window.parent.postMessage({type:"previewd:rejection",message:String(e.reason)},"*")}catch(_){}});</script>`

const nextLayoutPath = "app/layout.tsx"

var nextScaffold = map[string]string{
	"package.json": `{
  "name": "preview-app",
  "private": true,
  "scripts": { "dev": "next dev" },
  "dependencies": { "next": "14.2.3", "react": "18.3.1", "react-dom": "18.3.1" }
}`,
	"tsconfig.json": `{
  "compilerOptions": {
    "target": "ES2017",
    "lib": ["dom", "dom.iterable", "esnext"],
    "allowJs": true,
    "skipLibCheck": true,
    "strict": false,
    "noEmit": true,
    "esModuleInterop": true,
    "module": "esnext",
    "moduleResolution": "bundler",
    "resolveJsonModule": true,
    "isolatedModules": true,
    "jsx": "preserve",
    "incremental": true,
    "plugins": [{ "name": "next" }]
  },
  "include": ["next-env.d.ts", "**/*.ts", "**/*.tsx"],
  "exclude": ["node_modules"]
}`,
	"next-env.d.ts": `/// <reference types="next" />
/// <reference types="next/image-types/global" />
`,
	nextLayoutPath: `import "./globals.css";

export default function RootLayout({ children }: { children: React.ReactNode }) {
  return (
    <html lang="en">
      <body>{children}</body>
    </html>
  );
}
`,
	"app/page.tsx": `export default function Page() {
  return <main><h1>Preview starting…</h1></main>;
}
`,
	"app/globals.css": `@tailwind base;
@tailwind components;
@tailwind utilities;
`,
	"tailwind.config.js": `module.exports = {
  content: ["./app/**/*.{js,ts,jsx,tsx}", "./components/**/*.{js,ts,jsx,tsx}"],
  theme: { extend: {} },
  plugins: [],
};
`,
	"postcss.config.js": `module.exports = {
  plugins: { tailwindcss: {}, autoprefixer: {} },
};
`,
}

var viteScaffold = map[string]string{
	"index.html": `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Preview</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.tsx"></script>
  </body>
</html>
`,
	"src/main.tsx": `import React from "react";
import ReactDOM from "react-dom/client";
import App from "./App";
import "./index.css";

ReactDOM.createRoot(document.getElementById("root")!).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>
);
`,
	"src/App.tsx": `export default function App() {
  return <main><h1>Preview starting…</h1></main>;
}
`,
	"src/index.css": `@tailwind base;
@tailwind components;
@tailwind utilities;
`,
	"vite.config.ts": `import { defineConfig } from "vite";
import react from "@vitejs/plugin-react";

export default defineConfig({
  plugins: [react()],
  server: { host: true, port: 5173 },
});
`,
	"tailwind.config.js": `module.exports = {
  content: ["./index.html", "./src/**/*.{js,ts,jsx,tsx}"],
  theme: { extend: {} },
  plugins: [],
};
`,
	"postcss.config.js": `module.exports = {
  plugins: { tailwindcss: {}, autoprefixer: {} },
};
`,
}

// ensureScaffold writes every scaffold file the user did not author, and
// injects the diagnostics bridge into the Next.js root layout.
func (e *Engine) ensureScaffold(ctx context.Context, h *sandbox.Handle, entries []fileset.Entry, profile runtime.Profile) error {
	scaffold := nextScaffold
	if profile.Framework == runtime.FrameworkVite {
		scaffold = viteScaffold
	}

	paths := make([]string, 0, len(scaffold))
	scaffoldEntries := make([]fileset.Entry, 0, len(scaffold))
	for p := range scaffold {
		paths = append(paths, p)
		scaffoldEntries = append(scaffoldEntries, fileset.Entry{Path: p})
	}
	sort.Strings(paths)

	// Scaffold files may live in directories the user set never implied.
	implied := map[string]bool{}
	for _, d := range directoryPrefixes(entries) {
		implied[d] = true
	}
	for _, dir := range directoryPrefixes(scaffoldEntries) {
		if implied[dir] {
			continue
		}
		if err := e.api.MakeDir(ctx, h, dir); err != nil {
			return errors.SyncError(err).WithContext("dir", dir)
		}
	}

	for _, path := range paths {
		if _, authored := fileset.Find(entries, path); authored {
			continue
		}
		content := scaffold[path]
		if err := e.api.WriteFile(ctx, h, path, content); err != nil {
			return errors.SyncError(err).WithContext("scaffold", path)
		}
	}

	if profile.Framework == runtime.FrameworkNextJS {
		return e.injectDiagnosticsBridge(ctx, h, entries)
	}
	return nil
}

// injectDiagnosticsBridge rewrites the root layout with the bridge snippet
// immediately before its closing body marker. Idempotent: a present marker or
// a missing anchor leaves the layout untouched.
func (e *Engine) injectDiagnosticsBridge(ctx context.Context, h *sandbox.Handle, entries []fileset.Entry) error {
	layout := nextScaffold[nextLayoutPath]
	if entry, authored := fileset.Find(entries, nextLayoutPath); authored {
		layout = entry.Content
	}

	injected, changed := InjectBridge(layout)
	if !changed {
		return nil
	}
	if err := e.api.WriteFile(ctx, h, nextLayoutPath, injected); err != nil {
		return errors.SyncError(err).WithContext("scaffold", nextLayoutPath)
	}
	return nil
}

// InjectBridge inserts the diagnostics bridge before the closing body tag.
// Returns the (possibly unchanged) content and whether an insertion happened.
func InjectBridge(layout string) (string, bool) {
	if strings.Contains(layout, DiagnosticsBridgeMarker) {
		return layout, false
	}
	idx := strings.LastIndex(layout, "</body>")
	if idx < 0 {
		return layout, false
	}
	return layout[:idx] + diagnosticsBridge + layout[idx:], true
}
