package sanitize

import (
	"strings"

	"github.com/appweaver/api/internal/bundle"
)

var entryCandidates = []string{
	"src/main.jsx", "src/main.tsx", "src/main.js",
	"main.jsx", "main.tsx", "main.js",
}

var appCandidates = []string{
	"src/App.jsx", "src/App.tsx", "src/App.js",
	"App.jsx", "App.tsx", "App.js",
}

// RepairEntry runs only the entry-file repair stage. The stream relay uses
// it to patch an empty entry file inside a terminal payload before
// forwarding, so the client receives already-correct code without waiting
// for the apply stage.
func RepairEntry(b bundle.Bundle) bundle.Bundle {
	return repairEntryFile(b, Options{}, &Report{})
}

// repairEntryFile replaces a missing or blank entry file with a bootstrap
// that mounts the App component, when an App file is present. Models
// regularly emit an empty main.* block after a complete App component.
func repairEntryFile(b bundle.Bundle, _ Options, _ *Report) bundle.Bundle {
	appPath, ok := findFirst(b, appCandidates)
	if !ok {
		return b
	}

	entryPath, found := findFirst(b, entryCandidates)
	if found {
		if unit, _ := b.Lookup(entryPath); !unit.IsEmpty() {
			return b
		}
	} else {
		entryPath = deriveEntryPath(appPath)
	}

	return b.WithFile(bundle.FileUnit{
		Path:    entryPath,
		Content: entryBootstrap(appPath),
	})
}

func findFirst(b bundle.Bundle, candidates []string) (string, bool) {
	for _, path := range candidates {
		if _, ok := b.Lookup(path); ok {
			return path, true
		}
	}
	return "", false
}

func deriveEntryPath(appPath string) string {
	dir := ""
	if i := strings.LastIndex(appPath, "/"); i >= 0 {
		dir = appPath[:i+1]
	}
	ext := ".jsx"
	if strings.HasSuffix(appPath, ".tsx") {
		ext = ".tsx"
	}
	return dir + "main" + ext
}

// entryBootstrap is the fixed bootstrap mounting App into the root node.
func entryBootstrap(appPath string) string {
	appImport := "./App.jsx"
	if strings.HasSuffix(appPath, ".tsx") {
		appImport = "./App"
	} else if strings.HasSuffix(appPath, ".js") {
		appImport = "./App.js"
	}

	return "import React from 'react'\n" +
		"import ReactDOM from 'react-dom/client'\n" +
		"import App from '" + appImport + "'\n" +
		"import './index.css'\n" +
		"\n" +
		"ReactDOM.createRoot(document.getElementById('root')).render(\n" +
		"  <React.StrictMode>\n" +
		"    <App />\n" +
		"  </React.StrictMode>,\n" +
		")\n"
}

// dropEmptyFiles removes whitespace-only files from the bundle. The entry
// file is exempt: it is owned by the entry-repair stage.
func dropEmptyFiles(b bundle.Bundle, _ Options, _ *Report) bundle.Bundle {
	kept := make([]bundle.FileUnit, 0, len(b.Files))
	for _, f := range b.Files {
		if f.IsEmpty() && !isEntryPath(f.Path) {
			continue
		}
		kept = append(kept, f)
	}
	return bundle.Bundle{Files: kept}
}

func isEntryPath(path string) bool {
	for _, candidate := range entryCandidates {
		if path == candidate {
			return true
		}
	}
	return false
}
