package sanitize

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/appweaver/api/internal/bundle"
)

const manifestPath = "package.json"

// protectedConfigPaths are high-risk files the AI is never allowed to
// rewrite wholesale. Overwriting the build config or a lockfile bricks
// the sandbox far more often than it helps.
var protectedConfigPaths = map[string]bool{
	"vite.config.js":    true,
	"vite.config.ts":    true,
	"vite.config.mjs":   true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	".gitignore":        true,
	".env":              true,
}

// protectConfigs drops protected config files the AI attempted to rewrite
// and merges an AI-declared dependency manifest with the sandbox's
// existing one. Removed and merged paths are reported for audit display.
func protectConfigs(b bundle.Bundle, opts Options, report *Report) bundle.Bundle {
	kept := make([]bundle.FileUnit, 0, len(b.Files))

	for _, f := range b.Files {
		if protectedConfigPaths[f.Path] {
			report.RemovedPaths = append(report.RemovedPaths, f.Path)
			continue
		}

		if f.Path == manifestPath {
			merged, ok := mergeManifest(f.Content, opts.ExistingManifest)
			if !ok {
				// Unparseable manifest: dropping it is safer than letting
				// the upstream package installer choke on it.
				report.RemovedPaths = append(report.RemovedPaths, f.Path)
				continue
			}
			if merged != f.Content {
				report.MergedPaths = append(report.MergedPaths, f.Path)
			}
			kept = append(kept, bundle.FileUnit{Path: f.Path, Content: merged})
			continue
		}

		kept = append(kept, f)
	}

	return bundle.Bundle{Files: kept}
}

// mergeManifest unions the existing manifest with the AI-declared one.
// Existing fields and pinned versions win; the AI only contributes
// net-new packages. Model-emitted JSON is repaired before parsing.
func mergeManifest(aiManifest, existingManifest string) (string, bool) {
	aiDoc, ok := parseManifest(aiManifest)
	if !ok {
		return "", false
	}

	if strings.TrimSpace(existingManifest) == "" {
		return renderManifest(aiDoc), true
	}

	existingDoc, ok := parseManifest(existingManifest)
	if !ok {
		return renderManifest(aiDoc), true
	}

	for _, section := range []string{"dependencies", "devDependencies"} {
		aiDeps, _ := aiDoc[section].(map[string]interface{})
		if len(aiDeps) == 0 {
			continue
		}
		existingDeps, _ := existingDoc[section].(map[string]interface{})
		if existingDeps == nil {
			existingDeps = make(map[string]interface{})
		}
		for name, version := range aiDeps {
			if _, pinned := existingDeps[name]; !pinned {
				existingDeps[name] = version
			}
		}
		existingDoc[section] = existingDeps
	}

	return renderManifest(existingDoc), true
}

func parseManifest(content string) (map[string]interface{}, bool) {
	if repaired, err := jsonrepair.JSONRepair(content); err == nil {
		content = repaired
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func renderManifest(doc map[string]interface{}) string {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out) + "\n"
}
