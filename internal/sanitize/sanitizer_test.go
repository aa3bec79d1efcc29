package sanitize

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/appweaver/api/internal/bundle"
)

func sanitizeBundle(t *testing.T, b bundle.Bundle, opts Options) (bundle.Bundle, Report) {
	t.Helper()
	return New(nil).Sanitize(b, opts)
}

func TestHookImportCompletion(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{{
		Path: "src/Counter.jsx",
		Content: "function Counter() {\n" +
			"  const [count, setCount] = useState(0)\n" +
			"  useEffect(() => {}, [])\n" +
			"  return <button onClick={() => setCount(count + 1)}>{count}</button>\n" +
			"}\n\nexport default Counter\n",
	}}}

	out, _ := sanitizeBundle(t, input, Options{})

	f, ok := out.Lookup("src/Counter.jsx")
	if !ok {
		t.Fatal("file missing after sanitization")
	}
	firstLine := strings.SplitN(f.Content, "\n", 2)[0]
	if firstLine != "import { useState, useEffect } from 'react';" {
		t.Errorf("unexpected injected import: %q", firstLine)
	}

	// Re-running the stage must be a no-op.
	again, _ := sanitizeBundle(t, out, Options{})
	if got, _ := again.Lookup("src/Counter.jsx"); got.Content != f.Content {
		t.Error("hook import completion is not idempotent")
	}
}

func TestHookImportExtendsExistingClause(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{{
		Path:    "src/App.jsx",
		Content: "import React, { useState } from 'react';\n\nexport default function App() {\n  const [a] = useState(0)\n  const ref = useRef(null)\n  return <div ref={ref}>{a}</div>\n}\n",
	}}}

	out, _ := sanitizeBundle(t, input, Options{})

	f, _ := out.Lookup("src/App.jsx")
	if !strings.Contains(f.Content, "import React, { useState, useRef } from 'react';") {
		t.Errorf("import clause not extended:\n%s", f.Content)
	}
	if strings.Count(f.Content, "from 'react'") != 1 {
		t.Errorf("expected exactly one framework import:\n%s", f.Content)
	}
}

func TestHookImportIgnoresQualifiedCalls(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{{
		Path:    "src/App.jsx",
		Content: "import React from 'react';\n\nexport default function App() {\n  const [a] = React.useState(0)\n  return <div>{a}</div>\n}\n",
	}}}

	out, _ := sanitizeBundle(t, input, Options{})

	f, _ := out.Lookup("src/App.jsx")
	if strings.Contains(f.Content, "{ useState }") {
		t.Errorf("qualified call should not trigger injection:\n%s", f.Content)
	}
}

func TestEntryFileRepair(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{
		{Path: "src/App.jsx", Content: "export default function App() { return <h1>hi</h1> }\n"},
		{Path: "src/main.jsx", Content: "   \n"},
	}}

	out, _ := sanitizeBundle(t, input, Options{})

	entry, ok := out.Lookup("src/main.jsx")
	if !ok {
		t.Fatal("entry file missing")
	}
	if entry.IsEmpty() {
		t.Fatal("entry file still empty")
	}
	if !strings.Contains(entry.Content, "import App from './App.jsx'") {
		t.Errorf("bootstrap does not import App:\n%s", entry.Content)
	}
	if !strings.Contains(entry.Content, "createRoot(document.getElementById('root'))") {
		t.Errorf("bootstrap does not mount into root node:\n%s", entry.Content)
	}
}

func TestEntryFileInsertedWhenMissing(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{
		{Path: "src/App.tsx", Content: "export default function App() { return <h1>hi</h1> }\n"},
	}}

	out, _ := sanitizeBundle(t, input, Options{})

	entry, ok := out.Lookup("src/main.tsx")
	if !ok {
		t.Fatalf("expected src/main.tsx to be synthesized, have %v", out.Paths())
	}
	if !strings.Contains(entry.Content, "import App from './App'") {
		t.Errorf("tsx bootstrap should import without extension:\n%s", entry.Content)
	}
}

func TestEmptyFilesDropped(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{
		{Path: "src/App.jsx", Content: "export default function App() { return null }\n"},
		{Path: "src/utils/helpers.js", Content: "\n  \n"},
	}}

	out, _ := sanitizeBundle(t, input, Options{})

	if _, ok := out.Lookup("src/utils/helpers.js"); ok {
		t.Error("empty non-entry file should be dropped")
	}
}

func TestProtectedConfigDropped(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{
		{Path: "src/App.jsx", Content: "export default function App() { return null }\n"},
		{Path: "vite.config.js", Content: "export default {}\n"},
	}}

	out, report := sanitizeBundle(t, input, Options{})

	if _, ok := out.Lookup("vite.config.js"); ok {
		t.Error("vite.config.js should never be overwritten by the AI")
	}
	if !reflect.DeepEqual(report.RemovedPaths, []string{"vite.config.js"}) {
		t.Errorf("removed paths = %v", report.RemovedPaths)
	}
}

func TestManifestMerge(t *testing.T) {
	existing := `{"name":"sandbox","dependencies":{"react":"^18.2.0","axios":"^1.4.0"}}`
	aiManifest := `{"name":"generated","dependencies":{"react":"^19.0.0","framer-motion":"^11.0.0"}}`

	input := bundle.Bundle{Files: []bundle.FileUnit{
		{Path: "src/App.jsx", Content: "export default function App() { return null }\n"},
		{Path: "package.json", Content: aiManifest},
	}}

	out, report := sanitizeBundle(t, input, Options{ExistingManifest: existing})

	f, ok := out.Lookup("package.json")
	if !ok {
		t.Fatal("manifest missing after merge")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(f.Content), &doc); err != nil {
		t.Fatalf("merged manifest is not valid JSON: %v", err)
	}
	deps := doc["dependencies"].(map[string]interface{})
	if deps["react"] != "^18.2.0" {
		t.Errorf("existing pin must win: react = %v", deps["react"])
	}
	if deps["axios"] != "^1.4.0" {
		t.Errorf("existing dependency lost: axios = %v", deps["axios"])
	}
	if deps["framer-motion"] != "^11.0.0" {
		t.Errorf("net-new AI dependency lost: framer-motion = %v", deps["framer-motion"])
	}
	if doc["name"] != "sandbox" {
		t.Errorf("existing manifest fields must win: name = %v", doc["name"])
	}
	if !reflect.DeepEqual(report.MergedPaths, []string{"package.json"}) {
		t.Errorf("merged paths = %v", report.MergedPaths)
	}
}

func TestMalformedManifestRepairedThenMerged(t *testing.T) {
	// Trailing comma: invalid JSON, but repairable.
	aiManifest := "{\"dependencies\":{\"framer-motion\":\"^11.0.0\",}}"

	input := bundle.Bundle{Files: []bundle.FileUnit{
		{Path: "package.json", Content: aiManifest},
	}}

	out, report := sanitizeBundle(t, input, Options{})

	f, ok := out.Lookup("package.json")
	if !ok {
		t.Fatalf("repairable manifest should be kept, removed=%v", report.RemovedPaths)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(f.Content), &doc); err != nil {
		t.Fatalf("manifest still malformed after repair: %v", err)
	}
}

func TestTruncationRefusal(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unbalanced braces", "export default function App() {\n  const handle = () => {\n    if (true) {\n      console.log('x')\n"},
		{"ends mid statement", "const items = [\n  { id: 1, name: 'first' },\n  { id: 2, name:"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := bundle.Bundle{Files: []bundle.FileUnit{{Path: "src/App.jsx", Content: tc.content}}}
			_, report := sanitizeBundle(t, input, Options{})
			if !report.Truncated() {
				t.Errorf("expected truncation flag for %q", tc.name)
			}
		})
	}
}

func TestCompleteFileNotFlaggedTruncated(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{{
		Path:    "src/App.jsx",
		Content: "function App() {\n  return <h1>hello</h1>\n}\n\nexport default App",
	}}}

	_, report := sanitizeBundle(t, input, Options{})

	if report.Truncated() {
		t.Errorf("complete file flagged as truncated: %v", report.TruncatedPaths)
	}
}

func TestColorAliasNormalization(t *testing.T) {
	input := bundle.Bundle{Files: []bundle.FileUnit{{
		Path:    "src/App.jsx",
		Content: "export default function App() {\n  return <div className=\"bg-lightBlue-500 text-warmGray-200\">x</div>\n}\n",
	}}}

	out, _ := sanitizeBundle(t, input, Options{})

	f, _ := out.Lookup("src/App.jsx")
	if !strings.Contains(f.Content, "bg-sky-500") || !strings.Contains(f.Content, "text-stone-200") {
		t.Errorf("aliases not normalized:\n%s", f.Content)
	}
	if strings.Contains(f.Content, "lightBlue") {
		t.Error("legacy token survived normalization")
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	input := bundle.Parse(`blah <file path="src/App.jsx">import React from 'react';

export default function App() {
  const [n] = useState(0)
  return <div className="bg-coolGray-100">{n}</div>
}
</file> <file path="src/main.jsx"></file>`)

	once, report := sanitizeBundle(t, input, Options{})
	if report.Truncated() {
		t.Fatalf("fixture unexpectedly truncated: %v", report.TruncatedPaths)
	}
	twice, _ := sanitizeBundle(t, once, Options{})

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestProseScenario(t *testing.T) {
	input := "blah <file path=\"src/App.jsx\">code</file> <file path=\"src/main.jsx\"></file>"

	parsed := bundle.Parse(input)
	out, report := sanitizeBundle(t, parsed, Options{})

	if out.Len() != 2 {
		t.Fatalf("expected 2 files, got %d (%v)", out.Len(), out.Paths())
	}
	entry, _ := out.Lookup("src/main.jsx")
	if entry.IsEmpty() {
		t.Error("src/main.jsx should be repaired to non-empty")
	}
	if report.Truncated() {
		t.Errorf("scenario bundle must be applyable, truncated=%v", report.TruncatedPaths)
	}
}
