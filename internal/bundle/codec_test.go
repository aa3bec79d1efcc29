package bundle

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseDiscardsProse(t *testing.T) {
	input := `blah <file path="src/App.jsx">code</file> <file path="src/main.jsx"></file>`

	b := Parse(input)

	if b.Len() != 2 {
		t.Fatalf("expected 2 files, got %d", b.Len())
	}
	if b.Files[0].Path != "src/App.jsx" || b.Files[0].Content != "code" {
		t.Errorf("unexpected first file: %+v", b.Files[0])
	}
	if b.Files[1].Path != "src/main.jsx" {
		t.Errorf("unexpected second file: %+v", b.Files[1])
	}
	if !b.Files[1].IsEmpty() {
		t.Error("second file should be empty")
	}
}

func TestParseCaseInsensitiveTags(t *testing.T) {
	b := Parse(`<FILE path="a.js">x</FILE>`)
	if b.Len() != 1 {
		t.Fatalf("expected 1 file, got %d", b.Len())
	}
	if b.Files[0].Content != "x" {
		t.Errorf("expected content %q, got %q", "x", b.Files[0].Content)
	}
}

func TestParseIgnoresUnterminatedBlock(t *testing.T) {
	input := `<file path="a.js">complete</file><file path="b.js">never closed`

	b := Parse(input)

	if b.Len() != 1 {
		t.Fatalf("expected malformed block to be dropped, got %d files", b.Len())
	}
	if b.Files[0].Path != "a.js" {
		t.Errorf("expected a.js, got %s", b.Files[0].Path)
	}
}

func TestParseZeroFilesFromProse(t *testing.T) {
	b := Parse("I could not generate any code for this request.")
	if b.Len() != 0 {
		t.Fatalf("expected 0 files, got %d", b.Len())
	}
}

func TestParseDuplicatePathKeepsLater(t *testing.T) {
	input := `<file path="src/App.jsx">old</file><file path="src/App.jsx">new</file>`

	b := Parse(input)

	if b.Len() != 1 {
		t.Fatalf("expected 1 file after dedup, got %d", b.Len())
	}
	if b.Files[0].Content != "new" {
		t.Errorf("expected later occurrence to win, got %q", b.Files[0].Content)
	}
}

func TestParseNormalizesPaths(t *testing.T) {
	cases := map[string]string{
		"/src/App.jsx":  "src/App.jsx",
		"./src/App.jsx": "src/App.jsx",
		`src\App.jsx`:   "src/App.jsx",
		" src/App.jsx ": "src/App.jsx",
		"././src/a.js":  "src/a.js",
	}
	for raw, want := range cases {
		if got := NormalizePath(raw); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	original := Bundle{Files: []FileUnit{
		{Path: "src/App.jsx", Content: "function App() {\n  return null\n}\n\nexport default App"},
		{Path: "src/index.css", Content: "body { margin: 0; }"},
		{Path: "package.json", Content: "{\n  \"name\": \"demo\"\n}\n"},
	}}

	got := Parse(original.Serialize())

	if !reflect.DeepEqual(got, original) {
		t.Errorf("round-trip mismatch:\n got: %+v\nwant: %+v", got, original)
	}
}

func TestRoundTripEmptyContent(t *testing.T) {
	original := Bundle{Files: []FileUnit{{Path: "src/main.jsx", Content: ""}}}
	got := Parse(original.Serialize())
	if !reflect.DeepEqual(got, original) {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestWithFileDoesNotMutateReceiver(t *testing.T) {
	b := Bundle{Files: []FileUnit{{Path: "a.js", Content: "1"}}}

	b2 := b.WithFile(FileUnit{Path: "a.js", Content: "2"})

	if b.Files[0].Content != "1" {
		t.Error("receiver was mutated")
	}
	if got, _ := b2.Lookup("a.js"); got.Content != "2" {
		t.Errorf("expected replacement, got %q", got.Content)
	}

	b3 := b.WithFile(FileUnit{Path: "b.js", Content: "3"})
	if b3.Len() != 2 {
		t.Errorf("expected append for new path, got %d files", b3.Len())
	}
}

func TestSerializeFormat(t *testing.T) {
	b := Bundle{Files: []FileUnit{{Path: "a.js", Content: "x"}}}
	want := "<file path=\"a.js\">\nx\n</file>"
	if got := b.Serialize(); got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
	if !strings.Contains(Bundle{Files: []FileUnit{{Path: "a.js", Content: "x"}, {Path: "b.js", Content: "y"}}}.Serialize(), "</file>\n\n<file") {
		t.Error("expected blank line between blocks")
	}
}
