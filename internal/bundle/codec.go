package bundle

import (
	"regexp"
	"strings"
)

// FileUnit is a single file extracted from an AI file-bundle response.
type FileUnit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// IsEmpty reports whether the file has no content beyond whitespace.
func (f FileUnit) IsEmpty() bool {
	return strings.TrimSpace(f.Content) == ""
}

// Bundle is an ordered collection of file units. Insertion order is
// preserved because entry files are expected first for interactive UX,
// but correctness never depends on it.
type Bundle struct {
	Files []FileUnit
}

// fileBlockPattern matches one <file path="...">...</file> segment.
// Case-insensitive and non-greedy so that prose around blocks and
// multiple blocks in one response are handled; an unterminated tag
// simply produces no match.
var fileBlockPattern = regexp.MustCompile(`(?is)<file\s+path="([^"]*)"\s*>(.*?)</file>`)

// Parse extracts every well-formed file block from text. Content outside
// file blocks is prose or model thinking and is discarded. Parse never
// fails: malformed input degrades to fewer extracted files. Callers must
// treat zero files from non-empty input as a hard error.
func Parse(text string) Bundle {
	matches := fileBlockPattern.FindAllStringSubmatch(text, -1)

	var files []FileUnit
	index := make(map[string]int)

	for _, m := range matches {
		path := NormalizePath(m[1])
		if path == "" {
			continue
		}
		unit := FileUnit{Path: path, Content: trimBlockContent(m[2])}

		// A path appearing twice keeps the later occurrence.
		if i, seen := index[path]; seen {
			files[i] = unit
			continue
		}
		index[path] = len(files)
		files = append(files, unit)
	}

	return Bundle{Files: files}
}

// Serialize re-emits the bundle in the upstream file-block text format,
// suitable for resubmission to the apply endpoint.
func (b Bundle) Serialize() string {
	blocks := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		blocks = append(blocks, `<file path="`+f.Path+"\">\n"+f.Content+"\n</file>")
	}
	return strings.Join(blocks, "\n\n")
}

// Len returns the number of files in the bundle.
func (b Bundle) Len() int {
	return len(b.Files)
}

// Lookup returns the file at path, if present.
func (b Bundle) Lookup(path string) (FileUnit, bool) {
	path = NormalizePath(path)
	for _, f := range b.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileUnit{}, false
}

// WithFile returns a copy of the bundle with f replacing an existing unit
// at the same path, or appended if the path is new. The receiver is not
// mutated; sanitizer stages rely on this.
func (b Bundle) WithFile(f FileUnit) Bundle {
	f.Path = NormalizePath(f.Path)
	out := make([]FileUnit, len(b.Files))
	copy(out, b.Files)
	for i := range out {
		if out[i].Path == f.Path {
			out[i] = f
			return Bundle{Files: out}
		}
	}
	return Bundle{Files: append(out, f)}
}

// Paths returns the bundle's paths in order.
func (b Bundle) Paths() []string {
	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// NormalizePath converts a path to forward slashes with no leading slash
// or ./ prefix.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for {
		switch {
		case strings.HasPrefix(p, "/"):
			p = strings.TrimPrefix(p, "/")
		case strings.HasPrefix(p, "./"):
			p = strings.TrimPrefix(p, "./")
		default:
			return p
		}
	}
}

// trimBlockContent removes the single newline that Serialize inserts after
// the opening tag and before the closing tag, so parse/serialize round-trip.
func trimBlockContent(s string) string {
	if strings.HasPrefix(s, "\r\n") {
		s = s[2:]
	} else if strings.HasPrefix(s, "\n") {
		s = s[1:]
	}
	if strings.HasSuffix(s, "\r\n") {
		s = s[:len(s)-2]
	} else if strings.HasSuffix(s, "\n") {
		s = s[:len(s)-1]
	}
	return s
}
