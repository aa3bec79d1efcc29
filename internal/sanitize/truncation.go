package sanitize

import (
	"strings"

	"github.com/appweaver/api/internal/bundle"
)

// braceTolerance absorbs the occasional unmatched brace inside string
// literals, which the counter cannot see.
const braceTolerance = 1

// minComponentLength is the shortest plausible React component file.
const minComponentLength = 30

// detectTruncation flags files that end mid-token. A flagged bundle is
// never auto-repaired: truncated model output means the generation itself
// must be rerun, so the result is surfaced as a regenerate instruction.
func detectTruncation(b bundle.Bundle, _ Options, report *Report) bundle.Bundle {
	for _, f := range b.Files {
		if looksTruncated(f) {
			report.TruncatedPaths = append(report.TruncatedPaths, f.Path)
		}
	}
	return b
}

func looksTruncated(f bundle.FileUnit) bool {
	if !isCodePath(f.Path) {
		return false
	}

	content := f.Content
	// A component that opened a block but fits in a couple dozen bytes
	// cannot be complete.
	if isReactComponentPath(f.Path) && len(strings.TrimSpace(content)) < minComponentLength &&
		strings.ContainsAny(content, "{(") {
		return true
	}

	for _, pair := range [][2]rune{{'{', '}'}, {'(', ')'}, {'[', ']'}} {
		if strings.Count(content, string(pair[0]))-strings.Count(content, string(pair[1])) > braceTolerance {
			return true
		}
	}

	return endsMidStatement(lastNonBlankLine(content))
}

func isCodePath(path string) bool {
	for _, ext := range []string{".js", ".jsx", ".ts", ".tsx", ".css", ".json"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func lastNonBlankLine(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// midStatementSuffixes end lines that cannot legally close a file.
var midStatementSuffixes = []string{
	",", "(", "[", "{", "=>", "&&", "||", "=", ":", "+", ".",
}

func endsMidStatement(line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "*") {
		return false
	}
	for _, suffix := range midStatementSuffixes {
		if strings.HasSuffix(line, suffix) {
			return true
		}
	}
	return false
}
