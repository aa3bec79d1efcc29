package sanitize

import (
	"regexp"
	"strings"

	"github.com/appweaver/api/internal/bundle"
)

// reactHooks is the fixed set of framework hooks the pipeline knows how
// to complete imports for, in injection order.
var reactHooks = []string{
	"useState",
	"useEffect",
	"useMemo",
	"useCallback",
	"useRef",
	"useReducer",
	"useContext",
	"useLayoutEffect",
}

// hookCallPatterns matches direct invocations only: `useState(` counts,
// `React.useState(` does not.
var hookCallPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(reactHooks))
	for _, hook := range reactHooks {
		patterns[hook] = regexp.MustCompile(`(^|[^.\w])` + hook + `\s*\(`)
	}
	return patterns
}()

var reactImportPattern = regexp.MustCompile(`(?m)^import\s+(.+?)\s+from\s+['"]react['"];?[ \t]*$`)

// completeHookImports ensures every .jsx/.tsx file that calls a framework
// hook also imports it from the framework. Existing import clauses are
// extended; files with no framework import get one prepended.
func completeHookImports(b bundle.Bundle, _ Options, _ *Report) bundle.Bundle {
	for _, f := range b.Files {
		if !isReactComponentPath(f.Path) {
			continue
		}

		missing := missingHookImports(f.Content)
		if len(missing) == 0 {
			continue
		}

		b = b.WithFile(bundle.FileUnit{
			Path:    f.Path,
			Content: injectHookImports(f.Content, missing),
		})
	}
	return b
}

func isReactComponentPath(path string) bool {
	return strings.HasSuffix(path, ".jsx") || strings.HasSuffix(path, ".tsx")
}

// missingHookImports returns the hooks used in content but absent from its
// framework import clause, in fixed hook order.
func missingHookImports(content string) []string {
	imported := importedReactNames(content)

	var missing []string
	for _, hook := range reactHooks {
		if imported[hook] {
			continue
		}
		if hookCallPatterns[hook].MatchString(content) {
			missing = append(missing, hook)
		}
	}
	return missing
}

func importedReactNames(content string) map[string]bool {
	names := make(map[string]bool)
	m := reactImportPattern.FindStringSubmatch(content)
	if m == nil {
		return names
	}
	clause := m[1]
	open := strings.Index(clause, "{")
	close := strings.LastIndex(clause, "}")
	if open < 0 || close < open {
		return names
	}
	for _, name := range strings.Split(clause[open+1:close], ",") {
		name = strings.TrimSpace(name)
		// "useState as useLocal" imports the alias, not the hook name,
		// but the original name still satisfies the framework binding.
		if i := strings.Index(name, " as "); i > 0 {
			name = strings.TrimSpace(name[:i])
		}
		if name != "" {
			names[name] = true
		}
	}
	return names
}

// injectHookImports extends the file's framework import with the given
// hooks, or prepends a new import when none exists.
func injectHookImports(content string, hooks []string) string {
	loc := reactImportPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return "import { " + strings.Join(hooks, ", ") + " } from 'react';\n" + content
	}

	clause := content[loc[2]:loc[3]]

	// A namespace import cannot be extended with named bindings; add a
	// separate import line instead.
	if strings.Contains(clause, "*") {
		return "import { " + strings.Join(hooks, ", ") + " } from 'react';\n" + content
	}

	var newClause string
	if open := strings.Index(clause, "{"); open >= 0 {
		close := strings.LastIndex(clause, "}")
		existing := splitImportNames(clause[open+1 : close])
		newClause = strings.TrimSpace(clause[:open]) // "React," or ""
		if newClause != "" {
			newClause += " "
		}
		newClause += "{ " + strings.Join(append(existing, hooks...), ", ") + " }"
	} else {
		newClause = strings.TrimSpace(clause) + ", { " + strings.Join(hooks, ", ") + " }"
	}

	newLine := "import " + newClause + " from 'react';"
	return content[:loc[0]] + newLine + content[loc[1]:]
}

func splitImportNames(inner string) []string {
	var names []string
	for _, name := range strings.Split(inner, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
