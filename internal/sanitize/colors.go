package sanitize

import (
	"strings"

	"github.com/appweaver/api/internal/bundle"
)

// colorAliases maps legacy Tailwind color-scale names (which models keep
// emitting) to the current standard tokens. Purely cosmetic literal
// substitution; never changes structure.
var colorAliases = []struct{ legacy, standard string }{
	{"lightBlue", "sky"},
	{"warmGray", "stone"},
	{"trueGray", "neutral"},
	{"coolGray", "gray"},
	{"blueGray", "slate"},
}

func normalizeColorAliases(b bundle.Bundle, _ Options, _ *Report) bundle.Bundle {
	for _, f := range b.Files {
		replaced := f.Content
		for _, alias := range colorAliases {
			replaced = strings.ReplaceAll(replaced, alias.legacy, alias.standard)
		}
		if replaced != f.Content {
			b = b.WithFile(bundle.FileUnit{Path: f.Path, Content: replaced})
		}
	}
	return b
}
