// Package sanitize runs a fixed, order-dependent pipeline of structural
// repairs over a parsed file bundle before it is applied to a sandbox.
package sanitize

import (
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/bundle"
)

// Options carries per-call context for the pipeline.
type Options struct {
	// ExistingManifest is the sandbox's current package.json content.
	// Empty means unknown; the AI-declared manifest is then kept as-is.
	ExistingManifest string
}

// Report lists what the pipeline changed or refused.
type Report struct {
	RemovedPaths   []string `json:"removedPaths,omitempty"`
	MergedPaths    []string `json:"mergedPaths,omitempty"`
	TruncatedPaths []string `json:"truncatedPaths,omitempty"`
}

// Truncated reports whether any file looked cut off. A truncated bundle
// must not be applied; the user is asked to regenerate instead.
func (r Report) Truncated() bool {
	return len(r.TruncatedPaths) > 0
}

// Sanitizer applies the repair pipeline. Stages are pure: each takes a
// bundle and returns a new one, recording findings on the report.
type Sanitizer struct {
	logger *zap.Logger
}

// New creates a sanitizer.
func New(logger *zap.Logger) *Sanitizer {
	return &Sanitizer{logger: logger}
}

type stage func(bundle.Bundle, Options, *Report) bundle.Bundle

// Sanitize runs all stages in their fixed order and returns the repaired
// bundle plus a report. Order matters: hook imports are completed before
// the entry file is synthesized, empties are dropped before config
// protection, and truncation is judged on the final structural shape.
func (s *Sanitizer) Sanitize(b bundle.Bundle, opts Options) (bundle.Bundle, Report) {
	report := Report{}

	stages := []struct {
		name string
		run  stage
	}{
		{"hook_imports", completeHookImports},
		{"entry_repair", repairEntryFile},
		{"drop_empty", dropEmptyFiles},
		{"config_protect", protectConfigs},
		{"truncation", detectTruncation},
		{"color_aliases", normalizeColorAliases},
	}

	for _, st := range stages {
		before := b.Len()
		b = st.run(b, opts, &report)
		if s.logger != nil && b.Len() != before {
			s.logger.Debug("sanitizer stage changed file count",
				zap.String("stage", st.name),
				zap.Int("before", before),
				zap.Int("after", b.Len()),
			)
		}
	}

	if s.logger != nil {
		s.logger.Info("sanitization finished",
			zap.Int("files", b.Len()),
			zap.Strings("removed", report.RemovedPaths),
			zap.Strings("merged", report.MergedPaths),
			zap.Strings("truncated", report.TruncatedPaths),
		)
	}

	return b, report
}
