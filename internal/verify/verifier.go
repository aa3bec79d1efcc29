// Package verify checks post-apply sandbox state: it re-fetches well-known
// data files from the live preview URL and, when a required symbol is
// missing, issues exactly one corrective apply per file. Verification never
// fails the request; the primary apply already succeeded.
package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/appweaver/api/internal/bundle"
	"github.com/appweaver/api/internal/metrics"
	"github.com/appweaver/api/internal/sandbox"
)

// Rule names one well-known file worth verifying after apply, the export
// symbols its consumers depend on, and a minimal self-consistent fallback
// used as the corrective patch.
type Rule struct {
	Path            string
	RequiredSymbols []string
	Fallback        string
}

// DefaultRules covers the data file the generated storefront templates
// import from; a missing export there blanks the whole preview.
func DefaultRules() []Rule {
	return []Rule{
		{
			Path:            "src/data/products.js",
			RequiredSymbols: []string{"export const products", "export default"},
			Fallback: "export const products = [];\n" +
				"\n" +
				"export default products;\n",
		},
	}
}

// PreviewFetcher fetches one file from a sandbox's public preview URL.
type PreviewFetcher interface {
	FetchPreviewFile(ctx context.Context, previewURL, path string) (string, error)
}

// Applier submits a serialized file bundle to the sandbox.
type Applier interface {
	Apply(ctx context.Context, sandboxID, response string) (*sandbox.ApplyOutcome, error)
}

// Client is the subset of the sandbox client the verifier needs.
type Client interface {
	PreviewFetcher
	Applier
}

// Report summarizes one verification pass.
type Report struct {
	// RepairedPaths lists files that failed verification and were fixed by
	// a corrective apply.
	RepairedPaths []string

	// Warnings lists files that failed verification and could not be
	// repaired. Surfaced to the client as warnings, never as errors.
	Warnings []string
}

// Verifier runs post-apply checks against a live sandbox.
type Verifier struct {
	client Client
	logger *zap.Logger
	rules  []Rule
}

// New creates a verifier. Nil rules means DefaultRules.
func New(client Client, logger *zap.Logger, rules []Rule) *Verifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Verifier{client: client, logger: logger, rules: rules}
}

// Verify checks each rule whose path appears in the applied bundle. A rule
// whose file the bundle never touched is skipped: the verifier only vouches
// for what this apply wrote. Each failing file gets exactly one corrective
// apply; the repair itself is re-checked but never re-repaired.
func (v *Verifier) Verify(ctx context.Context, applied bundle.Bundle, sandboxID, previewURL string) Report {
	report := Report{}
	if previewURL == "" {
		return report
	}

	for _, rule := range v.rules {
		if _, ok := applied.Lookup(rule.Path); !ok {
			continue
		}
		if v.check(ctx, previewURL, rule) {
			continue
		}

		v.logger.Warn("post-apply verification failed, issuing corrective patch",
			zap.String("path", rule.Path),
			zap.String("sandbox_id", sandboxID),
		)

		if err := v.repair(ctx, sandboxID, rule); err != nil {
			metrics.VerificationRepairs.WithLabelValues("failed").Inc()
			report.Warnings = append(report.Warnings, repairWarning(rule.Path, err))
			continue
		}

		if !v.check(ctx, previewURL, rule) {
			metrics.VerificationRepairs.WithLabelValues("failed").Inc()
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s still failed verification after corrective patch", rule.Path))
			continue
		}

		metrics.VerificationRepairs.WithLabelValues("repaired").Inc()
		report.RepairedPaths = append(report.RepairedPaths, rule.Path)
	}

	return report
}

// check fetches the live file and reports whether every required symbol is
// present. Fetch failures count as a failed check: an unreachable file is
// as broken as a malformed one.
func (v *Verifier) check(ctx context.Context, previewURL string, rule Rule) bool {
	content, err := v.client.FetchPreviewFile(ctx, previewURL, rule.Path)
	if err != nil {
		v.logger.Debug("preview fetch failed during verification",
			zap.String("path", rule.Path), zap.Error(err))
		return false
	}
	for _, symbol := range rule.RequiredSymbols {
		if !strings.Contains(content, symbol) {
			return false
		}
	}
	return true
}

// repair applies the rule's fallback as a one-file bundle.
func (v *Verifier) repair(ctx context.Context, sandboxID string, rule Rule) error {
	patch := bundle.Bundle{Files: []bundle.FileUnit{{
		Path:    rule.Path,
		Content: rule.Fallback,
	}}}

	outcome, err := v.client.Apply(ctx, sandboxID, patch.Serialize())
	if err != nil {
		return err
	}
	if outcome.ErrorMessage != "" {
		return fmt.Errorf("corrective apply rejected: %s", outcome.ErrorMessage)
	}
	if len(outcome.FilesCreated)+len(outcome.FilesUpdated) == 0 {
		return fmt.Errorf("corrective apply wrote no files")
	}
	return nil
}

func repairWarning(path string, err error) string {
	return fmt.Sprintf("%s failed verification and could not be repaired: %v", path, err)
}
