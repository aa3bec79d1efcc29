package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/bundle"
	"github.com/appweaver/api/internal/eventbus"
	"github.com/appweaver/api/internal/metrics"
	"github.com/appweaver/api/internal/middleware"
	"github.com/appweaver/api/internal/models"
	"github.com/appweaver/api/internal/sandbox"
	"github.com/appweaver/api/internal/sanitize"
	"github.com/appweaver/api/internal/verify"
)

// SandboxApplier submits a serialized bundle to the sandbox service.
type SandboxApplier interface {
	Apply(ctx context.Context, sandboxID, response string) (*sandbox.ApplyOutcome, error)
}

// PostApplyVerifier checks and optionally repairs sandbox state after an
// apply.
type PostApplyVerifier interface {
	Verify(ctx context.Context, applied bundle.Bundle, sandboxID, previewURL string) verify.Report
}

// ApplyHandler serves the non-streaming apply endpoint: parse the AI's
// raw output, sanitize it, write it to the sandbox, then verify.
type ApplyHandler struct {
	client    SandboxApplier
	verifier  PostApplyVerifier
	sanitizer *sanitize.Sanitizer
	bus       *eventbus.Bus
	logger    *zap.Logger
}

// NewApplyHandler creates an apply handler.
func NewApplyHandler(client SandboxApplier, verifier PostApplyVerifier, sanitizer *sanitize.Sanitizer, bus *eventbus.Bus, logger *zap.Logger) *ApplyHandler {
	return &ApplyHandler{
		client:    client,
		verifier:  verifier,
		sanitizer: sanitizer,
		bus:       bus,
		logger:    logger,
	}
}

// ApplyRequest is the client apply payload. GeneratedCode is the raw
// file-bundle text exactly as the generation stream delivered it.
type ApplyRequest struct {
	SandboxID        string `json:"sandboxId" binding:"required"`
	GeneratedCode    string `json:"generatedCode" binding:"required"`
	ExistingManifest string `json:"existingManifest"`
}

// ApplyResponse is the success shape of the apply endpoint.
type ApplyResponse struct {
	Success bool `json:"success"`
	models.ApplyResult
	RepairedPaths []string `json:"repairedPaths,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Apply handles POST /api/v1/generation/apply.
func (h *ApplyHandler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, "invalid apply request: "+err.Error())
		return
	}

	parsed := bundle.Parse(req.GeneratedCode)
	if parsed.Len() == 0 {
		// Non-empty input with zero extracted files is unusable output,
		// never a silent success.
		metrics.ApplyResults.WithLabelValues("no_blocks").Inc()
		middleware.RespondPipelineError(c, models.NewPipelineError(
			models.NoFileBlocksFound,
			"no valid file blocks found in generated output",
		))
		return
	}

	sanitized, report := h.sanitizer.Sanitize(parsed, sanitize.Options{
		ExistingManifest: req.ExistingManifest,
	})

	if report.Truncated() {
		metrics.ApplyResults.WithLabelValues("truncated").Inc()
		middleware.RespondPipelineError(c, models.NewPipelineError(
			models.TruncatedContent,
			"generated output looks cut off, please regenerate: "+strings.Join(report.TruncatedPaths, ", "),
		))
		return
	}

	outcome, err := h.client.Apply(c.Request.Context(), req.SandboxID, sanitized.Serialize())
	if err != nil {
		middleware.AIServiceCircuitBreaker.RecordFailure()
		metrics.ApplyResults.WithLabelValues("rejected").Inc()
		middleware.RespondPipelineError(c, models.WrapPipelineError(
			models.ApplyRejectedByUpstream,
			"sandbox rejected the apply call",
			err,
		))
		return
	}
	if outcome.ErrorMessage != "" {
		metrics.ApplyResults.WithLabelValues("rejected").Inc()
		middleware.RespondPipelineError(c, models.NewPipelineError(
			models.ApplyRejectedByUpstream,
			"sandbox reported an error: "+outcome.ErrorMessage,
		))
		return
	}

	filesWritten := len(outcome.FilesCreated) + len(outcome.FilesUpdated)
	if filesWritten == 0 {
		metrics.ApplyResults.WithLabelValues("zero_files").Inc()
		message := "apply completed but wrote no files"
		if len(outcome.FileErrors) > 0 {
			message += ": " + strings.Join(outcome.FileErrors, "; ")
		}
		middleware.RespondPipelineError(c, models.NewPipelineError(
			models.ApplyZeroFilesWritten, message,
		))
		return
	}

	sandboxID := outcome.SandboxID
	if sandboxID == "" {
		sandboxID = req.SandboxID
	}

	verification := h.verifier.Verify(c.Request.Context(), sanitized, sandboxID, outcome.PreviewURL)

	middleware.AIServiceCircuitBreaker.RecordSuccess()
	metrics.ApplyResults.WithLabelValues("success").Inc()
	h.bus.Publish(eventbus.SubjectApplyCompleted, eventbus.ApplyEvent{
		SandboxID:    sandboxID,
		FilesWritten: filesWritten,
		Repaired:     verification.RepairedPaths,
		Timestamp:    time.Now(),
	})

	warnings := append([]string{}, outcome.Warnings...)
	warnings = append(warnings, verification.Warnings...)

	c.JSON(http.StatusOK, ApplyResponse{
		Success: true,
		ApplyResult: models.ApplyResult{
			FilesWritten:      filesWritten,
			FilesCreated:      outcome.FilesCreated,
			FilesUpdated:      outcome.FilesUpdated,
			PackagesInstalled: outcome.PackagesInstalled,
			FilteredFiles:     append(append([]string{}, report.RemovedPaths...), report.MergedPaths...),
			SandboxID:         sandboxID,
			PreviewURL:        outcome.PreviewURL,
		},
		RepairedPaths: verification.RepairedPaths,
		Warnings:      warnings,
	})
}
