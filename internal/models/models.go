package models

import (
	"time"

	"github.com/google/uuid"
)

// PromptProfile selects the prompt/model trade-off for a generation.
type PromptProfile string

const (
	ProfileFast      PromptProfile = "fast"
	ProfileQuality   PromptProfile = "quality"
	ProfileReasoning PromptProfile = "reasoning"
)

// GenerationRequest is one client generation call. Created once per
// request and never mutated.
type GenerationRequest struct {
	Prompt string `json:"prompt" binding:"required"`

	// Language is the UI locale of the requesting user.
	Language string `json:"language"`

	Profile PromptProfile `json:"profile"`

	// ModelCandidates is the ordered retry list. Empty means the upstream
	// service picks its default model.
	ModelCandidates []string `json:"modelCandidates"`

	// SandboxID targets an existing sandbox; empty lets the upstream
	// provision a fresh one.
	SandboxID string `json:"sandboxId"`
}

// SandboxHealth is the best-effort probe result for a sandbox session.
type SandboxHealth string

const (
	SandboxHealthy   SandboxHealth = "healthy"
	SandboxUnhealthy SandboxHealth = "unhealthy"
	SandboxUnknown   SandboxHealth = "unknown"
)

// SandboxSession references an externally owned sandbox. This service
// never assumes exclusive ownership of it.
type SandboxSession struct {
	SandboxID  string        `json:"sandboxId"`
	PreviewURL string        `json:"previewUrl"`
	Health     SandboxHealth `json:"health"`
}

// ApplyResult is the immutable outcome of one apply call.
type ApplyResult struct {
	FilesWritten      int      `json:"filesWritten"`
	FilesCreated      []string `json:"filesCreated"`
	FilesUpdated      []string `json:"filesUpdated"`
	PackagesInstalled []string `json:"packagesInstalled,omitempty"`

	// FilteredFiles lists paths the sanitizer removed or merged, for
	// audit/UI display.
	FilteredFiles []string `json:"filteredFiles,omitempty"`

	SandboxID  string `json:"sandboxId"`
	PreviewURL string `json:"previewUrl"`
}

// GenerationRecord is the audit-log row persisted after each request.
type GenerationRecord struct {
	ID        uuid.UUID     `json:"id"`
	Prompt    string        `json:"prompt"`
	Profile   PromptProfile `json:"profile"`
	Model     string        `json:"model"`
	Attempts  int           `json:"attempts"`
	Outcome   string        `json:"outcome"`
	LatencyMS int64         `json:"latency_ms"`
	CreatedAt time.Time     `json:"created_at"`
}
