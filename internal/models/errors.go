package models

import "fmt"

// FailureKind classifies the expected, frequent failure modes of the
// generation pipeline. These are ordinary control flow for the retry
// orchestrator, not exceptional conditions.
type FailureKind string

const (
	UpstreamTimeout         FailureKind = "UPSTREAM_TIMEOUT"
	UpstreamEmptyOutput     FailureKind = "UPSTREAM_EMPTY_OUTPUT"
	UpstreamHardError       FailureKind = "UPSTREAM_HARD_ERROR"
	NoFileBlocksFound       FailureKind = "NO_FILE_BLOCKS_FOUND"
	TruncatedContent        FailureKind = "TRUNCATED_CONTENT"
	ApplyRejectedByUpstream FailureKind = "APPLY_REJECTED_BY_UPSTREAM"
	ApplyZeroFilesWritten   FailureKind = "APPLY_ZERO_FILES_WRITTEN"
	VerificationFailed      FailureKind = "VERIFICATION_FAILED"
)

// PipelineError is a typed pipeline failure carrying its taxonomy kind.
type PipelineError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError builds a typed failure.
func NewPipelineError(kind FailureKind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// WrapPipelineError builds a typed failure around an underlying error.
func WrapPipelineError(kind FailureKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// Retryable reports whether the failure should be retried against the
// next model candidate. Truncated or block-less output means the model's
// answer itself is unusable and a retry with the same prompt would burn
// quota for the same result.
func (k FailureKind) Retryable() bool {
	return k == UpstreamTimeout || k == UpstreamEmptyOutput
}
