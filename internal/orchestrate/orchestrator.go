// Package orchestrate drives sequential generation attempts over an
// ordered model-candidate list, deciding after each attempt whether the
// outcome warrants another, and guaranteeing the client observes exactly
// one terminal event per request.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/metrics"
	"github.com/appweaver/api/internal/models"
	"github.com/appweaver/api/internal/relay"
	"github.com/appweaver/api/internal/sandbox"
)

// Generator opens the upstream generation stream for one attempt.
type Generator interface {
	GenerateStream(ctx context.Context, req sandbox.GenerateRequest) (io.ReadCloser, error)
}

// Config holds per-deployment orchestration settings.
type Config struct {
	// StreamReadTimeout bounds the wait for the next upstream SSE line.
	StreamReadTimeout time.Duration

	// FallbackModels is appended after the request's candidates. Explicit
	// deployment configuration, empty by default.
	FallbackModels []string
}

// Result aggregates a full retry sequence.
type Result struct {
	// Outcome is the final attempt's outcome, with timeout evidence from
	// earlier attempts folded in for cause reporting.
	Outcome relay.Outcome

	Attempts int

	// Model is the candidate that produced usable code, or the last one
	// tried. Empty means the upstream default model.
	Model string
}

// Succeeded reports whether any attempt produced usable code.
func (r Result) Succeeded() bool {
	return r.Outcome.HasUsableCode()
}

// Orchestrator is request-scoped state-free retry logic; attempts within
// one request are strictly sequential because concurrent attempts would
// write conflicting state into the same sandbox.
type Orchestrator struct {
	generator Generator
	relay     *relay.Relay
	logger    *zap.Logger
	cfg       Config
}

// New creates an orchestrator.
func New(generator Generator, logger *zap.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		generator: generator,
		relay:     relay.New(logger),
		logger:    logger,
		cfg:       cfg,
	}
}

// Run performs up to one attempt per candidate, relaying each upstream
// stream to the sink. The only error returned is relay.ErrClientGone.
func (o *Orchestrator) Run(ctx context.Context, req models.GenerationRequest, sink relay.Sink) (Result, error) {
	tracer := otel.Tracer("orchestrate")
	candidates := o.candidates(req)

	result := Result{}
	sawTimeout := false

	for i, model := range candidates {
		result.Attempts = i + 1
		result.Model = model

		if i > 0 {
			metrics.GenerationRetries.Inc()
			if err := relay.WriteEvent(sink, relay.StatusFrame(retryNotice(model))); err != nil {
				return result, relay.ErrClientGone
			}
		}

		attemptCtx, span := tracer.Start(ctx, "generation.attempt")
		span.SetAttributes(
			attribute.Int("attempt", i+1),
			attribute.String("model", model),
		)

		outcome, err := o.attempt(attemptCtx, req, model, sink)
		span.End()

		sawTimeout = sawTimeout || outcome.SawTimeoutError
		result.Outcome = outcome
		result.Outcome.SawTimeoutError = sawTimeout

		if errors.Is(err, relay.ErrClientGone) {
			metrics.GenerationAttempts.WithLabelValues("client_gone").Inc()
			return result, err
		}

		if !shouldRetry(outcome) {
			metrics.GenerationAttempts.WithLabelValues("success").Inc()
			o.logger.Info("generation attempt succeeded",
				zap.Int("attempt", i+1),
				zap.String("model", model),
			)
			break
		}

		metrics.GenerationAttempts.WithLabelValues(attemptResultLabel(outcome)).Inc()
		o.logger.Warn("generation attempt unusable",
			zap.Int("attempt", i+1),
			zap.String("model", model),
			zap.Bool("timeout", outcome.SawTimeoutError),
			zap.Bool("incremental", outcome.SawIncrementalContent),
			zap.String("last_error", outcome.LastErrorMessage),
		)
	}

	if err := o.settleTerminal(result, sink); err != nil {
		return result, err
	}
	return result, nil
}

// attempt opens one upstream stream and relays it. Failing terminals are
// always withheld by the relay: the orchestrator owns the one terminal
// event the client receives, whether that is a forwarded success or the
// synthesized error after the last attempt. Successful terminals are
// never suppressed.
func (o *Orchestrator) attempt(ctx context.Context, req models.GenerationRequest, model string, sink relay.Sink) (relay.Outcome, error) {
	started := time.Now()
	defer func() {
		metrics.AttemptDuration.Observe(time.Since(started).Seconds())
	}()

	body, err := o.generator.GenerateStream(ctx, sandbox.GenerateRequest{
		Prompt: req.Prompt,
		Model:  model,
		Context: &sandbox.GenerateContext{
			SandboxID: req.SandboxID,
			Language:  req.Language,
			Profile:   string(req.Profile),
		},
	})
	if err != nil {
		// Failure to even open the stream behaves like a timed-out
		// attempt: retryable, with the message kept for cause reporting.
		o.logger.Warn("failed to open upstream stream", zap.Error(err))
		return relay.Outcome{SawTimeoutError: true, LastErrorMessage: err.Error()}, nil
	}
	defer body.Close()

	return o.relay.Run(ctx, body, sink, relay.Options{
		SuppressTerminal: true,
		ReadTimeout:      o.cfg.StreamReadTimeout,
	})
}

// settleTerminal enforces the exactly-one-terminal-event guarantee: when
// no unsuppressed terminal reached the client, synthesize one describing
// the dominant cause; when one did, add nothing.
func (o *Orchestrator) settleTerminal(result Result, sink relay.Sink) error {
	if result.Outcome.ForwardedTerminal {
		return nil
	}

	if !shouldRetry(result.Outcome) {
		// Stream ended with usable incremental content but no terminal
		// frame; close the conversation explicitly.
		if err := relay.WriteEvent(sink, map[string]interface{}{"type": "complete"}); err != nil {
			return relay.ErrClientGone
		}
		return nil
	}

	kind := models.UpstreamEmptyOutput
	message := "generation produced no usable code after all attempts"
	if result.Outcome.SawTimeoutError {
		kind = models.UpstreamTimeout
		message = "generation timed out after all attempts"
	}
	if result.Outcome.LastErrorMessage != "" {
		message = fmt.Sprintf("%s: %s", message, result.Outcome.LastErrorMessage)
	}

	frame := relay.ErrorFrame(message)
	frame["code"] = string(kind)
	if err := relay.WriteEvent(sink, frame); err != nil {
		return relay.ErrClientGone
	}
	return nil
}

// candidates resolves the ordered attempt list. An empty list means one
// attempt with the upstream default model.
func (o *Orchestrator) candidates(req models.GenerationRequest) []string {
	list := append([]string{}, req.ModelCandidates...)
	list = append(list, o.cfg.FallbackModels...)
	if len(list) == 0 {
		list = []string{""}
	}
	return list
}

// shouldRetry implements the attempt decision: retry when nothing usable
// arrived, or when a timeout interrupted before a complete-with-code.
func shouldRetry(outcome relay.Outcome) bool {
	return !outcome.HasUsableCode() || (outcome.SawTimeoutError && !outcome.SawCompleteWithCode)
}

func attemptResultLabel(outcome relay.Outcome) string {
	switch {
	case outcome.SawTimeoutError:
		return "timeout"
	case outcome.LastErrorMessage != "":
		return "error"
	default:
		return "empty"
	}
}

func retryNotice(model string) string {
	if model == "" {
		return "Previous attempt produced no usable code, retrying..."
	}
	return fmt.Sprintf("Previous attempt produced no usable code, retrying with %s...", model)
}
