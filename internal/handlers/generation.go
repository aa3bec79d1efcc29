package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/eventbus"
	"github.com/appweaver/api/internal/middleware"
	"github.com/appweaver/api/internal/models"
	"github.com/appweaver/api/internal/orchestrate"
	"github.com/appweaver/api/internal/relay"
)

// StreamOrchestrator runs a full retry sequence against a sink.
type StreamOrchestrator interface {
	Run(ctx context.Context, req models.GenerationRequest, sink relay.Sink) (orchestrate.Result, error)
}

// AuditStore persists generation audit rows, best-effort.
type AuditStore interface {
	Insert(ctx context.Context, record models.GenerationRecord)
}

// GenerationHandler serves the streaming generation endpoint.
type GenerationHandler struct {
	orchestrator StreamOrchestrator
	store        AuditStore
	bus          *eventbus.Bus
	logger       *zap.Logger
}

// NewGenerationHandler creates a generation handler.
func NewGenerationHandler(orchestrator StreamOrchestrator, store AuditStore, bus *eventbus.Bus, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		store:        store,
		bus:          bus,
		logger:       logger,
	}
}

// sseSink adapts the gin response writer to the relay sink. Gin's writer
// implements http.Flusher, which SSE needs after every event.
type sseSink struct {
	w gin.ResponseWriter
}

func (s sseSink) WriteLine(line string) error {
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

func (s sseSink) Flush() {
	s.w.Flush()
}

// Stream handles POST /api/v1/generation/stream. It mirrors the upstream
// SSE frames to the client, plus status frames around retries, and always
// ends with exactly one terminal event.
func (h *GenerationHandler) Stream(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, "invalid generation request: "+err.Error())
		return
	}

	requestID := c.GetString(middleware.RequestIDKey)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	h.bus.Publish(eventbus.SubjectGenerationStarted, eventbus.GenerationEvent{
		RequestID: requestID,
		SandboxID: req.SandboxID,
		Timestamp: time.Now(),
	})

	started := time.Now()
	result, err := h.orchestrator.Run(c.Request.Context(), req, sseSink{w: c.Writer})

	outcome := outcomeLabel(result, err)
	h.audit(c.Request.Context(), requestID, req, result, outcome, time.Since(started))

	if errors.Is(err, relay.ErrClientGone) {
		h.logger.Info("generation stream ended by client",
			zap.String("request_id", requestID),
			zap.Int("attempts", result.Attempts),
		)
		return
	}

	// Feed the shared breaker: repeated upstream-side failures trip it,
	// unusable-but-delivered output does not.
	if result.Succeeded() {
		middleware.AIServiceCircuitBreaker.RecordSuccess()
	} else if result.Outcome.SawTimeoutError || result.Outcome.LastErrorMessage != "" {
		middleware.AIServiceCircuitBreaker.RecordFailure()
	}

	subject := eventbus.SubjectGenerationCompleted
	if !result.Succeeded() {
		subject = eventbus.SubjectGenerationFailed
	}
	h.bus.Publish(subject, eventbus.GenerationEvent{
		RequestID: requestID,
		SandboxID: req.SandboxID,
		Model:     result.Model,
		Attempts:  result.Attempts,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
}

// audit persists the generation record outside the request's own context
// deadline; the row must land even when the client disconnected.
func (h *GenerationHandler) audit(ctx context.Context, requestID string, req models.GenerationRequest, result orchestrate.Result, outcome string, latency time.Duration) {
	if h.store == nil {
		return
	}

	id, err := uuid.Parse(requestID)
	if err != nil {
		id = uuid.New()
	}

	h.store.Insert(context.WithoutCancel(ctx), models.GenerationRecord{
		ID:        id,
		Prompt:    req.Prompt,
		Profile:   req.Profile,
		Model:     result.Model,
		Attempts:  result.Attempts,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now(),
	})
}

func outcomeLabel(result orchestrate.Result, err error) string {
	switch {
	case errors.Is(err, relay.ErrClientGone):
		return "client_gone"
	case result.Succeeded():
		return "success"
	case result.Outcome.SawTimeoutError:
		return string(models.UpstreamTimeout)
	case result.Outcome.LastErrorMessage != "":
		return string(models.UpstreamHardError)
	default:
		return string(models.UpstreamEmptyOutput)
	}
}
