package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/appweaver/api/internal/eventbus"
	"github.com/appweaver/api/internal/middleware"
	"github.com/appweaver/api/internal/models"
)

// SandboxProber covers the sandbox lifecycle calls the handler needs.
type SandboxProber interface {
	Status(ctx context.Context, sandboxID string) (models.SandboxSession, error)
	Kill(ctx context.Context, sandboxID string) error
}

// SessionCache caches sandbox status probes.
type SessionCache interface {
	GetSession(ctx context.Context, sandboxID string) (models.SandboxSession, bool)
	CacheSession(ctx context.Context, session models.SandboxSession, ttl time.Duration) error
	DropSession(ctx context.Context, sandboxID string)
}

// SandboxHandler serves sandbox status and teardown.
type SandboxHandler struct {
	client   SandboxProber
	cache    SessionCache
	cacheTTL time.Duration
	bus      *eventbus.Bus
	logger   *zap.Logger
}

// NewSandboxHandler creates a sandbox handler. A nil cache disables
// caching, probes then always hit the upstream.
func NewSandboxHandler(client SandboxProber, cache SessionCache, cacheTTL time.Duration, bus *eventbus.Bus, logger *zap.Logger) *SandboxHandler {
	return &SandboxHandler{
		client:   client,
		cache:    cache,
		cacheTTL: cacheTTL,
		bus:      bus,
		logger:   logger,
	}
}

// Status handles GET /api/v1/sandbox/:id/status.
func (h *SandboxHandler) Status(c *gin.Context) {
	sandboxID := c.Param("id")
	if sandboxID == "" {
		middleware.BadRequest(c, "sandbox id is required")
		return
	}

	ctx := c.Request.Context()
	if h.cache != nil {
		if session, ok := h.cache.GetSession(ctx, sandboxID); ok {
			c.JSON(http.StatusOK, session)
			return
		}
	}

	session, err := h.client.Status(ctx, sandboxID)
	if err != nil {
		middleware.InternalError(c, "sandbox status probe failed")
		return
	}

	if h.cache != nil {
		if err := h.cache.CacheSession(ctx, session, h.cacheTTL); err != nil {
			h.logger.Debug("failed to cache sandbox session", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, session)
}

// Kill handles DELETE /api/v1/sandbox/:id.
func (h *SandboxHandler) Kill(c *gin.Context) {
	sandboxID := c.Param("id")
	if sandboxID == "" {
		middleware.BadRequest(c, "sandbox id is required")
		return
	}

	ctx := c.Request.Context()
	if err := h.client.Kill(ctx, sandboxID); err != nil {
		middleware.RespondErrorWithDetails(c, http.StatusBadGateway,
			middleware.ErrCodeAIServiceUnavailable, "failed to kill sandbox", err.Error())
		return
	}

	if h.cache != nil {
		h.cache.DropSession(ctx, sandboxID)
	}

	h.bus.Publish(eventbus.SubjectSandboxKilled, eventbus.GenerationEvent{
		SandboxID: sandboxID,
		Timestamp: time.Now(),
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "sandboxId": sandboxID})
}
