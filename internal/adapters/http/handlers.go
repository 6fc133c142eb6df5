package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Drop/internal/app/orch"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/dkeye/Drop/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const deletionSecretHeader = "X-Deletion-Secret"

type handlers struct {
	orch *orch.Orchestrator
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// cancelSession terminates a session for whoever presents its deletion
// secret. A wrong secret is indistinguishable from a missing session.
func (h *handlers) cancelSession(c *gin.Context) {
	id := domain.PublicID(c.Param("publicId"))
	secret := c.GetHeader(deletionSecretHeader)

	if err := h.orch.Cancel(c.Request.Context(), "", id, secret); err != nil {
		kind := domain.KindOf(err)
		metrics.RecordRequestError("http-cancel", kind.String())
		if kind == domain.KindInternal {
			log.Error().Err(err).Str("module", "adapters.http").Str("public_id", string(id)).Msg("cancel session")
		}
		c.JSON(statusOf(kind), errorResponse{Error: domain.PublicMessage(err), Kind: kind.String()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.orch.Store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("store ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.orch.Registry.Len()})
}
