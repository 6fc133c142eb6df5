package orch

import (
	"context"

	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/dkeye/Drop/internal/metrics"
	"github.com/rs/zerolog/log"
)

// OnDisconnect reconciles state after conn is lost. It runs once per
// connection. A sender loses every session it owns and the group is told
// the session closed; otherwise conn is treated as a receiver, everyone
// is told it left and it is pulled from every receiver list. Store
// failures are logged and swallowed.
func (o *Orchestrator) OnDisconnect(ctx context.Context, conn domain.ConnID) {
	if _, ok := o.Registry.Unbind(conn); ok {
		metrics.ActiveConnections.Dec()
	}
	logger := log.With().Str("module", "orch").Str("conn", string(conn)).Logger()

	sctx, cancel := o.storeCtx(ctx)
	owned, err := o.Store.DeleteBySender(sctx, conn)
	cancel()
	if err != nil {
		metrics.ReconcileFailures.Inc()
		logger.Error().Err(err).Msg("disconnect: sender lookup failed")
		return
	}

	if len(owned) > 0 {
		for _, sess := range owned {
			o.closeSession(sess.PublicID, conn, ReasonSender)
		}
		logger.Info().Int("sessions", len(owned)).Msg("sender disconnected")
		return
	}

	o.broadcastAll(conn, core.PeerEvent{Type: core.EvPeerLeft, PeerID: conn})

	sctx, cancel = o.storeCtx(ctx)
	n, err := o.Store.PullReceiver(sctx, conn)
	cancel()
	if err != nil {
		metrics.ReconcileFailures.Inc()
		logger.Error().Err(err).Msg("disconnect: receiver cleanup failed")
		return
	}
	logger.Info().Int64("sessions", n).Msg("receiver disconnected")
}
