package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Drop/internal/app/orch"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/dkeye/Drop/internal/metrics"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(ctx context.Context, cl *client, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Msg("bad json")
		ctl.sendError(cl, core.EvError, domain.Invalid("malformed message", err))
		return
	}

	switch env.Type {
	case core.EvCreateSession:
		ctl.handleCreate(ctx, cl, data)
	case core.EvJoinSession:
		ctl.handleJoin(ctx, cl, data)
	case core.EvCancelSession:
		ctl.handleCancel(ctx, cl, data)
	case core.EvRelayOffer:
		ctl.handleRelay(cl, orch.RelayOffer, data)
	case core.EvRelayAnswer:
		ctl.handleRelay(cl, orch.RelayAnswer, data)
	case core.EvRelayCandidate:
		ctl.handleRelay(cl, orch.RelayCandidate, data)
	case core.EvPing:
		ctl.handlePing(cl)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(cl, core.EvError, domain.Invalid("unknown event type", nil))
	}
}

func (ctl *SignalWSController) handlePing(cl *client) {
	ctl.sendJSON(cl, core.Envelope{Type: core.EvPong})
}

func (ctl *SignalWSController) handleCreate(ctx context.Context, cl *client, data []byte) {
	if !ctl.Orch.Limiter.Allow(cl.token) {
		ctl.sendError(cl, core.EvCreateError, domain.Throttled("too many sessions created, try again later"))
		return
	}
	var req core.CreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(cl, core.EvCreateError, domain.Invalid("bad create payload", err))
		return
	}
	if _, err := ctl.Orch.Create(ctx, cl.id, req.Items); err != nil {
		ctl.sendError(cl, core.EvCreateError, err)
	}
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, cl *client, data []byte) {
	var req core.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(cl, core.EvJoinError, domain.Invalid("bad join payload", err))
		return
	}
	if _, err := ctl.Orch.Join(ctx, cl.id, req.PublicID); err != nil {
		ctl.sendError(cl, core.EvJoinError, err)
	}
}

func (ctl *SignalWSController) handleCancel(ctx context.Context, cl *client, data []byte) {
	var req core.CancelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(cl, core.EvCancelError, domain.Invalid("bad cancel payload", err))
		return
	}
	if err := ctl.Orch.Cancel(ctx, cl.id, req.PublicID, req.DeletionSecret); err != nil {
		ctl.sendError(cl, core.EvCancelError, err)
	}
}

// handleRelay never answers the sender; undecodable relays are dropped.
func (ctl *SignalWSController) handleRelay(cl *client, kind orch.RelayKind, data []byte) {
	var req core.RelayRequest
	if err := json.Unmarshal(data, &req); err != nil {
		metrics.RelaysDropped.WithLabelValues("bad_payload").Inc()
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(cl.id)).Msg("bad relay payload")
		return
	}
	ctl.Orch.Relay(cl.id, kind, req)
}

// sendError reports a handler failure to the originating connection only.
func (ctl *SignalWSController) sendError(cl *client, event string, err error) {
	kind := domain.KindOf(err)
	metrics.RecordRequestError(event, kind.String())

	ev := log.Warn()
	if kind == domain.KindInternal {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "signal").Str("conn", string(cl.id)).Str("event", event).Msg("request failed")

	ctl.sendJSON(cl, core.ErrorEvent{
		Type:    event,
		Message: domain.PublicMessage(err),
		Kind:    kind.String(),
	})
}
