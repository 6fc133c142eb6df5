package orch

import (
	"errors"

	"github.com/dkeye/Drop/internal/app"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/dkeye/Drop/internal/metrics"
	"github.com/rs/zerolog/log"
)

type RelayKind string

const (
	RelayOffer     RelayKind = "offer"
	RelayAnswer    RelayKind = "answer"
	RelayCandidate RelayKind = "candidate"
)

// Relay forwards a handshake payload verbatim to req.TargetID, tagged
// with the sender. It is best effort: a missing or unknown target drops
// the message and nothing is reported back.
func (o *Orchestrator) Relay(from domain.ConnID, kind RelayKind, req core.RelayRequest) bool {
	if req.TargetID == "" {
		metrics.RelaysDropped.WithLabelValues("no_target").Inc()
		log.Debug().Str("module", "orch").Str("conn", string(from)).Str("kind", string(kind)).Msg("relay without target dropped")
		return false
	}

	msg := core.Relayed{FromID: from}
	switch kind {
	case RelayOffer:
		msg.Type = core.EvOfferReceived
		msg.Offer = req.Offer
	case RelayAnswer:
		msg.Type = core.EvAnswerReceived
		msg.Answer = req.Answer
	case RelayCandidate:
		msg.Type = core.EvCandidateReceived
		msg.Candidate = req.Candidate
	default:
		metrics.RelaysDropped.WithLabelValues("bad_kind").Inc()
		return false
	}

	if err := o.Send(req.TargetID, msg); err != nil {
		reason := "send_failed"
		if errors.Is(err, app.ErrUnknownConn) {
			reason = "unknown_target"
		}
		metrics.RelaysDropped.WithLabelValues(reason).Inc()
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(from)).Str("target", string(req.TargetID)).Msg("relay dropped")
		return false
	}
	metrics.Relays.WithLabelValues(string(kind)).Inc()
	return true
}
