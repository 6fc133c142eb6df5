package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Drop/internal/app"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/dkeye/Drop/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	ReasonSender  = "sender"
	ReasonCancel  = "cancel"
	ReasonExpired = "expired"
)

var errSessionGone = errors.New("session not found")

// Create persists a new open session owned by conn, subscribes conn to
// the session group and sends it the public id and deletion secret.
func (o *Orchestrator) Create(ctx context.Context, conn domain.ConnID, items []domain.Item) (*domain.Session, error) {
	if err := domain.ValidateItems(items); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= o.Config.IDAttempts; attempt++ {
		id, err := o.generate(o.Config.PublicIDLength)
		if err != nil {
			return nil, domain.Internal(err)
		}
		secret, err := o.generate(o.Config.SecretLength)
		if err != nil {
			return nil, domain.Internal(err)
		}
		sess := domain.NewSession(domain.PublicID(id), secret, conn, items, o.now())

		sctx, cancel := o.storeCtx(ctx)
		err = o.Store.Create(sctx, sess)
		cancel()
		if errors.Is(err, core.ErrDuplicate) {
			lastErr = err
			log.Warn().Str("module", "orch").Int("attempt", attempt).Msg("identifier collision, retrying")
			continue
		}
		if err != nil {
			return nil, domain.Internal(err)
		}

		if !o.Registry.Subscribe(sess.PublicID, conn) {
			// The connection is already gone; nobody would ever reap this session.
			sctx, cancel := o.storeCtx(context.WithoutCancel(ctx))
			_, _ = o.Store.DeleteBySecret(sctx, sess.PublicID, sess.DeletionSecret)
			cancel()
			return nil, domain.Internal(app.ErrUnknownConn)
		}

		metrics.SessionsCreated.Inc()
		log.Info().
			Str("module", "orch").
			Str("conn", string(conn)).
			Str("public_id", string(sess.PublicID)).
			Int("items", len(items)).
			Msg("session created")

		_ = o.Send(conn, core.Created{
			Type:           core.EvCreated,
			PublicID:       sess.PublicID,
			DeletionSecret: sess.DeletionSecret,
		})
		return sess, nil
	}
	return nil, domain.Exhausted("could not allocate a session id", lastErr)
}

// Join adds conn as a receiver of an open session. The joiner gets the
// items and the live peer list; every other group member learns about
// the joiner.
func (o *Orchestrator) Join(ctx context.Context, conn domain.ConnID, id domain.PublicID) ([]domain.ConnID, error) {
	if id == "" {
		return nil, domain.NotFound(errSessionGone.Error())
	}

	sctx, cancel := o.storeCtx(ctx)
	sess, err := o.Store.FindOpen(sctx, id)
	cancel()
	if errors.Is(err, core.ErrNotFound) {
		return nil, domain.NotFound(errSessionGone.Error())
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	if !o.Registry.Subscribe(id, conn) {
		return nil, domain.Internal(app.ErrUnknownConn)
	}

	sctx, cancel = o.storeCtx(ctx)
	err = o.Store.AddReceiver(sctx, id, conn)
	cancel()
	if err != nil {
		o.Registry.Unsubscribe(id, conn)
		if errors.Is(err, core.ErrNotFound) {
			return nil, domain.NotFound(errSessionGone.Error())
		}
		return nil, domain.Internal(err)
	}

	peers := make([]domain.ConnID, 0)
	for _, m := range o.Registry.Members(id) {
		if m != conn {
			peers = append(peers, m)
		}
	}

	_ = o.Send(conn, core.JoinSuccess{
		Type:        core.EvJoinSuccess,
		PublicID:    id,
		Items:       sess.Items,
		PeerConnIDs: peers,
		SelfConnID:  conn,
	})
	o.broadcast(id, conn, core.PeerEvent{Type: core.EvNewPeerJoined, PeerID: conn})

	metrics.Joins.Inc()
	log.Info().
		Str("module", "orch").
		Str("conn", string(conn)).
		Str("public_id", string(id)).
		Int("peers", len(peers)).
		Msg("joined session")
	return peers, nil
}

// Cancel terminates a session on behalf of whoever holds its deletion
// secret. by is the requesting connection, empty when the request did
// not come over a signaling connection.
func (o *Orchestrator) Cancel(ctx context.Context, by domain.ConnID, id domain.PublicID, secret string) error {
	if id == "" || secret == "" {
		return domain.NotFound(errSessionGone.Error())
	}

	sctx, cancel := o.storeCtx(ctx)
	sess, err := o.Store.DeleteBySecret(sctx, id, secret)
	cancel()
	if errors.Is(err, core.ErrNotFound) {
		return domain.NotFound(errSessionGone.Error())
	}
	if err != nil {
		return domain.Internal(err)
	}

	o.closeSession(sess.PublicID, by, ReasonCancel)
	if by != "" {
		_ = o.Send(by, core.Cancelled{Type: core.EvCancelled, PublicID: sess.PublicID})
	}
	return nil
}

// Expire removes every session older than the configured TTL.
func (o *Orchestrator) Expire(ctx context.Context) (int, error) {
	if o.Config.SessionTTL <= 0 {
		return 0, nil
	}
	sctx, cancel := o.storeCtx(ctx)
	expired, err := o.Store.DeleteExpired(sctx, o.now().Add(-o.Config.SessionTTL))
	cancel()
	if err != nil {
		return 0, err
	}
	for _, sess := range expired {
		o.closeSession(sess.PublicID, "", ReasonExpired)
	}
	return len(expired), nil
}
