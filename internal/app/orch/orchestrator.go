package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Drop/internal/app"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/dkeye/Drop/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Config struct {
	PublicIDLength int
	SecretLength   int
	IDAttempts     int
	// StoreTimeout bounds every store call. Zero means no bound.
	StoreTimeout time.Duration
	SessionTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PublicIDLength: 10,
		SecretLength:   32,
		IDAttempts:     5,
		StoreTimeout:   5 * time.Second,
		SessionTTL:     24 * time.Hour,
	}
}

// Orchestrator is the process-scoped context every event handler runs
// against: the durable store, the live registry and the outbound path.
// Its methods are safe for concurrent use.
type Orchestrator struct {
	Store    core.SessionStore
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *app.RateLimiter
	Config   Config

	Now      func() time.Time
	Generate func(n int) (string, error)
}

func New(store core.SessionStore, reg *app.Registry, policy app.Policy, cfg Config) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		Registry: reg,
		Policy:   policy,
		Config:   cfg,
		Now:      time.Now,
		Generate: domain.RandomString,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) generate(n int) (string, error) {
	if o.Generate == nil {
		return domain.RandomString(n)
	}
	return o.Generate(n)
}

func (o *Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Config.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Config.StoreTimeout)
}

// Connect registers a live connection.
func (o *Orchestrator) Connect(conn domain.ConnID, sc core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(conn, sc, cancel)
	metrics.ActiveConnections.Inc()
}

// Send delivers one event to one connection.
func (o *Orchestrator) Send(conn domain.ConnID, v any) error {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return err
	}
	err = o.Registry.Send(conn, f)
	if errors.Is(err, core.ErrBackpressure) {
		o.onDropped([]domain.ConnID{conn})
	}
	return err
}

func (o *Orchestrator) broadcast(group domain.PublicID, except domain.ConnID, v any) {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return
	}
	o.onDropped(o.Registry.Broadcast(group, except, f).Dropped)
}

func (o *Orchestrator) broadcastAll(except domain.ConnID, v any) {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return
	}
	o.onDropped(o.Registry.BroadcastAll(except, f).Dropped)
}

func (o *Orchestrator) onDropped(slow []domain.ConnID) {
	if o.Policy == nil {
		return
	}
	for _, conn := range slow {
		switch o.Policy.OnBackPressure(conn) {
		case app.Disconnect:
			log.Warn().Str("module", "orch").Str("conn", string(conn)).Msg("send buffer full, disconnecting")
			o.Registry.Cancel(conn)
		case app.DropFrame, app.NoAction:
		}
	}
}

// closeSession tells the live group the session is gone and forgets the
// group.
func (o *Orchestrator) closeSession(id domain.PublicID, except domain.ConnID, reason string) {
	o.broadcast(id, except, core.SessionClosed{
		Type:     core.EvSessionClosed,
		PublicID: id,
		Reason:   reason,
	})
	members := o.Registry.DropGroup(id)
	metrics.RecordSessionClosed(reason)
	log.Info().
		Str("module", "orch").
		Str("public_id", string(id)).
		Str("reason", reason).
		Int("members", len(members)).
		Msg("session closed")
}
