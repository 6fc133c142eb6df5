// Package redis is the go-redis backed SessionStore. Multi-key updates
// run as Lua scripts so each operation is atomic on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultPrefix = "drop:"

type Config struct {
	URL            string
	Prefix         string
	ConnectRetries uint64
}

// record is the immutable part of a session; receivers live in a set.
type record struct {
	PublicID       domain.PublicID `json:"publicId"`
	SenderConnID   domain.ConnID   `json:"senderConnectionId"`
	DeletionSecret string          `json:"deletionSecret"`
	Items          []domain.Item   `json:"items"`
	IsOpen         bool            `json:"isOpen"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (r *record) toDomain(receivers []string) *domain.Session {
	ids := make([]domain.ConnID, 0, len(receivers))
	for _, c := range receivers {
		ids = append(ids, domain.ConnID(c))
	}
	return &domain.Session{
		PublicID:        r.PublicID,
		SenderConnID:    r.SenderConnID,
		ReceiverConnIDs: ids,
		Items:           r.Items,
		IsOpen:          r.IsOpen,
		DeletionSecret:  r.DeletionSecret,
		CreatedAt:       r.CreatedAt,
	}
}

type Store struct {
	client *goredis.Client
	prefix string
}

var _ core.SessionStore = (*Store)(nil)

// Open parses the URL, then pings with exponential backoff until the
// server answers or retries run out.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := goredis.NewClient(opts)

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err != nil {
			log.Warn().Err(err).Str("module", "store.redis").Msg("ping failed, retrying")
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info().Str("module", "store.redis").Str("addr", opts.Addr).Msg("connected")
	return New(client, cfg.Prefix), nil
}

func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) sessionKey(id domain.PublicID) string {
	return s.prefix + "session:" + string(id)
}

func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(record{
		PublicID:       sess.PublicID,
		SenderConnID:   sess.SenderConnID,
		DeletionSecret: sess.DeletionSecret,
		Items:          sess.Items,
		IsOpen:         sess.IsOpen,
		CreatedAt:      sess.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	created := strconv.FormatInt(sess.CreatedAt.UnixMilli(), 10)
	n, err := createScript.Run(ctx, s.client, nil,
		s.prefix, string(sess.PublicID), sess.DeletionSecret, string(sess.SenderConnID), string(raw), created,
	).Int64()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if n == 0 {
		return core.ErrDuplicate
	}
	return nil
}

func (s *Store) FindOpen(ctx context.Context, id domain.PublicID) (*domain.Session, error) {
	key := s.sessionKey(id)
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	membersCmd := pipe.SMembers(ctx, key+":receivers")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("find session: %w", err)
	}

	raw, err := getCmd.Result()
	if errors.Is(err, goredis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !rec.IsOpen {
		return nil, core.ErrNotFound
	}
	return rec.toDomain(membersCmd.Val()), nil
}

func (s *Store) AddReceiver(ctx context.Context, id domain.PublicID, conn domain.ConnID) error {
	n, err := addReceiverScript.Run(ctx, s.client, nil, s.prefix, string(id), string(conn)).Int64()
	if err != nil {
		return fmt.Errorf("add receiver: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBySender(ctx context.Context, conn domain.ConnID) ([]*domain.Session, error) {
	raws, err := deleteBySenderScript.Run(ctx, s.client, nil, s.prefix, string(conn)).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("delete by sender: %w", err)
	}
	return decodeAll(raws)
}

func (s *Store) DeleteBySecret(ctx context.Context, id domain.PublicID, secret string) (*domain.Session, error) {
	raw, err := deleteBySecretScript.Run(ctx, s.client, nil, s.prefix, string(id), secret).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete by secret: %w", err)
	}
	return decode(raw)
}

func (s *Store) PullReceiver(ctx context.Context, conn domain.ConnID) (int64, error) {
	n, err := pullReceiverScript.Run(ctx, s.client, nil, s.prefix, string(conn)).Int64()
	if err != nil {
		return 0, fmt.Errorf("pull receiver: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) ([]*domain.Session, error) {
	cutoff := strconv.FormatInt(before.UnixMilli(), 10)
	raws, err := deleteExpiredScript.Run(ctx, s.client, nil, s.prefix, cutoff).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	return decodeAll(raws)
}

func decode(raw string) (*domain.Session, error) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return rec.toDomain(nil), nil
}

func decodeAll(raws []string) ([]*domain.Session, error) {
	out := make([]*domain.Session, 0, len(raws))
	for _, raw := range raws {
		sess, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
