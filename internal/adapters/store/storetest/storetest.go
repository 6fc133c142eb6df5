// Package storetest is the behavioural contract every core.SessionStore
// implementation must pass.
package storetest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh store. Stores may be shared between calls as
// long as ids never collide; every fixture uses random ids.
type Factory func(t *testing.T) core.SessionStore

func randID(t *testing.T) string {
	t.Helper()
	s, err := domain.RandomString(12)
	require.NoError(t, err)
	return s
}

func newSession(t *testing.T, sender domain.ConnID) *domain.Session {
	t.Helper()
	items := []domain.Item{
		{Name: "a.txt", Size: 10, MimeType: "text/plain"},
		{Name: "b.png", Size: 2048, MimeType: "image/png"},
	}
	return domain.NewSession(domain.PublicID(randID(t)), randID(t)+randID(t), sender, items, time.Now().UTC().Truncate(time.Millisecond))
}

func conn(t *testing.T) domain.ConnID {
	return domain.ConnID("conn-" + randID(t))
}

func sortedConns(ids []domain.ConnID) []domain.ConnID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// Run executes the full contract against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		st := factory(t)
		sess := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, sess))

		got, err := st.FindOpen(ctx, sess.PublicID)
		require.NoError(t, err)
		assert.Equal(t, sess.PublicID, got.PublicID)
		assert.Equal(t, sess.SenderConnID, got.SenderConnID)
		assert.Equal(t, sess.DeletionSecret, got.DeletionSecret)
		assert.Equal(t, sess.Items, got.Items)
		assert.True(t, got.IsOpen)
		assert.Empty(t, got.ReceiverConnIDs)
		assert.WithinDuration(t, sess.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("duplicate public id", func(t *testing.T) {
		st := factory(t)
		first := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, first))

		second := newSession(t, conn(t))
		second.PublicID = first.PublicID
		assert.ErrorIs(t, st.Create(ctx, second), core.ErrDuplicate)
	})

	t.Run("duplicate deletion secret", func(t *testing.T) {
		st := factory(t)
		first := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, first))

		second := newSession(t, conn(t))
		second.DeletionSecret = first.DeletionSecret
		assert.ErrorIs(t, st.Create(ctx, second), core.ErrDuplicate)

		_, err := st.FindOpen(ctx, second.PublicID)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("find missing", func(t *testing.T) {
		st := factory(t)
		_, err := st.FindOpen(ctx, domain.PublicID(randID(t)))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("add receiver is idempotent", func(t *testing.T) {
		st := factory(t)
		sess := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, sess))

		r1, r2 := conn(t), conn(t)
		require.NoError(t, st.AddReceiver(ctx, sess.PublicID, r1))
		require.NoError(t, st.AddReceiver(ctx, sess.PublicID, r1))
		require.NoError(t, st.AddReceiver(ctx, sess.PublicID, r2))

		got, err := st.FindOpen(ctx, sess.PublicID)
		require.NoError(t, err)
		assert.Equal(t, sortedConns([]domain.ConnID{r1, r2}), sortedConns(got.ReceiverConnIDs))
	})

	t.Run("add receiver to missing session", func(t *testing.T) {
		st := factory(t)
		err := st.AddReceiver(ctx, domain.PublicID(randID(t)), conn(t))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("delete by sender", func(t *testing.T) {
		st := factory(t)
		sender := conn(t)
		a := newSession(t, sender)
		b := newSession(t, sender)
		other := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, a))
		require.NoError(t, st.Create(ctx, b))
		require.NoError(t, st.Create(ctx, other))
		require.NoError(t, st.AddReceiver(ctx, a.PublicID, conn(t)))

		deleted, err := st.DeleteBySender(ctx, sender)
		require.NoError(t, err)
		ids := make([]domain.PublicID, 0, len(deleted))
		for _, s := range deleted {
			ids = append(ids, s.PublicID)
		}
		assert.ElementsMatch(t, []domain.PublicID{a.PublicID, b.PublicID}, ids)

		_, err = st.FindOpen(ctx, a.PublicID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = st.FindOpen(ctx, b.PublicID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = st.FindOpen(ctx, other.PublicID)
		assert.NoError(t, err)

		err = st.AddReceiver(ctx, a.PublicID, conn(t))
		assert.ErrorIs(t, err, core.ErrNotFound)

		again, err := st.DeleteBySender(ctx, sender)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("delete by secret", func(t *testing.T) {
		st := factory(t)
		sess := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, sess))

		_, err := st.DeleteBySecret(ctx, sess.PublicID, "wrong")
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = st.FindOpen(ctx, sess.PublicID)
		require.NoError(t, err)

		got, err := st.DeleteBySecret(ctx, sess.PublicID, sess.DeletionSecret)
		require.NoError(t, err)
		assert.Equal(t, sess.PublicID, got.PublicID)

		_, err = st.FindOpen(ctx, sess.PublicID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = st.DeleteBySecret(ctx, sess.PublicID, sess.DeletionSecret)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("pull receiver from every session", func(t *testing.T) {
		st := factory(t)
		a := newSession(t, conn(t))
		b := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, a))
		require.NoError(t, st.Create(ctx, b))

		leaving, staying := conn(t), conn(t)
		require.NoError(t, st.AddReceiver(ctx, a.PublicID, leaving))
		require.NoError(t, st.AddReceiver(ctx, a.PublicID, staying))
		require.NoError(t, st.AddReceiver(ctx, b.PublicID, leaving))

		n, err := st.PullReceiver(ctx, leaving)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		got, err := st.FindOpen(ctx, a.PublicID)
		require.NoError(t, err)
		assert.Equal(t, []domain.ConnID{staying}, got.ReceiverConnIDs)
		got, err = st.FindOpen(ctx, b.PublicID)
		require.NoError(t, err)
		assert.Empty(t, got.ReceiverConnIDs)

		n, err = st.PullReceiver(ctx, leaving)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})

	t.Run("delete expired", func(t *testing.T) {
		st := factory(t)
		old := newSession(t, conn(t))
		old.CreatedAt = time.Now().Add(-48 * time.Hour).UTC().Truncate(time.Millisecond)
		fresh := newSession(t, conn(t))
		require.NoError(t, st.Create(ctx, old))
		require.NoError(t, st.Create(ctx, fresh))

		deleted, err := st.DeleteExpired(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		ids := make([]domain.PublicID, 0, len(deleted))
		for _, s := range deleted {
			ids = append(ids, s.PublicID)
		}
		assert.Contains(t, ids, old.PublicID)
		assert.NotContains(t, ids, fresh.PublicID)

		_, err = st.FindOpen(ctx, old.PublicID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = st.FindOpen(ctx, fresh.PublicID)
		assert.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		st := factory(t)
		assert.NoError(t, st.Ping(ctx))
	})
}
