package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Drop/internal/adapters/store/memory"
	"github.com/dkeye/Drop/internal/app"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/core/coretest"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var oneItem = []domain.Item{{Name: "a.txt", Size: 10, MimeType: "text/plain"}}

type fixture struct {
	t     *testing.T
	o     *Orchestrator
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	o := New(st, app.NewRegistry(), app.SimplePolicy{}, DefaultConfig())
	return &fixture{t: t, o: o, store: st}
}

func (f *fixture) connect(id domain.ConnID) *coretest.RecordingConn {
	c := coretest.NewRecordingConn()
	f.o.Connect(id, c, nil)
	return c
}

func (f *fixture) create(sender domain.ConnID) *domain.Session {
	f.t.Helper()
	sess, err := f.o.Create(context.Background(), sender, oneItem)
	require.NoError(f.t, err)
	return sess
}

func (f *fixture) join(conn domain.ConnID, id domain.PublicID) []domain.ConnID {
	f.t.Helper()
	peers, err := f.o.Join(context.Background(), conn, id)
	require.NoError(f.t, err)
	return peers
}

func peerEvents(c *coretest.RecordingConn, typ string, peer domain.ConnID) int {
	n := 0
	for _, ev := range c.EventsOfType(typ) {
		if ev["peerId"] == string(peer) {
			n++
		}
	}
	return n
}

func inAlphabet(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune(domain.Alphabet, c) {
			return false
		}
	}
	return true
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	sender := f.connect("sender")
	other := f.connect("other")

	sess := f.create("sender")

	assert.Len(t, string(sess.PublicID), 10)
	assert.Len(t, sess.DeletionSecret, 32)
	assert.True(t, inAlphabet(string(sess.PublicID)))
	assert.True(t, inAlphabet(sess.DeletionSecret))

	stored, ok := f.store.Get(sess.PublicID)
	require.True(t, ok)
	assert.True(t, stored.IsOpen)
	assert.Equal(t, domain.ConnID("sender"), stored.SenderConnID)
	assert.Empty(t, stored.ReceiverConnIDs)

	assert.Equal(t, []domain.ConnID{"sender"}, f.o.Registry.Members(sess.PublicID))

	created := sender.EventsOfType(core.EvCreated)
	require.Len(t, created, 1)
	assert.Equal(t, string(sess.PublicID), created[0]["publicId"])
	assert.Equal(t, sess.DeletionSecret, created[0]["deletionSecret"])
	assert.Empty(t, other.Events())

	second := f.create("sender")
	assert.NotEqual(t, sess.PublicID, second.PublicID)
	assert.NotEqual(t, sess.DeletionSecret, second.DeletionSecret)
}

func TestCreate_InvalidItems(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.Item
	}{
		{name: "empty", items: []domain.Item{}},
		{name: "nil", items: nil},
		{name: "nameless", items: []domain.Item{{Size: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sender := f.connect("sender")

			_, err := f.o.Create(context.Background(), "sender", tt.items)
			require.Error(t, err)
			assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
			assert.Zero(t, f.store.Len())
			assert.Empty(t, sender.Events())
		})
	}
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	f.connect("b")

	calls := 0
	f.o.Generate = func(n int) (string, error) {
		calls++
		// The first two sessions draw the same public id.
		if calls <= 4 {
			return strings.Repeat("x", n-1) + fmt.Sprint(calls%2), nil
		}
		return strings.Repeat("y", n-2) + fmt.Sprintf("%02d", calls), nil
	}

	first := f.create("a")
	second := f.create("b")
	assert.NotEqual(t, first.PublicID, second.PublicID)
	assert.Equal(t, 2, f.store.Len())
}

func TestCreate_ExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	f.connect("b")
	f.o.Generate = func(n int) (string, error) { return strings.Repeat("z", n), nil }

	f.create("a")
	_, err := f.o.Create(context.Background(), "b", oneItem)
	require.Error(t, err)
	assert.Equal(t, domain.KindResourceExhausted, domain.KindOf(err))
	assert.Equal(t, 1, f.store.Len())
}

func TestCreate_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.connect("a")
	f.o.Store = &failingStore{SessionStore: f.store, err: errors.New("db down")}

	_, err := f.o.Create(context.Background(), "a", oneItem)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Equal(t, "internal error", domain.PublicMessage(err))
}

func TestJoin_UnknownSession(t *testing.T) {
	f := newFixture(t)
	joiner := f.connect("r1")

	_, err := f.o.Join(context.Background(), "r1", "nope")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Empty(t, f.o.Registry.Members("nope"))
	assert.Empty(t, joiner.Events())

	_, err = f.o.Join(context.Background(), "r1", "")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestJoin_AfterSenderLeftLooksLikeUnknown(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	f.connect("r1")
	sess := f.create("sender")

	f.o.OnDisconnect(context.Background(), "sender")

	_, gone := f.o.Join(context.Background(), "r1", sess.PublicID)
	_, never := f.o.Join(context.Background(), "r1", "never-created")
	require.Error(t, gone)
	require.Error(t, never)
	assert.Equal(t, domain.KindOf(never), domain.KindOf(gone))
	assert.Equal(t, domain.PublicMessage(never), domain.PublicMessage(gone))
}

func TestJoin_PeersAndNotifications(t *testing.T) {
	f := newFixture(t)
	sender := f.connect("sender")
	r1 := f.connect("r1")
	r2 := f.connect("r2")
	bystander := f.connect("bystander")
	sess := f.create("sender")

	peers1 := f.join("r1", sess.PublicID)
	assert.Equal(t, []domain.ConnID{"sender"}, peers1)

	peers2 := f.join("r2", sess.PublicID)
	assert.ElementsMatch(t, []domain.ConnID{"sender", "r1"}, peers2)

	assert.Equal(t, 1, peerEvents(sender, core.EvNewPeerJoined, "r2"))
	assert.Equal(t, 1, peerEvents(r1, core.EvNewPeerJoined, "r2"))
	assert.Equal(t, 0, peerEvents(r2, core.EvNewPeerJoined, "r2"))
	assert.Empty(t, bystander.Events())

	success := r2.EventsOfType(core.EvJoinSuccess)
	require.Len(t, success, 1)
	assert.Equal(t, "r2", success[0]["selfId"])
	assert.ElementsMatch(t, []any{"sender", "r1"}, success[0]["peerConnectionIds"])
	items, err := json.Marshal(success[0]["items"])
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"a.txt","size":10,"mimeType":"text/plain"}]`, string(items))

	stored, ok := f.store.Get(sess.PublicID)
	require.True(t, ok)
	assert.ElementsMatch(t, []domain.ConnID{"r1", "r2"}, stored.ReceiverConnIDs)
}

func TestJoin_TwiceKeepsReceiversUnique(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	f.connect("r1")
	sess := f.create("sender")

	f.join("r1", sess.PublicID)
	peers := f.join("r1", sess.PublicID)
	assert.Equal(t, []domain.ConnID{"sender"}, peers)

	stored, ok := f.store.Get(sess.PublicID)
	require.True(t, ok)
	assert.Equal(t, []domain.ConnID{"r1"}, stored.ReceiverConnIDs)
}

func TestDisconnect_Sender(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	r1 := f.connect("r1")
	r2 := f.connect("r2")
	f.connect("other-sender")
	r3 := f.connect("r3")

	sess := f.create("sender")
	other := f.create("other-sender")
	f.join("r1", sess.PublicID)
	f.join("r2", sess.PublicID)
	f.join("r3", other.PublicID)

	f.o.OnDisconnect(context.Background(), "sender")

	_, ok := f.store.Get(sess.PublicID)
	assert.False(t, ok)
	_, ok = f.store.Get(other.PublicID)
	assert.True(t, ok)

	assert.Len(t, r1.EventsOfType(core.EvSessionClosed), 1)
	assert.Len(t, r2.EventsOfType(core.EvSessionClosed), 1)
	assert.Empty(t, r3.EventsOfType(core.EvSessionClosed))
	assert.Empty(t, r1.EventsOfType(core.EvPeerLeft))
	assert.Empty(t, f.o.Registry.Members(sess.PublicID))

	_, err := f.o.Join(context.Background(), "r3", sess.PublicID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestDisconnect_SenderOfSeveralSessions(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	r1 := f.connect("r1")
	a := f.create("sender")
	b := f.create("sender")
	f.join("r1", a.PublicID)
	f.join("r1", b.PublicID)

	f.o.OnDisconnect(context.Background(), "sender")

	assert.Zero(t, f.store.Len())
	assert.Len(t, r1.EventsOfType(core.EvSessionClosed), 2)
}

func TestDisconnect_Receiver(t *testing.T) {
	f := newFixture(t)
	sender := f.connect("sender")
	f.connect("sender2")
	f.connect("r1")
	r2 := f.connect("r2")
	unrelated := f.connect("unrelated")

	s1 := f.create("sender")
	s2 := f.create("sender2")
	f.join("r1", s1.PublicID)
	f.join("r2", s1.PublicID)
	f.join("r1", s2.PublicID)

	f.o.OnDisconnect(context.Background(), "r1")

	got1, ok := f.store.Get(s1.PublicID)
	require.True(t, ok)
	assert.Equal(t, []domain.ConnID{"r2"}, got1.ReceiverConnIDs)
	got2, ok := f.store.Get(s2.PublicID)
	require.True(t, ok)
	assert.Empty(t, got2.ReceiverConnIDs)

	assert.Equal(t, 1, peerEvents(sender, core.EvPeerLeft, "r1"))
	assert.Equal(t, 1, peerEvents(r2, core.EvPeerLeft, "r1"))
	assert.Equal(t, 1, peerEvents(unrelated, core.EvPeerLeft, "r1"))
	assert.Empty(t, r2.EventsOfType(core.EvSessionClosed))
	assert.Equal(t, []domain.ConnID{"r2", "sender"}, f.o.Registry.Members(s1.PublicID))
}

func TestDisconnect_StoreFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	r1 := f.connect("r1")
	sess := f.create("sender")
	f.join("r1", sess.PublicID)

	f.o.Store = &failingStore{SessionStore: f.store, err: errors.New("db down")}
	assert.NotPanics(t, func() { f.o.OnDisconnect(context.Background(), "sender") })
	assert.Empty(t, r1.EventsOfType(core.EvSessionClosed))
	assert.Equal(t, 1, f.o.Registry.Len())
}

func TestRelay(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")
	c := f.connect("c")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	ok := f.o.Relay("a", RelayOffer, core.RelayRequest{TargetID: "b", Offer: offer})
	require.True(t, ok)

	got := b.EventsOfType(core.EvOfferReceived)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0]["fromId"])
	raw, err := json.Marshal(got[0]["offer"])
	require.NoError(t, err)
	assert.JSONEq(t, string(offer), string(raw))
	assert.Empty(t, a.Events())
	assert.Empty(t, c.Events())

	require.True(t, f.o.Relay("b", RelayAnswer, core.RelayRequest{TargetID: "a", Answer: json.RawMessage(`"sdp"`)}))
	require.True(t, f.o.Relay("b", RelayCandidate, core.RelayRequest{TargetID: "a", Candidate: json.RawMessage(`{"candidate":"c"}`)}))
	assert.Len(t, a.EventsOfType(core.EvAnswerReceived), 1)
	assert.Len(t, a.EventsOfType(core.EvCandidateReceived), 1)
}

func TestRelay_DroppedSilently(t *testing.T) {
	f := newFixture(t)
	a := f.connect("a")
	b := f.connect("b")

	assert.False(t, f.o.Relay("a", RelayOffer, core.RelayRequest{Offer: json.RawMessage(`{}`)}))
	assert.False(t, f.o.Relay("a", RelayOffer, core.RelayRequest{TargetID: "ghost", Offer: json.RawMessage(`{}`)}))
	assert.False(t, f.o.Relay("a", RelayKind("bogus"), core.RelayRequest{TargetID: "b"}))

	assert.Empty(t, a.Events())
	assert.Empty(t, b.Events())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	sender := f.connect("sender")
	r1 := f.connect("r1")
	sess := f.create("sender")
	f.join("r1", sess.PublicID)

	err := f.o.Cancel(context.Background(), "sender", sess.PublicID, "wrong")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	_, ok := f.store.Get(sess.PublicID)
	require.True(t, ok)

	require.NoError(t, f.o.Cancel(context.Background(), "sender", sess.PublicID, sess.DeletionSecret))

	_, ok = f.store.Get(sess.PublicID)
	assert.False(t, ok)
	closed := r1.EventsOfType(core.EvSessionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonCancel, closed[0]["reason"])
	assert.Len(t, sender.EventsOfType(core.EvCancelled), 1)
	assert.Empty(t, sender.EventsOfType(core.EvSessionClosed))

	err = f.o.Cancel(context.Background(), "", sess.PublicID, sess.DeletionSecret)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	r1 := f.connect("r1")

	base := time.Now()
	f.o.Now = func() time.Time { return base }
	old := f.create("sender")
	f.join("r1", old.PublicID)

	f.o.Now = func() time.Time { return base.Add(f.o.Config.SessionTTL + time.Minute) }
	fresh := f.create("sender")

	n, err := f.o.Expire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := f.store.Get(old.PublicID)
	assert.False(t, ok)
	_, ok = f.store.Get(fresh.PublicID)
	assert.True(t, ok)
	closed := r1.EventsOfType(core.EvSessionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonExpired, closed[0]["reason"])
}

func TestExpire_Disabled(t *testing.T) {
	f := newFixture(t)
	f.o.Config.SessionTTL = 0
	n, err := f.o.Expire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackpressureDisconnectsSlowPeer(t *testing.T) {
	f := newFixture(t)
	f.connect("sender")
	slow := coretest.NewRecordingConn()
	cancelled := false
	f.o.Connect("slow", slow, func() { cancelled = true })
	f.connect("r2")
	sess := f.create("sender")
	f.join("slow", sess.PublicID)

	slow.SetFull(true)
	f.join("r2", sess.PublicID)

	assert.True(t, cancelled)
}

type failingStore struct {
	core.SessionStore
	err error
}

func (s *failingStore) Create(context.Context, *domain.Session) error { return s.err }

func (s *failingStore) DeleteBySender(context.Context, domain.ConnID) ([]*domain.Session, error) {
	return nil, s.err
}

func (s *failingStore) PullReceiver(context.Context, domain.ConnID) (int64, error) {
	return 0, s.err
}
