package app

import (
	"testing"

	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/core/coretest"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindN(t *testing.T, r *Registry, ids ...domain.ConnID) map[domain.ConnID]*coretest.RecordingConn {
	t.Helper()
	out := make(map[domain.ConnID]*coretest.RecordingConn, len(ids))
	for _, id := range ids {
		c := coretest.NewRecordingConn()
		r.Bind(id, c, nil)
		out[id] = c
	}
	return out
}

func TestRegistry_SubscribeAndMembers(t *testing.T) {
	r := NewRegistry()
	bindN(t, r, "a", "b", "c")

	require.True(t, r.Subscribe("g1", "a"))
	require.True(t, r.Subscribe("g1", "b"))
	require.True(t, r.Subscribe("g1", "b"))
	require.True(t, r.Subscribe("g2", "c"))

	assert.Equal(t, []domain.ConnID{"a", "b"}, r.Members("g1"))
	assert.Equal(t, []domain.ConnID{"c"}, r.Members("g2"))
	assert.Empty(t, r.Members("missing"))
}

func TestRegistry_SubscribeUnboundConnection(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Subscribe("g1", "ghost"))
	assert.Empty(t, r.Members("g1"))
}

func TestRegistry_UnbindLeavesAllGroups(t *testing.T) {
	r := NewRegistry()
	bindN(t, r, "a", "b")
	r.Subscribe("g1", "a")
	r.Subscribe("g2", "a")
	r.Subscribe("g2", "b")

	groups, ok := r.Unbind("a")
	assert.True(t, ok)
	assert.Equal(t, []domain.PublicID{"g1", "g2"}, groups)
	assert.Empty(t, r.Members("g1"))
	assert.Equal(t, []domain.ConnID{"b"}, r.Members("g2"))
	assert.Equal(t, 1, r.Len())

	groups, ok = r.Unbind("a")
	assert.False(t, ok)
	assert.Nil(t, groups)
}

func TestRegistry_Broadcast(t *testing.T) {
	r := NewRegistry()
	conns := bindN(t, r, "a", "b", "c", "outsider")
	r.Subscribe("g", "a")
	r.Subscribe("g", "b")
	r.Subscribe("g", "c")
	conns["c"].SetFull(true)

	res := r.Broadcast("g", "a", core.Frame(`{"type":"x"}`))

	assert.Equal(t, 1, res.SendTo)
	assert.Equal(t, []domain.ConnID{"c"}, res.Dropped)
	assert.Empty(t, conns["a"].Events())
	assert.Len(t, conns["b"].Events(), 1)
	assert.Empty(t, conns["outsider"].Events())
}

func TestRegistry_BroadcastAll(t *testing.T) {
	r := NewRegistry()
	conns := bindN(t, r, "a", "b", "c")

	res := r.BroadcastAll("b", core.Frame(`{"type":"x"}`))

	assert.Equal(t, 2, res.SendTo)
	assert.Len(t, conns["a"].Events(), 1)
	assert.Empty(t, conns["b"].Events())
	assert.Len(t, conns["c"].Events(), 1)
}

func TestRegistry_DropGroup(t *testing.T) {
	r := NewRegistry()
	bindN(t, r, "a", "b")
	r.Subscribe("g", "a")
	r.Subscribe("g", "b")

	assert.Equal(t, []domain.ConnID{"a", "b"}, r.DropGroup("g"))
	assert.Empty(t, r.Members("g"))
	groups, ok := r.Unbind("a")
	assert.True(t, ok)
	assert.Empty(t, groups)
}

func TestRegistry_SendUnknown(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Send("ghost", core.Frame("{}")), ErrUnknownConn)
}

func TestRegistry_Cancel(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Bind("a", coretest.NewRecordingConn(), func() { called = true })

	assert.True(t, r.Cancel("a"))
	assert.True(t, called)
	assert.False(t, r.Cancel("ghost"))
}
