package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Drop/internal/adapters/store/storetest"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.SessionStore { return New() })
}

func TestConcurrentAddReceiverNoDuplicates(t *testing.T) {
	st := New()
	ctx := context.Background()
	sess := domain.NewSession("pub", "secret", "sender", []domain.Item{{Name: "a", Size: 1}}, time.Now())
	require.NoError(t, st.Create(ctx, sess))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.AddReceiver(ctx, "pub", "r1")
		}()
	}
	wg.Wait()

	got, ok := st.Get("pub")
	require.True(t, ok)
	assert.Equal(t, []domain.ConnID{"r1"}, got.ReceiverConnIDs)
}

func TestFindOpenReturnsCopy(t *testing.T) {
	st := New()
	ctx := context.Background()
	sess := domain.NewSession("pub", "secret", "sender", []domain.Item{{Name: "a", Size: 1}}, time.Now())
	require.NoError(t, st.Create(ctx, sess))

	got, err := st.FindOpen(ctx, "pub")
	require.NoError(t, err)
	got.Items[0].Name = "mutated"
	got.ReceiverConnIDs = append(got.ReceiverConnIDs, "intruder")

	again, err := st.FindOpen(ctx, "pub")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Items[0].Name)
	assert.Empty(t, again.ReceiverConnIDs)
}
