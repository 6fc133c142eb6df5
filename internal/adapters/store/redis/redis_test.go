package redis

import (
	"context"
	"os"
	"testing"

	"github.com/dkeye/Drop/internal/adapters/store/storetest"
	"github.com/dkeye/Drop/internal/core"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	url := os.Getenv("DROP_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DROP_TEST_REDIS_URL not set")
	}

	st, err := Open(context.Background(), Config{URL: url, Prefix: "drop-test:", ConnectRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	storetest.Run(t, func(t *testing.T) core.SessionStore { return st })
}
