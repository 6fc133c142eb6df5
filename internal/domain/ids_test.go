package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{name: "public id", length: 10},
		{name: "deletion secret", length: 32},
		{name: "single char", length: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RandomString(tt.length)
			require.NoError(t, err)
			assert.Len(t, got, tt.length)
			for _, c := range got {
				assert.True(t, strings.ContainsRune(Alphabet, c), "unexpected char %q", c)
			}
		})
	}
}

func TestRandomString_InvalidLength(t *testing.T) {
	_, err := RandomString(0)
	assert.Error(t, err)
}

func TestNewPublicID_Distinct(t *testing.T) {
	seen := make(map[PublicID]struct{})
	for range 1000 {
		id, err := NewPublicID(10)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
