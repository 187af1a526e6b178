package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)

	_, err = uuid.Parse(a.ID)
	assert.NoError(t, err)
	assert.Len(t, a.Key, KeyDigits)
	for _, c := range a.Key {
		assert.True(t, c >= '0' && c <= '9', "key %q", a.Key)
	}

	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
