package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	h := New()
	empty, err := h.Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)

	batch, err := h.Hash([]byte("[]"))
	require.NoError(t, err)
	require.Len(t, batch, 64)
	require.NotEqual(t, empty, batch)
}
