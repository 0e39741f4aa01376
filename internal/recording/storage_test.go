package recording

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBackendWriteDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()

	loc, err := b.Write(ctx, "rec-1.webm", []byte("artifact"))
	require.NoError(t, err)
	assert.Equal(t, "/recordings/rec-1.webm", loc)

	data, err := afero.ReadFile(b.FS, loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)

	require.NoError(t, b.Delete(ctx, loc))

	// Deleting an already-gone artifact is not an error.
	assert.NoError(t, b.Delete(ctx, loc))
}
