package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObject_StoresCopyAndReturnsURI(t *testing.T) {
	t.Parallel()

	store := New()
	data := []byte("<html>ok</html>")
	uri, err := store.PutObject(context.Background(), "pages/a.html", "text/html", data)
	require.NoError(t, err)
	require.Equal(t, "mem://pages/a.html", uri)

	// Mutating the caller's slice must not affect the stored object.
	data[0] = 'X'
	stored, ok := store.Get("pages/a.html")
	require.True(t, ok)
	require.Equal(t, "<html>ok</html>", string(stored))
	require.Equal(t, 1, store.Len())
}

func TestPutObject_RequiresPath(t *testing.T) {
	t.Parallel()

	store := New()
	_, err := store.PutObject(context.Background(), "", "text/html", []byte("x"))
	require.Error(t, err)

	_, ok := store.Get("missing")
	require.False(t, ok)
}
