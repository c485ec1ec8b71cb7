package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-broker/adapter"
)

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := NewRegistry(16, nil)

	id, err := r.Create(context.Background(), adapter.Config{Kind: adapter.KindSSE, URL: "http://127.0.0.1:0/sse"}, nil)
	// the SSE adapter's Start dials a closed port and fails; Create should
	// surface that error and must not register a session.
	require.Error(t, err)
	require.Empty(t, id)
	require.Equal(t, 0, r.Size())
	_, ok := r.Get(id)
	require.False(t, ok)

	require.NoError(t, r.Delete(context.Background(), "does-not-exist"))
}

func TestRegistry_DeleteIsIdempotent(t *testing.T) {
	r := NewRegistry(16, nil)
	require.NoError(t, r.Delete(context.Background(), "missing"))
	require.NoError(t, r.Delete(context.Background(), "missing"))
}
