package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamableAdapter_Start_OpensBackgroundStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeaderName) == "" {
			w.Header().Set(sessionHeaderName, "sess-1")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}))
	defer srv.Close()

	events := make(chan Event, 8)
	a := newStreamableAdapter(Config{URL: srv.URL}, nil, events, nil)

	err := a.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateRunning, a.State())
}

func TestStreamableAdapter_Start_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	events := make(chan Event, 8)
	a := newStreamableAdapter(Config{URL: srv.URL}, nil, events, nil)

	err := a.Start(context.Background())
	require.Error(t, err)
	require.True(t, IsUnauthorized(err))
	require.Equal(t, StateFailed, a.State())
}

// TestStreamableAdapter_BackgroundStreamDeath_EmitsTransportError exercises
// the long-lived GET stream opened by Start dying after the connect
// handshake succeeds: the server answers the probe normally, then abruptly
// ends the persistent stream response. The adapter must surface exactly one
// transport_error event and flip to StateFailed (§4.1, §8 Invariant 4).
func TestStreamableAdapter_BackgroundStreamDeath_EmitsTransportError(t *testing.T) {
	streamOpened := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeaderName) == "" {
			w.Header().Set(sessionHeaderName, "sess-1")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		streamOpened <- struct{}{}
		// handler returns immediately: the server closes the connection,
		// simulating an upstream dying mid-stream.
	}))
	defer srv.Close()

	events := make(chan Event, 8)
	a := newStreamableAdapter(Config{URL: srv.URL}, nil, events, nil)

	require.NoError(t, a.Start(context.Background()))

	select {
	case <-streamOpened:
	case <-time.After(2 * time.Second):
		t.Fatal("background stream was never opened")
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Kind == EventFetchTrace {
				continue // traces of the probe and stream GETs precede the death
			}
			require.Equal(t, EventTransportError, evt.Kind)
			require.NotEmpty(t, evt.ErrorText)
		case <-timeout:
			t.Fatal("transport_error was never emitted")
		}
		break
	}

	require.Equal(t, StateFailed, a.State())
}

func TestStreamableAdapter_Send_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("denied"))
	}))
	defer srv.Close()

	events := make(chan Event, 8)
	a := newStreamableAdapter(Config{URL: srv.URL}, nil, events, nil)

	err := a.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), SendOptions{})
	require.Error(t, err)
	require.True(t, IsUnauthorized(err))
}

func TestStreamableAdapter_Close_SuppressesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeaderName) == "" {
			w.Header().Set(sessionHeaderName, "sess-1")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}))
	defer srv.Close()

	events := make(chan Event, 8)
	a := newStreamableAdapter(Config{URL: srv.URL}, nil, events, nil)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.Close(context.Background()))

	a.reportTransportDeath("late failure after close", 0)

	timeout := time.After(200 * time.Millisecond)
wait:
	for {
		select {
		case evt := <-events:
			if evt.Kind == EventFetchTrace {
				continue // request traces (probe GET, Close's DELETE) are expected
			}
			t.Fatalf("unexpected event after Close: %+v", evt)
		case <-timeout:
			break wait
		}
	}
	require.Equal(t, StateClosedOK, a.State())
}
