package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"keyrelay/internal/hub"
)

func TestPingPeriod(t *testing.T) {
	require.Equal(t, 54*time.Second, pingPeriod(60*time.Second))
	require.Equal(t, time.Millisecond, pingPeriod(time.Nanosecond))
	require.Equal(t, time.Millisecond, pingPeriod(0))
}

func TestReadQuietOnCancelledContext(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	// The manager is never run, so Unregister can only return ctx.Err().
	m := hub.NewManager(hub.Options{}, nil, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	var upgrader websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			close(done)
			return
		}
		p := &peer{
			conn:         conn,
			client:       hub.NewClient("c", 1),
			manager:      m,
			log:          log,
			maxMessage:   1024,
			writeTimeout: time.Second,
			pongTimeout:  time.Second,
		}
		p.read(ctx)
		close(done)
	}))
	defer ts.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("read did not return")
	}
	for _, e := range hook.AllEntries() {
		require.Greater(t, uint32(e.Level), uint32(logrus.WarnLevel), "unexpected %s entry: %s", e.Level, e.Message)
	}
}
