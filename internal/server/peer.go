// peer.go
// The read goroutine feeds frames from the browser into the hub.
// The write goroutine drains the client's outbound queue back to the browser
// and pings at 9/10 of the pong timeout, so a healthy browser's pong always
// lands before the read deadline expires.

package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"keyrelay/internal/hub"
)

type peer struct {
	conn    *websocket.Conn
	client  *hub.Client
	manager *hub.Manager
	log     logrus.FieldLogger

	maxMessage   int64
	writeTimeout time.Duration
	pongTimeout  time.Duration
}

func (p *peer) read(ctx context.Context) {
	defer func() {
		if err := p.manager.Unregister(ctx, p.client); err != nil && !errors.Is(err, hub.ErrClosed) && !errors.Is(err, context.Canceled) {
			p.log.WithError(err).Warn("unregister")
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(p.maxMessage)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.WithError(err).Debug("connection lost")
			}
			return
		}
		if err := p.manager.Handle(ctx, p.client, message); err != nil {
			if errors.Is(err, hub.ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			p.log.WithError(err).Debug("frame ignored")
		}
	}
}

func (p *peer) write() {
	ping := time.NewTicker(pingPeriod(p.pongTimeout))
	defer func() {
		ping.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.client.Outbound():
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.log.WithError(err).Debug("write failed")
				return
			}
		case <-ping.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pingPeriod is 9/10 of the pong timeout, never below a millisecond.
func pingPeriod(pongTimeout time.Duration) time.Duration {
	if d := pongTimeout * 9 / 10; d >= time.Millisecond {
		return d
	}
	return time.Millisecond
}
