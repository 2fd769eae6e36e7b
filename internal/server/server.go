// Package server exposes the hub over WebSocket and serves health and
// metrics endpoints next to it.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"keyrelay/internal/config"
	"keyrelay/internal/hub"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      config.Server
	manager  *hub.Manager
	auth     *Authenticator
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	// base is the context handed to connection goroutines; request contexts
	// end when the upgrade handler returns.
	base context.Context
}

// New builds a server for cfg. A nil gatherer disables the metrics endpoint.
func New(cfg *config.Config, manager *hub.Manager, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	s := &Server{
		cfg:      cfg.Server,
		manager:  manager,
		gatherer: gatherer,
		log:      log,
		base:     context.Background(),
	}
	if cfg.Auth.AccessTokenSecret != "" {
		s.auth = NewAuthenticator(cfg.Auth.AccessTokenSecret, cfg.Auth.CookieName)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// checkOrigin admits every origin when none are configured, and requests
// without an Origin header (non-browser clients).
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.SocketPath, s.wsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	var user hub.UserID
	if s.auth != nil {
		var err error
		if user, err = s.auth.Authenticate(r); err != nil {
			s.log.WithError(err).WithField("remote", r.RemoteAddr).Info("upgrade refused")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status.
		s.log.WithError(err).Debug("upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), s.cfg.SendBuffer)
	if user != "" {
		client.Bind(user)
	}
	if err := s.manager.Register(s.base, client); err != nil {
		conn.Close()
		return
	}

	p := &peer{
		conn:         conn,
		client:       client,
		manager:      s.manager,
		log:          s.log.WithField("conn", client.ID()),
		maxMessage:   s.cfg.MaxMessageBytes,
		writeTimeout: s.cfg.WriteTimeout.Duration,
		pongTimeout:  s.cfg.PongTimeout.Duration,
	}
	go p.read(s.base)
	go p.write()
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("address", s.cfg.Address).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
