package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionServer runs one accepted game-session websocket to completion.
type SessionServer interface {
	ServeSession(ctx context.Context, ws *websocket.Conn) error
}

// Server is the HTTP front door the game-session driver connects to.
type Server struct {
	addr       string
	path       string
	upgrader   websocket.Upgrader
	sessions   SessionServer
	log        *zap.SugaredLogger
	httpServer *http.Server
	baseCtx    context.Context
	cancel     context.CancelFunc
}

func NewServer(addr, path string, sessions SessionServer, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:     addr,
		path:     path,
		sessions: sessions,
		log:      log,
		baseCtx:  ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the driver is a local process, not a browser
			},
		},
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

// Handler routes the session endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.log.Infof("Session endpoint listening on %s%s", listener.Addr(), s.path)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting sessions and cancels the ones still running.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	if err := s.sessions.ServeSession(s.baseCtx, conn); err != nil {
		s.log.Warnw("game session ended with error", "remote", conn.RemoteAddr().String(), "error", err)
	}
}
