// Package websocket serves the framed byte stream over websocket
// connections. Every binary message carries a chunk of the stream; a
// frame may span messages.
package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/canbridge/pkg/framework"
	"github.com/robotalks/canbridge/pkg/transport"
)

// DefaultPath is where the endpoint is mounted.
const DefaultPath = "/ws"

// Handler returns the websocket handler creating one session per
// connection. Sessions end with the connection or ctx.
func Handler(ctx context.Context, opener transport.SessionOpener) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		name := "ws:" + conn.Request().RemoteAddr
		glog.Infof("websocket: %s connected", conn.Request().RemoteAddr)
		err := Serve(ctx, opener, name, conn)
		glog.Infof("websocket: %s disconnected: %v", conn.Request().RemoteAddr, err)
	})
}

// Serve runs a session on conn until it is closed or ctx is done.
func Serve(ctx context.Context, opener transport.SessionOpener, name string, conn *websocket.Conn) error {
	session := opener.NewSession("ws", name, func(frame []byte) {
		if err := websocket.Message.Send(conn, frame); err != nil {
			glog.V(1).Infof("%s: send failed: %v", name, err)
		}
	})
	defer session.Close()
	return framework.RunWithContextCloser(ctx, conn, func() error {
		for {
			var chunk []byte
			if err := websocket.Message.Receive(conn, &chunk); err != nil {
				return err
			}
			session.Codec.Process(chunk)
		}
	})
}

// Server serves Handler on Path.
type Server struct {
	Addr   string
	Path   string
	Opener transport.SessionOpener

	lock     sync.Mutex
	listener net.Listener
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "websocket"
}

// ListenAddr returns the listening address once Run has started.
func (s *Server) ListenAddr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	path := s.Path
	if path == "" {
		path = DefaultPath
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.listener = ln
	s.lock.Unlock()

	mux := http.NewServeMux()
	mux.Handle(path, Handler(ctx, s.Opener))
	srv := &http.Server{Handler: mux}
	glog.Infof("websocket: serving on %s%s", ln.Addr(), path)
	err = framework.RunWithContextCloser(ctx, srv, func() error {
		return srv.Serve(ln)
	})
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
