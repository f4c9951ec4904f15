// Package tcp implements the local TCP endpoint and the hub client.
package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/transport"
)

// Server accepts local TCP connections, one session each.
type Server struct {
	Addr   string
	Opener transport.SessionOpener

	lock     sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, opener transport.SessionOpener) *Server {
	return &Server{Addr: addr, Opener: opener, ready: make(chan struct{})}
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "tcp"
}

// ListenAddr waits until the server is listening and returns the address.
func (s *Server) ListenAddr(ctx context.Context) (net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ready:
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.listener.Addr(), nil
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.listener = ln
	s.lock.Unlock()
	if s.ready != nil {
		close(s.ready)
	}
	glog.Infof("tcp: listening on %s", ln.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			name := "tcp:" + conn.RemoteAddr().String()
			glog.Infof("tcp: %s connected", conn.RemoteAddr())
			err := transport.ServeStream(ctx, s.Opener, "tcp", name, conn, transport.StreamOptions{})
			glog.Infof("tcp: %s disconnected: %v", conn.RemoteAddr(), err)
		}(conn)
	}
}
