package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/marmos91/dittohdfs/internal/logger"
)

// Handler serves one accepted connection. The connection is closed by the
// server once ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

type Server struct {
	name     string
	handler  Handler
	listener net.Listener

	mu      sync.Mutex
	conns   map[*conn]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New creates a server that dispatches connections to handler. name is used in
// log messages only.
func New(name string, handler Handler) *Server {
	return &Server{
		name:    name,
		handler: handler,
		conns:   make(map[*conn]struct{}),
	}
}

// Listen binds the listener so the address is known before Serve runs.
// Use "127.0.0.1:0" for an ephemeral port.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	logger.Debug("%s listening on %s", s.name, listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() *net.TCPAddr {
	if s.listener == nil {
		return nil
	}
	addr, _ := s.listener.Addr().(*net.TCPAddr)
	return addr
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Debug("%s: error accepting connection: %v", s.name, err)
			continue
		}

		c, ok := s.track(tcpConn)
		if !ok {
			tcpConn.Close()
			return nil
		}
		go c.serve(ctx)
	}
}

func (s *Server) track(tcpConn net.Conn) (*conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	c := &conn{server: s, conn: tcpConn}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return c, true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// CloseConnections closes every open connection without stopping the
// listener and returns how many were closed.
func (s *Server) CloseConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.conn.Close()
	}
	return len(s.conns)
}

// Stop closes the listener and all connections, then waits for the handlers
// to return. Stop is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	s.CloseConnections()
	s.wg.Wait()
	return err
}
