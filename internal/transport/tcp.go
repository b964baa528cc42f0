package transport

import (
	"context"
	"fmt"
	"net"

	"rvdbg/internal/log"
)

// Handler runs one session to completion against an accepted connection.
type Handler func(conn net.Conn, stop <-chan struct{}) error

// Server serializes debugger sessions over TCP: exactly one connection is
// served at a time, matching spec.md §9's "Accept loop" design note —
// concurrent sessions against a single Debug Module are ill-defined.
type Server struct {
	listener net.Listener
	handler  Handler
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Server{listener: ln, handler: handler}, nil
}

// Addr returns the bound address (useful when addr was ":0").
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections one at a time until ctx is canceled, running
// handler to completion for each before accepting the next. Canceling ctx
// closes the listener and signals the in-flight session's stop stream.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}

		log.ModTransport.InfoZ("session connected").String("remote", conn.RemoteAddr().String()).End()
		s.serveOne(ctx, conn)
	}
}

func (s *Server) serveOne(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stopper := NewStopper()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stopper.Signal()
		case <-done:
		}
	}()
	defer close(done)

	if err := s.handler(conn, stopper.C()); err != nil {
		log.ModTransport.WarnZ("session ended with error").Error("err", err).End()
		return
	}
	log.ModTransport.InfoZ("session ended").End()
}
