package registry

import (
	"bufio"
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swarmkeep/internal/wireproto"
)

// Server accepts one long-lived stream per connected peer and dispatches
// each line it reads to the registry.
type Server struct {
	reg *Registry
	log *zap.Logger
}

// NewServer wraps a Registry with the accept loop.
func NewServer(reg *Registry, log *zap.Logger) *Server {
	return &Server{reg: reg, log: log}
}

// Serve runs the accept loop until ln is closed. Shutdown is driven by
// closing the listener rather than a polled flag — Accept then returns an
// error and the loop exits promptly.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	remoteAddr, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	log := s.log.With(zap.String("conn", connID), zap.String("remote", remoteAddr))
	log.Info("peer connected")

	s.reg.notifyConnOpened()
	defer s.reg.notifyConnClosed()

	r := bufio.NewReader(conn)
	for {
		cmd, err := wireproto.ReadCommand(r)
		if err != nil {
			if errors.Is(err, wireproto.ErrEmptyLine) {
				if err := wireproto.WriteLine(conn, "ERROR: Empty command"); err != nil {
					log.Warn("write response failed", zap.Error(err))
					return
				}
				continue
			}
			log.Info("peer disconnected", zap.Error(err))
			return
		}

		if cmd.Name == "quit" {
			s.reg.Dispatch(remoteAddr, "logout", nil)
			_ = wireproto.WriteLine(conn, "BYE")
			log.Info("peer quit")
			return
		}

		resp := s.reg.Dispatch(remoteAddr, cmd.Name, cmd.Args)
		if err := writeResponse(conn, resp); err != nil {
			log.Warn("write response failed", zap.Error(err))
			return
		}
	}
}

func writeResponse(conn net.Conn, resp Response) error {
	if resp.Block != nil {
		return wireproto.WriteBlock(conn, resp.Block.Header, resp.Block.Items)
	}
	return wireproto.WriteLine(conn, resp.Line)
}
