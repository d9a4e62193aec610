// Package peerservice implements the peer-service side of the wire
// protocol: a listener that serves GET_BITVECTOR and GET_PIECE requests
// from other peers against the local piecestore.
package peerservice

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"swarmkeep/internal/piecestore"
	"swarmkeep/internal/wireproto"
)

// Server serves GET_BITVECTOR/GET_PIECE on behalf of the local peer.
type Server struct {
	store *piecestore.Store
	cache *piecestore.PieceCache
	log   *zap.Logger
}

// New creates a peer-service server backed by store, caching recently
// served piece bodies in cache (may be nil to disable caching).
func New(store *piecestore.Store, cache *piecestore.PieceCache, log *zap.Logger) *Server {
	return &Server{store: store, cache: cache, log: log}
}

// Serve accepts connections until ln is closed, handling each on its own
// goroutine so many peers can pull pieces concurrently.
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
	r := bufio.NewReader(conn)
	for {
		cmd, err := wireproto.ReadCommand(r)
		if err != nil {
			return
		}
		switch cmd.Name {
		case "GET_BITVECTOR":
			s.handleGetBitvector(conn, cmd.Args)
		case "GET_PIECE":
			s.handleGetPiece(conn, cmd.Args)
		default:
			_ = wireproto.WriteLine(conn, "ERROR: unknown request")
		}
	}
}

func (s *Server) handleGetBitvector(conn net.Conn, args []string) {
	if len(args) < 2 {
		_ = wireproto.WriteLine(conn, "ERROR: File not found")
		return
	}
	group, name := args[0], args[1]
	info, ok := s.store.Get(group, name)
	if !ok {
		_ = wireproto.WriteLine(conn, "ERROR: File not found")
		return
	}
	tokens := make([]string, len(info.Bits))
	for i, b := range info.Bits {
		if b {
			tokens[i] = "1"
		} else {
			tokens[i] = "0"
		}
	}
	_ = wireproto.WriteLine(conn, "BITVECTOR: "+strings.Join(tokens, " "))
}

func (s *Server) handleGetPiece(conn net.Conn, args []string) {
	if len(args) < 3 {
		_ = wireproto.WritePiece(conn, nil)
		return
	}
	group, name := args[0], args[1]
	idx, err := strconv.Atoi(args[2])
	if err != nil {
		_ = wireproto.WritePiece(conn, nil)
		return
	}

	info, ok := s.store.Get(group, name)
	if !ok || idx < 0 || idx >= info.PieceCount || idx >= len(info.Bits) || !info.Bits[idx] {
		_ = wireproto.WritePiece(conn, nil)
		return
	}

	if s.cache != nil {
		if body, ok := s.cache.Get(group, name, idx); ok {
			_ = wireproto.WritePiece(conn, body)
			return
		}
	}

	body, err := piecestore.ReadPiece(info.Path, info.Size, idx)
	if err != nil {
		if s.log != nil {
			s.log.Warn("piece read failed", zap.String("group", group), zap.String("file", name), zap.Int("piece", idx), zap.Error(err))
		}
		_ = wireproto.WritePiece(conn, nil)
		return
	}
	if s.cache != nil {
		s.cache.Set(group, name, idx, body)
	}
	_ = wireproto.WritePiece(conn, body)
}

// FormatAddr renders a listener's bound TCP port as ip:port for advertising
// to the coordinator at login.
func FormatAddr(ln net.Listener, advertiseIP string) string {
	tcpAddr := ln.Addr().(*net.TCPAddr)
	return fmt.Sprintf("%s:%d", advertiseIP, tcpAddr.Port)
}
