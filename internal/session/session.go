// Package session implements the peer's interactive façade over the
// coordinator's textual command set. It owns the single persistent
// coordinator stream, forwards most commands verbatim, and pre/post-
// processes upload_file and download_file locally.
package session

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"swarmkeep/internal/piecestore"
	"swarmkeep/internal/scheduler"
	"swarmkeep/internal/wireproto"
)

// blockCommands lists commands whose successful reply is a structured
// header+items block rather than a single SUCCESS/ERROR line.
var blockCommands = map[string]bool{
	"list_groups":   true,
	"list_requests": true,
	"list_files":    true,
}

// Reply is one coordinator response, either a single line or a block.
type Reply struct {
	Line  string
	Block *wireproto.Command // Name holds the header, Args the items
}

func (r Reply) String() string {
	if r.Block != nil {
		var b strings.Builder
		b.WriteString(r.Block.Name)
		for _, item := range r.Block.Args {
			b.WriteString("\n  ")
			b.WriteString(item)
		}
		return b.String()
	}
	return r.Line
}

// Session is a peer's persistent connection to the coordinator, plus the
// local state (LocalFileInfo table, advertised peer-service endpoint) that
// upload_file/download_file preprocessing depends on.
type Session struct {
	coordAddr string
	peerAddr  string // this peer's own advertised host:port, sent by login

	mu   sync.Mutex // guards conn: the single shared coordinator stream
	conn net.Conn
	r    *bufio.Reader

	store    *piecestore.Store
	log      *zap.Logger
	loggedIn bool
}

// New creates a session bound to a coordinator address and the local
// piece store the peer-service also reads from.
func New(coordAddr, peerAddr string, store *piecestore.Store, log *zap.Logger) *Session {
	return &Session{coordAddr: coordAddr, peerAddr: peerAddr, store: store, log: log}
}

// ensureConn dials the coordinator if there is no live connection,
// retrying with exponential backoff. If the stream fails, the peer
// transparently re-dials before the next command; no command is replayed.
func (s *Session) ensureConn() error {
	if s.conn != nil {
		return nil
	}
	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", s.coordAddr, 5*time.Second)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		return errors.Wrap(err, "session: dial coordinator")
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
	return nil
}

// Command sends name+args to the coordinator and returns its reply,
// forwarding verbatim for everything except the two pre/post-processed
// commands handled by UploadFile/DownloadFile.
func (s *Session) Command(name string, args []string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandLocked(name, args)
}

func (s *Session) commandLocked(name string, args []string) (Reply, error) {
	if err := s.ensureConn(); err != nil {
		return Reply{}, err
	}

	line := name
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if err := wireproto.WriteLine(s.conn, line); err != nil {
		s.dropConn()
		return Reply{}, errors.Wrap(err, "session: write command")
	}

	// A failing list_* command is answered with a single ERROR line, not a
	// block, so it is read through the single-line path below.
	isBlock := blockCommands[name]
	if isBlock {
		prefix, _ := s.r.Peek(len("ERROR:"))
		isBlock = string(prefix) != "ERROR:"
	}
	if isBlock {
		header, items, err := wireproto.ReadBlock(s.r)
		if err != nil {
			s.dropConn()
			return Reply{}, errors.Wrap(err, "session: read block reply")
		}
		return Reply{Block: &wireproto.Command{Name: header, Args: items}}, nil
	}

	resp, err := wireproto.ReadCommand(s.r)
	if err != nil {
		s.dropConn()
		return Reply{}, errors.Wrap(err, "session: read reply")
	}
	fullLine := resp.Name
	if len(resp.Args) > 0 {
		fullLine += " " + strings.Join(resp.Args, " ")
	}
	if name == "quit" {
		s.dropConn()
	}
	return Reply{Line: fullLine}, nil
}

func (s *Session) dropConn() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.r = nil
}

// Close releases the coordinator connection, logging out first.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedIn {
		_, _ = s.commandLocked("logout", nil)
	}
	s.dropConn()
}

// Login forwards a login command with the peer-service port appended by
// the client before it goes out on the wire.
func (s *Session) Login(user, password string) (Reply, error) {
	_, portStr, err := net.SplitHostPort(s.peerAddr)
	if err != nil {
		return Reply{}, errors.Wrap(err, "session: malformed peer address")
	}
	reply, err := s.Command("login", []string{user, password, portStr})
	if err == nil && strings.HasPrefix(reply.Line, "SUCCESS") {
		s.mu.Lock()
		s.loggedIn = true
		s.mu.Unlock()
	}
	return reply, err
}

// UploadFile pre-processes an upload: stats the local file, computes its
// piece count, installs an all-present LocalFileInfo, then forwards
// upload_file <path> <group> <size> <piece_count> to the coordinator.
func (s *Session) UploadFile(path, group string) (Reply, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Reply{}, errors.Wrap(err, "session: stat upload source")
	}
	size := info.Size()
	pieceCount := piecestore.PieceCountFor(size)

	digest, err := sha256File(path)
	if err != nil && s.log != nil {
		s.log.Warn("could not compute local content digest", zap.String("path", path), zap.Error(err))
	}

	bits := make([]bool, pieceCount)
	for i := range bits {
		bits[i] = true
	}
	name := filepath.Base(path)
	s.store.Put(group, name, &piecestore.LocalFileInfo{
		Path: path, Size: size, PieceCount: pieceCount, Bits: bits, SHA256: digest,
	})

	return s.Command("upload_file", []string{path, group, strconv.FormatInt(size, 10), strconv.Itoa(pieceCount)})
}

// DownloadFile drives the scheduler fully client-side: it asks the
// coordinator for sources, then fans piece requests across them, then (on
// success) re-registers as a seeder.
func (s *Session) DownloadFile(group, name, destPath string) (scheduler.Result, error) {
	reply, err := s.Command("download_file", []string{group, name})
	if err != nil {
		return scheduler.Result{}, err
	}
	if !strings.HasPrefix(reply.Line, "PEERS:") {
		return scheduler.Result{}, errors.Errorf("session: download_file failed: %s", reply.Line)
	}

	peers, size, err := parseDownloadFileReply(reply.Line)
	if err != nil {
		return scheduler.Result{}, err
	}

	result, err := scheduler.Download(group, name, size, peers, destPath, s.store, s.log)
	if err != nil {
		return scheduler.Result{}, err
	}

	if result.Complete() {
		if _, err := s.Command("update_seeder", []string{group, name}); err != nil && s.log != nil {
			s.log.Warn("update_seeder after download failed", zap.Error(err))
		}
	}
	return result, nil
}

// sha256File computes a hex-encoded content digest, kept locally and never
// transmitted or verified.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "session: open for digest")
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "session: hash file")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// parseDownloadFileReply parses "PEERS: a b c SIZE:<n> PIECES:<n>".
func parseDownloadFileReply(line string) (peers []string, size int64, err error) {
	fields := strings.Fields(line)
	for _, f := range fields {
		switch {
		case f == "PEERS:":
			continue
		case strings.HasPrefix(f, "SIZE:"):
			size, err = strconv.ParseInt(strings.TrimPrefix(f, "SIZE:"), 10, 64)
			if err != nil {
				return nil, 0, errors.Wrap(err, "session: parse SIZE")
			}
		case strings.HasPrefix(f, "PIECES:"):
			continue
		default:
			peers = append(peers, f)
		}
	}
	return peers, size, nil
}

// LocalFiles returns the peer's LocalFileInfo table for the local
// show_downloads command; formatting is left to the caller's presentation
// layer (see internal/presentation).
func (s *Session) LocalFiles() map[string]*piecestore.LocalFileInfo {
	return s.store.All()
}
