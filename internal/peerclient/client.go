// Package peerclient issues GET_BITVECTOR/GET_PIECE requests against a
// remote peer's peer-service.
package peerclient

import (
	"bufio"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"swarmkeep/internal/wireproto"
)

// DialTimeout bounds how long a scheduler worker waits to establish a
// connection to a source before giving up on it.
const DialTimeout = 5 * time.Second

// BitVector queries addr for its presence map of (group, name). A
// malformed or "File not found" reply is reported as an error so callers
// can discard the source.
func BitVector(addr, group, name string) ([]bool, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "peerclient: dial")
	}
	defer conn.Close()

	if err := wireproto.WriteLine(conn, "GET_BITVECTOR "+group+" "+name); err != nil {
		return nil, err
	}

	r := bufio.NewReader(conn)
	cmd, err := wireproto.ReadCommand(r)
	if err != nil {
		return nil, errors.Wrap(err, "peerclient: read bitvector")
	}
	if cmd.Name == "ERROR:" {
		return nil, errors.New("peerclient: file not found on source")
	}
	if cmd.Name != "BITVECTOR:" {
		return nil, errors.Errorf("peerclient: unexpected reply %q", cmd.Name)
	}

	bits := make([]bool, 0, len(cmd.Args))
	for _, tok := range cmd.Args {
		switch tok {
		case "1":
			bits = append(bits, true)
		case "0":
			bits = append(bits, false)
		default:
			return nil, errors.Errorf("peerclient: malformed bitvector token %q", tok)
		}
	}
	return bits, nil
}

// Piece requests piece i of (group, name) from addr, returning the raw
// body. A zero-length reply ("unavailable") is returned as a nil slice with
// no error — the caller decides whether that is fatal for this assignment.
func Piece(addr, group, name string, i int) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "peerclient: dial")
	}
	defer conn.Close()

	if err := wireproto.WriteLine(conn, "GET_PIECE "+group+" "+name+" "+strconv.Itoa(i)); err != nil {
		return nil, err
	}
	body, err := wireproto.ReadPiece(conn)
	if err != nil {
		return nil, errors.Wrap(err, "peerclient: read piece")
	}
	return body, nil
}
