package wireproto

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxPieceLength guards against a malformed or hostile 4-byte length header
// asking the reader to allocate an unbounded buffer. PieceSize (5120) is the
// only legitimate length; this is a generous ceiling above it.
const MaxPieceLength = 1 << 20

// WritePiece writes a GET_PIECE reply: a 4-byte little-endian length header
// followed by exactly that many bytes. body may be nil or empty, which
// signals "piece unavailable" (L == 0).
func WritePiece(w io.Writer, body []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wireproto: write piece length")
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return errors.Wrap(err, "wireproto: write piece body")
}

// ReadPiece reads a GET_PIECE reply written by WritePiece. A zero-length
// header returns a nil, empty slice with no error — the caller distinguishes
// "unavailable" from a transport failure by checking err.
func ReadPiece(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "wireproto: read piece length")
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, nil
	}
	if n > MaxPieceLength {
		return nil, errors.Errorf("wireproto: piece length %d exceeds maximum", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "wireproto: read piece body")
	}
	return body, nil
}
