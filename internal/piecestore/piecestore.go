// Package piecestore holds a peer's view of the files it has on disk: a
// LocalFileInfo table and the bit-vector presence map that backs
// GET_BITVECTOR/GET_PIECE.
package piecestore

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// PieceSize is the fixed transfer unit.
const PieceSize int64 = 5120

// LocalFileInfo is the peer-local record for one (group, file): its backing
// path, size, piece count, and bit-vector.
type LocalFileInfo struct {
	Path       string
	Size       int64
	PieceCount int
	Bits       []bool // Bits[i] true iff piece i is fully present on disk
	// SHA256 is a local-only, informational content digest. It is never
	// sent over the wire — upload_file's arity is fixed and leaves no room
	// for it — and never checked on receipt.
	SHA256 string
}

// PieceCountFor computes ceil(size / PieceSize).
func PieceCountFor(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + PieceSize - 1) / PieceSize)
}

// PieceBounds returns the byte range [start, end) of piece i within a file
// of the given size, honoring the short final piece.
func PieceBounds(size int64, i int) (start, end int64) {
	start = int64(i) * PieceSize
	end = start + PieceSize
	if end > size {
		end = size
	}
	return start, end
}

// key identifies a file by (group, name).
type key struct {
	Group string
	Name  string
}

// Store is a peer's LocalFileInfo table, guarded by a single
// mutual-exclusion domain shared between the interactive session (writer on
// upload, and at the start of and after each piece of a download) and the
// peer-service (reader on every GET_*).
type Store struct {
	mu    sync.RWMutex
	files map[key]*LocalFileInfo
}

// NewStore creates an empty local file table.
func NewStore() *Store {
	return &Store{files: make(map[key]*LocalFileInfo)}
}

// Put installs or replaces a LocalFileInfo for (group, name).
func (s *Store) Put(group, name string, info *LocalFileInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key{group, name}] = info
}

// Get returns the LocalFileInfo for (group, name), if any.
func (s *Store) Get(group, name string) (*LocalFileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.files[key{group, name}]
	return info, ok
}

// SetPiecePresent marks piece i present for (group, name). It is used by
// the download scheduler after a successful per-piece write, so pieces
// become visible individually rather than all-at-once when workers join.
func (s *Store) SetPiecePresent(group, name string, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.files[key{group, name}]
	if !ok {
		return errors.Errorf("piecestore: no local file info for %s/%s", group, name)
	}
	if i < 0 || i >= len(info.Bits) {
		return errors.Errorf("piecestore: piece index %d out of range", i)
	}
	info.Bits[i] = true
	return nil
}

// AllPresent reports whether every piece of (group, name) is marked present.
func (s *Store) AllPresent(group, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.files[key{group, name}]
	if !ok {
		return false
	}
	for _, b := range info.Bits {
		if !b {
			return false
		}
	}
	return true
}

// All returns every entry currently tracked, for show_downloads.
func (s *Store) All() map[string]*LocalFileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*LocalFileInfo, len(s.files))
	for k, v := range s.files {
		out[k.Group+"/"+k.Name] = v
	}
	return out
}

// ReadPiece opens path, seeks to piece i's offset, and reads up to
// PieceSize bytes. A short final piece is returned honestly as a shorter
// slice.
func ReadPiece(path string, size int64, i int) ([]byte, error) {
	start, end := PieceBounds(size, i)
	if start >= end {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "piecestore: open")
	}
	defer f.Close()

	buf := make([]byte, end-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && n == 0 {
		return nil, errors.Wrap(err, "piecestore: read")
	}
	return buf[:n], nil
}

// WritePieceAt writes body at piece i's computed offset in the destination
// file. It may run from many worker goroutines concurrently against
// non-overlapping regions of the same file.
func WritePieceAt(f *os.File, i int, body []byte) error {
	offset := int64(i) * PieceSize
	_, err := f.WriteAt(body, offset)
	return errors.Wrap(err, "piecestore: write piece")
}

// Preallocate creates path if it doesn't exist and extends it to size
// bytes. An existing, shorter file is extended; a longer one is left as-is
// beyond size.
func Preallocate(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "piecestore: create destination")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "piecestore: stat destination")
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "piecestore: extend destination")
		}
	}
	return f, nil
}
