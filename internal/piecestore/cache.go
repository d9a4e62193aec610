package piecestore

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
)

// PieceCache is an in-memory, size-bounded ristretto cache of recently
// served piece bodies (admission and eviction by ristretto's
// frequency-based policy, not LRU), keyed by
// (group, file, index). It sits in front of ReadPiece in the peer-service
// so a popular file's hot pieces are served without re-opening and
// re-seeking the backing file on every GET_PIECE.
type PieceCache struct {
	c *ristretto.Cache
}

// NewPieceCache creates a cache sized for roughly maxPieces entries of up to
// PieceSize bytes each.
func NewPieceCache(maxPieces int64) (*PieceCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxPieces * 10,
		MaxCost:     maxPieces * PieceSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "piecestore: create piece cache")
	}
	return &PieceCache{c: c}, nil
}

func cacheKey(group, name string, i int) string {
	return fmt.Sprintf("%s/%s#%d", group, name, i)
}

// Get returns a cached piece body, if present.
func (p *PieceCache) Get(group, name string, i int) ([]byte, bool) {
	v, ok := p.c.Get(cacheKey(group, name, i))
	if !ok {
		return nil, false
	}
	body, ok := v.([]byte)
	return body, ok
}

// Set caches a piece body read from disk.
func (p *PieceCache) Set(group, name string, i int, body []byte) {
	p.c.Set(cacheKey(group, name, i), body, int64(len(body)))
}

// Close releases cache resources.
func (p *PieceCache) Close() {
	p.c.Close()
}
