// Package scheduler implements the parallel download scheduler: probe
// every candidate source's bit-vector, partition missing pieces across
// them by round-robin with availability fallback, then fan piece fetches
// out to one worker flow per source.
package scheduler

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"swarmkeep/internal/peerclient"
	"swarmkeep/internal/piecestore"
)

// Result reports the outcome of a Download call.
type Result struct {
	// UnassignedPieces lists piece indices no probed source held.
	UnassignedPieces []int
	// FailedPieces lists piece indices that were assigned to a source
	// but could not be fetched (dead connection, L==0 reply, short body).
	FailedPieces []int
}

// Complete reports whether every piece of the file was written.
func (r Result) Complete() bool {
	return len(r.UnassignedPieces) == 0 && len(r.FailedPieces) == 0
}

type source struct {
	addr string
	bits []bool
}

// Download fetches (group, name) of the given size from candidates,
// writing pieces into destPath as they arrive and marking each present in
// store only after a successful write, so a partial or failed download never
// reports pieces it didn't actually get. Sources whose GET_BITVECTOR probe
// fails or replies malformed are dropped and logged as a warning, not
// treated as fatal.
func Download(group, name string, size int64, candidates []string, destPath string, store *piecestore.Store, log *zap.Logger) (Result, error) {
	pieceCount := piecestore.PieceCountFor(size)

	sources := probe(group, name, candidates, log)
	if pieceCount > 0 && len(sources) == 0 {
		return Result{}, errors.New("scheduler: no source responded with a usable bit-vector")
	}

	assignment, unassigned := partition(pieceCount, sources)
	if len(unassigned) > 0 && log != nil {
		log.Warn("pieces unassigned: no candidate source holds them",
			zap.String("group", group), zap.String("file", name), zap.Ints("pieces", unassigned))
	}

	store.Put(group, name, &piecestore.LocalFileInfo{
		Path: destPath, Size: size, PieceCount: pieceCount, Bits: make([]bool, pieceCount),
	})

	if pieceCount == 0 {
		f, err := piecestore.Preallocate(destPath, 0)
		if err != nil {
			return Result{}, err
		}
		f.Close()
		return Result{}, nil
	}

	f, err := piecestore.Preallocate(destPath, size)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	failed := fanOut(group, name, assignment, f, store, log)

	return Result{UnassignedPieces: unassigned, FailedPieces: failed}, nil
}

// probe queries every candidate for its bit-vector, in the caller's flow
// (sequential is fine — this precedes the concurrent fetch phase and the
// candidate list is small in practice).
func probe(group, name string, candidates []string, log *zap.Logger) []source {
	sources := make([]source, 0, len(candidates))
	for _, addr := range candidates {
		bits, err := peerclient.BitVector(addr, group, name)
		if err != nil {
			if log != nil {
				log.Warn("dropping source: bitvector probe failed", zap.String("source", addr), zap.Error(err))
			}
			continue
		}
		sources = append(sources, source{addr: addr, bits: bits})
	}
	return sources
}

// partition assigns each piece p to the first source at
// sources[(p+k) mod N] (k = 0..N-1) whose bit-vector has it. A bit-vector
// shorter than pieceCount treats missing entries as absent, and this never
// indexes out of range.
func partition(pieceCount int, sources []source) (assignment map[int]string, unassigned []int) {
	assignment = make(map[int]string, pieceCount)
	n := len(sources)
	for p := 0; p < pieceCount; p++ {
		found := false
		for k := 0; k < n; k++ {
			s := sources[(p+k)%n]
			if p < len(s.bits) && s.bits[p] {
				assignment[p] = s.addr
				found = true
				break
			}
		}
		if !found {
			unassigned = append(unassigned, p)
		}
	}
	return assignment, unassigned
}

// fanOut launches one worker per source with at least one assigned piece
// and joins them all before returning. Each worker fetches its pieces one
// at a time through peerclient.Piece, which dials a fresh connection to the
// source for every piece, and writes through the shared destination
// descriptor at its own offsets.
func fanOut(group, name string, assignment map[int]string, dest *os.File, store *piecestore.Store, log *zap.Logger) []int {
	bySource := make(map[string][]int)
	for piece, addr := range assignment {
		bySource[addr] = append(bySource[addr], piece)
	}

	var (
		mu     sync.Mutex
		failed []int
		wg     sync.WaitGroup
	)

	for addr, pieces := range bySource {
		wg.Add(1)
		go func(addr string, pieces []int) {
			defer wg.Done()
			for _, p := range pieces {
				body, err := peerclient.Piece(addr, group, name, p)
				if err != nil || len(body) == 0 {
					if log != nil {
						log.Warn("piece fetch failed, skipping", zap.String("source", addr), zap.Int("piece", p), zap.Error(err))
					}
					mu.Lock()
					failed = append(failed, p)
					mu.Unlock()
					continue
				}
				if err := piecestore.WritePieceAt(dest, p, body); err != nil {
					if log != nil {
						log.Warn("piece write failed, skipping", zap.String("source", addr), zap.Int("piece", p), zap.Error(err))
					}
					mu.Lock()
					failed = append(failed, p)
					mu.Unlock()
					continue
				}
				if err := store.SetPiecePresent(group, name, p); err != nil && log != nil {
					log.Warn("mark piece present failed", zap.Int("piece", p), zap.Error(err))
				}
			}
		}(addr, pieces)
	}

	wg.Wait()
	return failed
}
