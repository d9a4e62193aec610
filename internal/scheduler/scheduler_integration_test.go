package scheduler

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swarmkeep/internal/peerservice"
	"swarmkeep/internal/piecestore"
)

// startSourcePeer runs a real peerservice.Server backed by a copy of data on
// disk, advertising presence only for the given piece indices.
func startSourcePeer(t *testing.T, group, name string, data []byte, present []int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))

	pieceCount := piecestore.PieceCountFor(int64(len(data)))
	bits := make([]bool, pieceCount)
	for _, p := range present {
		bits[p] = true
	}

	store := piecestore.NewStore()
	store.Put(group, name, &piecestore.LocalFileInfo{
		Path: path, Size: int64(len(data)), PieceCount: pieceCount, Bits: bits,
	})

	svc := peerservice.New(store, nil, zap.NewNop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svc.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return peerservice.FormatAddr(ln, "127.0.0.1")
}

func allPieces(pieceCount int) []int {
	out := make([]int, pieceCount)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestDownloadRoundTripsBytesFromThreeCompleteSources(t *testing.T) {
	data := make([]byte, 5*piecestore.PieceSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	pieceCount := piecestore.PieceCountFor(int64(len(data)))

	a1 := startSourcePeer(t, "G", "f.bin", data, allPieces(pieceCount))
	a2 := startSourcePeer(t, "G", "f.bin", data, allPieces(pieceCount))
	a3 := startSourcePeer(t, "G", "f.bin", data, allPieces(pieceCount))

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "out.bin")

	store := piecestore.NewStore()
	result, err := Download("G", "f.bin", int64(len(data)), []string{a1, a2, a3}, dest, store, zap.NewNop())
	require.NoError(t, err)
	require.True(t, result.Complete())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.True(t, store.AllPresent("G", "f.bin"))
}

func TestDownloadRoundRobinsAcrossPartialSources(t *testing.T) {
	data := make([]byte, 5*piecestore.PieceSize)
	for i := range data {
		data[i] = byte((i * 7) % 251)
	}

	// Piece p is assigned to sources[(p+k) mod 3]; give each source exactly
	// the pieces the round-robin partition of a 5-piece file should route
	// to it. Every piece then has exactly one holder: a piece requested
	// from a source that lacks it comes back with L == 0 and leaves the
	// result incomplete, and a misplaced write shows up as a byte mismatch.
	a1 := startSourcePeer(t, "G", "f.bin", data, []int{0, 3})
	a2 := startSourcePeer(t, "G", "f.bin", data, []int{1, 4})
	a3 := startSourcePeer(t, "G", "f.bin", data, []int{2})

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "out.bin")

	store := piecestore.NewStore()
	result, err := Download("G", "f.bin", int64(len(data)), []string{a1, a2, a3}, dest, store, zap.NewNop())
	require.NoError(t, err)
	require.True(t, result.Complete())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

