package piecestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPieceCountBoundaries(t *testing.T) {
	require.Equal(t, 0, PieceCountFor(0))
	require.Equal(t, 1, PieceCountFor(5120))
	require.Equal(t, 2, PieceCountFor(5121))
}

func TestPieceBoundsShortFinalPiece(t *testing.T) {
	start, end := PieceBounds(12345, 2)
	require.Equal(t, int64(10240), start)
	require.Equal(t, int64(12345), end)
	require.Equal(t, int64(2105), end-start)
}

func TestReadPieceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	data := make([]byte, 12345)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	p0, err := ReadPiece(path, int64(len(data)), 0)
	require.NoError(t, err)
	require.Equal(t, data[0:5120], p0)

	p2, err := ReadPiece(path, int64(len(data)), 2)
	require.NoError(t, err)
	require.Equal(t, data[10240:12345], p2)
	require.Len(t, p2, 2105)
}

func TestPreallocateExtendsShortExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dest.bin")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))

	f, err := Preallocate(path, 20000)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(20000), info.Size())
}

func TestSetPiecePresentAndAllPresent(t *testing.T) {
	s := NewStore()
	s.Put("G", "f.bin", &LocalFileInfo{Path: "f.bin", Size: 12345, PieceCount: 3, Bits: make([]bool, 3)})

	require.False(t, s.AllPresent("G", "f.bin"))
	require.NoError(t, s.SetPiecePresent("G", "f.bin", 0))
	require.NoError(t, s.SetPiecePresent("G", "f.bin", 1))
	require.False(t, s.AllPresent("G", "f.bin"))
	require.NoError(t, s.SetPiecePresent("G", "f.bin", 2))
	require.True(t, s.AllPresent("G", "f.bin"))
}

func TestSetPiecePresentRejectsOutOfRange(t *testing.T) {
	s := NewStore()
	s.Put("G", "f.bin", &LocalFileInfo{Path: "f.bin", Size: 5120, PieceCount: 1, Bits: make([]bool, 1)})
	require.Error(t, s.SetPiecePresent("G", "f.bin", 5))
}
