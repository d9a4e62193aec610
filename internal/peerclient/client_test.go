package peerclient

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

func startTestPeer(t *testing.T) (addr string, store *piecestore.Store) {
	t.Helper()
	store = piecestore.NewStore()
	svc := peerservice.New(store, nil, zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svc.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return peerservice.FormatAddr(ln, "127.0.0.1"), store
}

func TestBitVectorAndPieceRoundTripAgainstRealPeerService(t *testing.T) {
	addr, store := startTestPeer(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	data := make([]byte, 12345)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	store.Put("G", "f.bin", &piecestore.LocalFileInfo{
		Path: path, Size: int64(len(data)), PieceCount: 3, Bits: []bool{true, false, true},
	})

	bits, err := BitVector(addr, "G", "f.bin")
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, bits)

	p0, err := Piece(addr, "G", "f.bin", 0)
	require.NoError(t, err)
	require.Equal(t, data[0:5120], p0)

	p1, err := Piece(addr, "G", "f.bin", 1)
	require.NoError(t, err)
	require.Nil(t, p1)

	p2, err := Piece(addr, "G", "f.bin", 2)
	require.NoError(t, err)
	require.Equal(t, data[10240:12345], p2)
}

func TestBitVectorReturnsErrorForUnknownFile(t *testing.T) {
	addr, _ := startTestPeer(t)
	_, err := BitVector(addr, "G", "missing.bin")
	require.Error(t, err)
}
