package session

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swarmkeep/internal/piecestore"
	"swarmkeep/internal/wireproto"
)

// fakeCoordinator accepts one connection and replies to whatever command
// arrives with a canned response, recording the request line it saw.
func fakeCoordinator(t *testing.T, reply func(name string, args []string) string) (addr string, seen chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	seen = make(chan string, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			cmd, err := wireproto.ReadCommand(r)
			if err != nil {
				return
			}
			line := cmd.Name
			for _, a := range cmd.Args {
				line += " " + a
			}
			seen <- line
			resp := reply(cmd.Name, cmd.Args)
			if err := wireproto.WriteLine(conn, resp); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), seen
}

func TestLoginAppendsPeerServicePort(t *testing.T) {
	addr, seen := fakeCoordinator(t, func(name string, args []string) string {
		return "SUCCESS: logged in"
	})

	store := piecestore.NewStore()
	sess := New(addr, "203.0.113.5:4242", store, zap.NewNop())

	reply, err := sess.Login("alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "SUCCESS: logged in", reply.Line)

	sent := <-seen
	require.Equal(t, "login alice hunter2 4242", sent)
}

func TestCommandForwardsVerbatim(t *testing.T) {
	addr, seen := fakeCoordinator(t, func(name string, args []string) string {
		return "SUCCESS: ok"
	})
	store := piecestore.NewStore()
	sess := New(addr, "203.0.113.5:4242", store, zap.NewNop())

	_, err := sess.Command("create_group", []string{"G1"})
	require.NoError(t, err)
	require.Equal(t, "create_group G1", <-seen)
}

func TestListGroupsReadsBlockReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, err = wireproto.ReadCommand(r)
		require.NoError(t, err)
		_ = wireproto.WriteBlock(conn, "GROUPS:", []string{"G1", "G2"})
	}()

	store := piecestore.NewStore()
	sess := New(ln.Addr().String(), "203.0.113.5:4242", store, zap.NewNop())

	reply, err := sess.Command("list_groups", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Block)
	require.Equal(t, "GROUPS:", reply.Block.Name)
	require.Equal(t, []string{"G1", "G2"}, reply.Block.Args)
}

func TestUploadFileInstallsAllPresentLocalFileInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 12345), 0644))

	addr, seen := fakeCoordinator(t, func(name string, args []string) string {
		return "SUCCESS: uploaded"
	})
	store := piecestore.NewStore()
	sess := New(addr, "203.0.113.5:4242", store, zap.NewNop())

	reply, err := sess.UploadFile(path, "G1")
	require.NoError(t, err)
	require.Equal(t, "SUCCESS: uploaded", reply.Line)

	sent := <-seen
	require.Equal(t, "upload_file "+path+" G1 12345 3", sent)

	info, ok := store.Get("G1", "upload.bin")
	require.True(t, ok)
	require.True(t, store.AllPresent("G1", "upload.bin"))
	require.Equal(t, 3, info.PieceCount)
}
