package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	require.Contains(t, r.Dispatch("1.2.3.4", "create_user", []string{"alice", "pw"}).Line, "SUCCESS")
	require.Contains(t, r.Dispatch("1.2.3.4", "create_user", []string{"alice", "pw"}).Line, "user exists")
}

func TestLoginRejectsBadCredentialAndDoubleLogin(t *testing.T) {
	r := newTestRegistry(t)
	r.Dispatch("1.2.3.4", "create_user", []string{"alice", "secret"})

	resp := r.Dispatch("1.2.3.4", "login", []string{"alice", "wrong", "9000"})
	require.Contains(t, resp.Line, "ERROR")

	resp = r.Dispatch("1.2.3.4", "login", []string{"alice", "secret", "9000"})
	require.Contains(t, resp.Line, "SUCCESS")

	resp = r.Dispatch("1.2.3.4", "login", []string{"alice", "secret", "9000"})
	require.Contains(t, resp.Line, "already active")
}

func TestOwnerCannotLeaveGroup(t *testing.T) {
	r := newTestRegistry(t)
	r.Dispatch("1.1.1.1", "create_user", []string{"owner", "pw"})
	r.Dispatch("1.1.1.1", "login", []string{"owner", "pw", "9000"})
	require.Contains(t, r.Dispatch("1.1.1.1", "create_group", []string{"G"}).Line, "SUCCESS")

	resp := r.Dispatch("1.1.1.1", "leave_group", []string{"G"})
	require.Contains(t, resp.Line, "ERROR")

	groups := r.Dispatch("1.1.1.1", "list_groups", nil)
	require.NotNil(t, groups.Block)
	require.Len(t, groups.Block.Items, 1)
}

func TestJoinAcceptLeaveRoundTripRestoresInitialState(t *testing.T) {
	r := newTestRegistry(t)
	r.Dispatch("1.1.1.1", "create_user", []string{"owner", "pw"})
	r.Dispatch("1.1.1.1", "login", []string{"owner", "pw", "9000"})
	r.Dispatch("1.1.1.1", "create_group", []string{"G"})

	r.Dispatch("2.2.2.2", "create_user", []string{"bob", "pw"})
	r.Dispatch("2.2.2.2", "login", []string{"bob", "pw", "9001"})

	require.Contains(t, r.Dispatch("2.2.2.2", "join_group", []string{"G"}).Line, "SUCCESS")
	require.Contains(t, r.Dispatch("1.1.1.1", "accept_request", []string{"G", "bob"}).Line, "SUCCESS")
	require.Contains(t, r.Dispatch("2.2.2.2", "leave_group", []string{"G"}).Line, "SUCCESS")

	g, exists, err := r.getGroup("G")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, []string{"owner"}, g.Members.Items)
	require.Empty(t, g.Pending.Items)
}

func TestDownloadFileFailsWithNoActiveSeeder(t *testing.T) {
	r := newTestRegistry(t)
	r.Dispatch("1.1.1.1", "create_user", []string{"p1", "pw"})
	r.Dispatch("1.1.1.1", "login", []string{"p1", "pw", "9000"})
	r.Dispatch("1.1.1.1", "create_group", []string{"G"})
	r.Dispatch("1.1.1.1", "upload_file", []string{"/tmp/f.bin", "G", "12345", "3"})

	r.Dispatch("1.1.1.1", "logout", nil)

	r.Dispatch("2.2.2.2", "create_user", []string{"p2", "pw"})
	r.Dispatch("2.2.2.2", "login", []string{"p2", "pw", "9001"})
	r.Dispatch("2.2.2.2", "join_group", []string{"G"})
	r.Dispatch("1.1.1.1", "login", []string{"p1", "pw", "9000"}) // p1 relogs in only to accept
	r.Dispatch("1.1.1.1", "accept_request", []string{"G", "p2"})
	r.Dispatch("1.1.1.1", "logout", nil)

	resp := r.Dispatch("2.2.2.2", "download_file", []string{"G", "f.bin"})
	require.Contains(t, resp.Line, "ERROR")
	require.Contains(t, resp.Line, "No active seeders")
}

func TestSessionPersistsAcrossReconnectByAddress(t *testing.T) {
	r := newTestRegistry(t)
	r.Dispatch("5.5.5.5", "create_user", []string{"alice", "pw"})
	r.Dispatch("5.5.5.5", "login", []string{"alice", "pw", "9000"})

	// Simulate a dropped-and-redialed stream: a fresh call using the same
	// source address but no re-login should still resolve alice.
	resp := r.Dispatch("5.5.5.5", "create_group", []string{"reconnected"})
	require.Contains(t, resp.Line, "SUCCESS")
}

func TestUploadThenDownloadReturnsActiveSeederEndpoint(t *testing.T) {
	r := newTestRegistry(t)
	r.Dispatch("1.1.1.1", "create_user", []string{"seed", "pw"})
	r.Dispatch("1.1.1.1", "login", []string{"seed", "pw", "6000"})
	r.Dispatch("1.1.1.1", "create_group", []string{"G"})
	r.Dispatch("1.1.1.1", "upload_file", []string{"movie.mp4", "G", "12345", "3"})

	r.Dispatch("2.2.2.2", "create_user", []string{"leech", "pw"})
	r.Dispatch("2.2.2.2", "login", []string{"leech", "pw", "6001"})
	r.Dispatch("2.2.2.2", "join_group", []string{"G"})
	r.Dispatch("1.1.1.1", "accept_request", []string{"G", "leech"})

	resp := r.Dispatch("2.2.2.2", "download_file", []string{"G", "movie.mp4"})
	require.Contains(t, resp.Line, "PEERS: 1.1.1.1:6000")
	require.Contains(t, resp.Line, "SIZE:12345")
	require.Contains(t, resp.Line, "PIECES:3")
}
