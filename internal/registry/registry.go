// Package registry implements the coordinator's concurrent registry:
// users, sessions, groups, join requests, the file catalog, and seeder
// sets, all guarded by a single coarse-grained mutual-exclusion domain.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const sep = "\x00"

// Recorder observes dispatched commands and connection lifecycle for the
// optional admin surface, without coupling this package to any particular
// metrics backend.
type Recorder interface {
	CommandHandled(command, outcome string)
	SetActiveSessions(n int)
	ConnectionOpened()
	ConnectionClosed()
}

// Registry is the coordinator's entire state, guarded by one mutex: every
// command is executed as a single critical section. The backing store
// (badger, in-memory) is an implementation detail of storage, not a second
// concurrency domain.
type Registry struct {
	mu       sync.Mutex
	db       *store
	log      *zap.Logger
	recorder Recorder
}

// New creates an empty registry.
func New(log *zap.Logger) (*Registry, error) {
	db, err := newStore()
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, log: log}, nil
}

// SetRecorder attaches an optional metrics recorder — see the adminhttp
// package for the concrete Prometheus-backed implementation.
func (r *Registry) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// notifyConnOpened and notifyConnClosed report the coordinator's accept-loop
// connection lifecycle to the optional recorder — see Server.handleConn.
func (r *Registry) notifyConnOpened() {
	r.mu.Lock()
	rec := r.recorder
	r.mu.Unlock()
	if rec != nil {
		rec.ConnectionOpened()
	}
}

func (r *Registry) notifyConnClosed() {
	r.mu.Lock()
	rec := r.recorder
	r.mu.Unlock()
	if rec != nil {
		rec.ConnectionClosed()
	}
}

func (r *Registry) countActiveSessionsLocked() int {
	blobs, err := r.db.scanPrefix("user:")
	if err != nil {
		return 0
	}
	n := 0
	for _, b := range blobs {
		var u User
		if json.Unmarshal(b, &u) == nil && u.Active {
			n++
		}
	}
	return n
}

// Close releases the backing store.
func (r *Registry) Close() error {
	return r.db.close()
}

func userKey(id string) string          { return "user:" + id }
func groupKey(id string) string         { return "group:" + id }
func fileKey(group, name string) string { return "file:" + group + sep + name }
func seedKey(group, name string) string { return "seeders:" + group + sep + name }

func decode[T any](data []byte, ok bool) (*T, bool, error) {
	if !ok {
		return nil, false, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, errors.Wrap(err, "registry: decode")
	}
	return &v, true, nil
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrap(err, "registry: encode")
}

// -- users --------------------------------------------------------------

func (r *Registry) getUser(id string) (*User, bool, error) {
	data, ok, err := r.db.get(userKey(id))
	if err != nil {
		return nil, false, err
	}
	return decode[User](data, ok)
}

func (r *Registry) putUser(u *User) error {
	data, err := encode(u)
	if err != nil {
		return err
	}
	return r.db.set(userKey(u.ID), data)
}

// resolveCaller identifies the current command's acting user from the
// source IP address of the coordinator stream. The wire protocol only
// carries the advertised peer-service port on the login command itself, so
// a command issued after a transparent reconnect (no command is replayed)
// cannot resend it — this implementation resolves by address alone, which
// means two users behind the same address cannot coexist, but it is what
// lets a session survive a reconnect without re-login. See DESIGN.md for
// the full rationale.
func (r *Registry) resolveCaller(addr string) (*User, bool, error) {
	blobs, err := r.db.scanPrefix("user:")
	if err != nil {
		return nil, false, err
	}
	for _, b := range blobs {
		var u User
		if err := json.Unmarshal(b, &u); err != nil {
			return nil, false, errors.Wrap(err, "registry: decode user")
		}
		if u.Active && u.Addr == addr {
			uu := u
			return &uu, true, nil
		}
	}
	return nil, false, nil
}

// -- groups ---------------------------------------------------------------

func (r *Registry) getGroup(id string) (*Group, bool, error) {
	data, ok, err := r.db.get(groupKey(id))
	if err != nil {
		return nil, false, err
	}
	return decode[Group](data, ok)
}

func (r *Registry) putGroup(g *Group) error {
	data, err := encode(g)
	if err != nil {
		return err
	}
	return r.db.set(groupKey(g.ID), data)
}

func (r *Registry) allGroups() ([]*Group, error) {
	blobs, err := r.db.scanPrefix("group:")
	if err != nil {
		return nil, err
	}
	out := make([]*Group, 0, len(blobs))
	for _, b := range blobs {
		var g Group
		if err := json.Unmarshal(b, &g); err != nil {
			return nil, errors.Wrap(err, "registry: decode group")
		}
		gg := g
		out = append(out, &gg)
	}
	return out, nil
}

// -- files ------------------------------------------------------------------

func (r *Registry) getFile(group, name string) (*FileMetadata, bool, error) {
	data, ok, err := r.db.get(fileKey(group, name))
	if err != nil {
		return nil, false, err
	}
	return decode[FileMetadata](data, ok)
}

func (r *Registry) putFile(f *FileMetadata) error {
	data, err := encode(f)
	if err != nil {
		return err
	}
	return r.db.set(fileKey(f.Group, f.Name), data)
}

func (r *Registry) filesInGroup(group string) ([]*FileMetadata, error) {
	blobs, err := r.db.scanPrefix("file:" + group + sep)
	if err != nil {
		return nil, err
	}
	out := make([]*FileMetadata, 0, len(blobs))
	for _, b := range blobs {
		var f FileMetadata
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, errors.Wrap(err, "registry: decode file")
		}
		ff := f
		out = append(out, &ff)
	}
	return out, nil
}

// -- seeders ------------------------------------------------------------------

func (r *Registry) getSeeders(group, name string) (*Seeders, bool, error) {
	data, ok, err := r.db.get(seedKey(group, name))
	if err != nil {
		return nil, false, err
	}
	return decode[Seeders](data, ok)
}

func (r *Registry) putSeeders(s *Seeders) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	return r.db.set(seedKey(s.Group, s.Name), data)
}
