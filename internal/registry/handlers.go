package registry

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Dispatch resolves and runs one command line against the registry, holding
// the registry's single mutual-exclusion domain for the entire critical
// section. remoteAddr is the source IP of the coordinator stream (used for
// the address-based caller resolution described in resolveCaller); it has
// nothing to do with the peer-service ports carried in login arguments and
// download_file replies.
func (r *Registry) Dispatch(remoteAddr, name string, args []string) Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	resp := r.dispatchLocked(remoteAddr, name, args)
	r.log.Debug("command",
		zap.String("remote", remoteAddr),
		zap.String("cmd", name),
		zap.Strings("args", args),
		zap.String("status", statusOf(resp)),
	)
	if r.recorder != nil {
		r.recorder.CommandHandled(name, outcomeOf(resp))
		r.recorder.SetActiveSessions(r.countActiveSessionsLocked())
	}
	return resp
}

func outcomeOf(r Response) string {
	if r.Block != nil {
		return "success"
	}
	if strings.HasPrefix(r.Line, "SUCCESS") {
		return "success"
	}
	return "error"
}

func statusOf(r Response) string {
	if r.Block != nil {
		return "block:" + r.Block.Header
	}
	return r.Line
}

func (r *Registry) dispatchLocked(remoteAddr, name string, args []string) Response {
	switch name {
	case "create_user":
		return r.createUser(args)
	case "login":
		return r.login(remoteAddr, args)
	case "logout":
		return r.logout(remoteAddr)
	case "create_group":
		return r.createGroup(remoteAddr, args)
	case "join_group":
		return r.joinGroup(remoteAddr, args)
	case "leave_group":
		return r.leaveGroup(remoteAddr, args)
	case "list_groups":
		return r.listGroups()
	case "list_requests":
		return r.listRequests(remoteAddr, args)
	case "accept_request":
		return r.acceptRequest(remoteAddr, args)
	case "upload_file":
		return r.uploadFile(remoteAddr, args)
	case "list_files":
		return r.listFiles(remoteAddr, args)
	case "download_file":
		return r.downloadFile(remoteAddr, args)
	case "update_seeder":
		return r.updateSeeder(remoteAddr, args)
	default:
		return fail("unknown command: " + name)
	}
}

func (r *Registry) createUser(args []string) Response {
	if len(args) < 2 {
		return fail("usage: create_user <user> <pass>")
	}
	id, pass := args[0], args[1]
	if _, exists, err := r.getUser(id); err != nil {
		return fail(err.Error())
	} else if exists {
		return fail("user exists")
	}
	u := &User{ID: id, Password: pass, Files: map[string]*ordSlice{}}
	if err := r.putUser(u); err != nil {
		return fail(err.Error())
	}
	return ok("user created")
}

func (r *Registry) login(remoteAddr string, args []string) Response {
	if len(args) < 3 {
		return fail("usage: login <user> <pass> <port>")
	}
	id, pass, portStr := args[0], args[1], args[2]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fail("invalid port")
	}
	u, exists, err := r.getUser(id)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such user")
	}
	if u.Password != pass {
		return fail("bad credential")
	}
	if u.Active {
		return fail("already active")
	}
	u.Active = true
	u.Addr = remoteAddr
	u.Port = port
	if err := r.putUser(u); err != nil {
		return fail(err.Error())
	}
	return ok("logged in")
}

func (r *Registry) logout(remoteAddr string) Response {
	u, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		// Logging out a user who is already logged out (or was never
		// identified) is not an error.
		return ok("logged out")
	}
	u.Active = false
	u.Addr = ""
	u.Port = 0
	if err := r.putUser(u); err != nil {
		return fail(err.Error())
	}
	return ok("logged out")
}

func (r *Registry) createGroup(remoteAddr string, args []string) Response {
	if len(args) < 1 {
		return fail("usage: create_group <group>")
	}
	caller, ok2, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !ok2 {
		return fail("login required")
	}
	groupID := args[0]
	if _, exists, err := r.getGroup(groupID); err != nil {
		return fail(err.Error())
	} else if exists {
		return fail("group exists")
	}
	g := &Group{
		ID:      groupID,
		Owner:   caller.ID,
		Members: newOrderedSet(caller.ID),
		Pending: newOrderedSet(),
		Files:   newOrderedSet(),
	}
	if err := r.putGroup(g); err != nil {
		return fail(err.Error())
	}
	return ok("group created")
}

func (r *Registry) joinGroup(remoteAddr string, args []string) Response {
	if len(args) < 1 {
		return fail("usage: join_group <group>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	g, exists, err := r.getGroup(args[0])
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such group")
	}
	if g.Members.contains(caller.ID) {
		return fail("already member")
	}
	if g.Pending.contains(caller.ID) {
		return fail("already pending")
	}
	g.Pending.add(caller.ID)
	if err := r.putGroup(g); err != nil {
		return fail(err.Error())
	}
	return ok("join request sent")
}

func (r *Registry) acceptRequest(remoteAddr string, args []string) Response {
	if len(args) < 2 {
		return fail("usage: accept_request <group> <user>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	groupID, userID := args[0], args[1]
	g, exists, err := r.getGroup(groupID)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such group")
	}
	if g.Owner != caller.ID {
		return fail("owner-only")
	}
	if !g.Pending.contains(userID) {
		return fail("no such request")
	}
	g.Pending.remove(userID)
	g.Members.add(userID)
	if err := r.putGroup(g); err != nil {
		return fail(err.Error())
	}
	return ok("request accepted")
}

func (r *Registry) leaveGroup(remoteAddr string, args []string) Response {
	if len(args) < 1 {
		return fail("usage: leave_group <group>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	groupID := args[0]
	g, exists, err := r.getGroup(groupID)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such group")
	}
	if g.Owner == caller.ID {
		return fail("owner cannot leave")
	}
	if !g.Members.contains(caller.ID) {
		return fail("not a member")
	}
	g.Members.remove(caller.ID)
	if err := r.putGroup(g); err != nil {
		return fail(err.Error())
	}

	// Remove the leaving member from every seeder set scoped to this group,
	// and clear their published-file list for this group.
	files, err := r.filesInGroup(groupID)
	if err != nil {
		return fail(err.Error())
	}
	for _, f := range files {
		seeders, exists, err := r.getSeeders(groupID, f.Name)
		if err != nil {
			return fail(err.Error())
		}
		if exists && seeders.Users.remove(caller.ID) {
			if err := r.putSeeders(seeders); err != nil {
				return fail(err.Error())
			}
		}
	}
	if caller.Files != nil {
		delete(caller.Files, groupID)
		if err := r.putUser(caller); err != nil {
			return fail(err.Error())
		}
	}

	return ok("left group")
}

func (r *Registry) listGroups() Response {
	groups, err := r.allGroups()
	if err != nil {
		return fail(err.Error())
	}
	items := make([]string, 0, len(groups))
	for _, g := range groups {
		items = append(items, fmt.Sprintf("%s (Owner: %s, Members: %d)", g.ID, g.Owner, len(g.Members.Items)))
	}
	return block("GROUPS:", items)
}

func (r *Registry) listRequests(remoteAddr string, args []string) Response {
	if len(args) < 1 {
		return fail("usage: list_requests <group>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	g, exists, err := r.getGroup(args[0])
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such group")
	}
	if g.Owner != caller.ID {
		return fail("owner-only")
	}
	return block("PENDING REQUESTS:", append([]string(nil), g.Pending.Items...))
}

func (r *Registry) uploadFile(remoteAddr string, args []string) Response {
	if len(args) < 4 {
		return fail("usage: upload_file <path> <group> <size> <pieces>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	path, groupID, sizeStr, piecesStr := args[0], args[1], args[2], args[3]
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return fail("invalid size")
	}
	pieces, err := strconv.Atoi(piecesStr)
	if err != nil || pieces < 0 {
		return fail("invalid piece count")
	}

	g, exists, err := r.getGroup(groupID)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such group")
	}
	if !g.Members.contains(caller.ID) {
		return fail("not a member")
	}

	name := baseName(path)

	f, exists, err := r.getFile(groupID, name)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		f = &FileMetadata{Group: groupID, Name: name, Size: size, PieceCount: pieces}
		if err := r.putFile(f); err != nil {
			return fail(err.Error())
		}
	}
	if g.Files.add(name) {
		if err := r.putGroup(g); err != nil {
			return fail(err.Error())
		}
	}

	seeders, exists, err := r.getSeeders(groupID, name)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		seeders = &Seeders{Group: groupID, Name: name, Users: newOrderedSet()}
	}
	seeders.Users.add(caller.ID)
	if err := r.putSeeders(seeders); err != nil {
		return fail(err.Error())
	}

	if caller.Files == nil {
		caller.Files = map[string]*ordSlice{}
	}
	if caller.Files[groupID] == nil {
		caller.Files[groupID] = &ordSlice{}
	}
	caller.Files[groupID].append(name)
	if err := r.putUser(caller); err != nil {
		return fail(err.Error())
	}

	return ok("uploaded")
}

func (r *Registry) listFiles(remoteAddr string, args []string) Response {
	if len(args) < 1 {
		return fail("usage: list_files <group>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	groupID := args[0]
	g, exists, err := r.getGroup(groupID)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such group")
	}
	if !g.Members.contains(caller.ID) {
		return fail("not a member")
	}
	items := make([]string, 0, len(g.Files.Items))
	for _, name := range g.Files.Items {
		f, exists, err := r.getFile(groupID, name)
		if err != nil {
			return fail(err.Error())
		}
		if !exists {
			continue
		}
		items = append(items, fmt.Sprintf("%s (%d bytes)", f.Name, f.Size))
	}
	return block("FILES:", items)
}

func (r *Registry) downloadFile(remoteAddr string, args []string) Response {
	if len(args) < 2 {
		return fail("usage: download_file <group> <file>")
	}
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	groupID, name := args[0], args[1]

	f, exists, err := r.getFile(groupID, name)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such file")
	}
	seeders, exists, err := r.getSeeders(groupID, name)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("No active seeders available")
	}

	var endpoints []string
	for _, uid := range seeders.Users.Items {
		if uid == caller.ID {
			continue
		}
		u, exists, err := r.getUser(uid)
		if err != nil {
			return fail(err.Error())
		}
		if !exists || !u.Active {
			continue
		}
		endpoints = append(endpoints, fmt.Sprintf("%s:%d", u.Addr, u.Port))
	}
	if len(endpoints) == 0 {
		return fail("No active seeders available")
	}

	line := fmt.Sprintf("PEERS: %s SIZE:%d PIECES:%d", strings.Join(endpoints, " "), f.Size, f.PieceCount)
	return Response{Line: line}
}

func (r *Registry) updateSeeder(remoteAddr string, args []string) Response {
	if len(args) < 2 {
		return fail("usage: update_seeder <group> <file>")
	}
	// update_seeder accepts a caller without verifying group membership,
	// left as-is rather than silently closing the gap.
	caller, exists, err := r.resolveCaller(remoteAddr)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("login required")
	}
	groupID, name := args[0], args[1]
	f, exists, err := r.getFile(groupID, name)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		return fail("no such file")
	}
	seeders, exists, err := r.getSeeders(groupID, name)
	if err != nil {
		return fail(err.Error())
	}
	if !exists {
		seeders = &Seeders{Group: groupID, Name: f.Name, Users: newOrderedSet()}
	}
	seeders.Users.add(caller.ID)
	if err := r.putSeeders(seeders); err != nil {
		return fail(err.Error())
	}
	return ok("registered as seeder")
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
