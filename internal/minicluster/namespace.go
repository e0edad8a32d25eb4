package minicluster

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
)

// Exception classes thrown by the name node.
const (
	classFileNotFound    = "java.io.FileNotFoundException"
	classIOException     = "java.io.IOException"
	classAccessControl   = "org.apache.hadoop.security.AccessControlException"
	classAlreadyExists   = "org.apache.hadoop.fs.FileAlreadyExistsException"
	classParentNotDir    = "org.apache.hadoop.fs.ParentNotDirectoryException"
	classNotEmpty        = "org.apache.hadoop.fs.PathIsNotEmptyDirectoryException"
	classInvalidPath     = "org.apache.hadoop.fs.InvalidPathException"
	classIllegalArgument = "org.apache.hadoop.HadoopIllegalArgumentException"
	classBeingCreated    = "org.apache.hadoop.hdfs.protocol.AlreadyBeingCreatedException"
	classLeaseExpired    = "org.apache.hadoop.hdfs.server.namenode.LeaseExpiredException"
	classNoSuchMethod    = "org.apache.hadoop.ipc.RpcNoSuchMethodException"
)

// Superuser bypasses permission checks.
const Superuser = "hdfs"

const (
	supergroup   = "supergroup"
	maxReplicas  = 512
	firstInodeID = 16385
	firstBlockID = 1073741825
	firstGenTime = 1001
	unchanged    = ^uint64(0)
)

// remoteError is returned by handlers and sent to the client as an exception.
type remoteError struct {
	class string
	msg   string
}

func (e *remoteError) Error() string { return e.class + ": " + e.msg }

func remote(class, format string, args ...any) *remoteError {
	return &remoteError{class: class, msg: fmt.Sprintf(format, args...)}
}

func fileNotFound(p string) *remoteError {
	return remote(classFileNotFound, "File does not exist: %s", p)
}

// caller identifies the client behind a request.
type caller struct {
	user string
}

type inode struct {
	id       uint64
	name     string
	parent   *inode
	dir      bool
	children map[string]*inode
	perm     uint32
	owner    string
	group    string
	mtime    uint64
	atime    uint64

	// files only
	replication uint32
	blockSize   uint64
	blocks      []*block
	holder      string
	completeIn  int
}

type block struct {
	id    uint64
	gen   uint64
	size  uint64
	nodes []int
}

func (n *inode) length() uint64 {
	var total uint64
	for _, b := range n.blocks {
		total += b.size
	}
	return total
}

func (n *inode) path() string {
	if n.parent == nil {
		return "/"
	}
	var parts []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

func (n *inode) isAncestorOf(other *inode) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

func now() uint64 {
	return uint64(time.Now().UnixMilli())
}

// namespace is the file tree and block map of the name node. Every method
// takes the namespace lock for its whole duration.
type namespace struct {
	mu sync.Mutex

	cfg       *Config
	poolID    string
	store     *replicaStore
	datanodes []*DataNode

	root      *inode
	nextInode uint64
	nextBlock uint64
	genStamp  uint64
	renewals  map[string]int
}

func newNamespace(cfg *Config, store *replicaStore, datanodes []*DataNode) *namespace {
	ns := &namespace{
		cfg:       cfg,
		poolID:    "BP-minicluster-127.0.0.1",
		store:     store,
		datanodes: datanodes,
		nextInode: firstInodeID,
		nextBlock: firstBlockID,
		genStamp:  firstGenTime,
		renewals:  make(map[string]int),
	}
	ts := now()
	ns.root = &inode{
		id:       ns.allocInode(),
		dir:      true,
		children: make(map[string]*inode),
		perm:     0o755,
		owner:    cfg.User,
		group:    supergroup,
		mtime:    ts,
		atime:    ts,
	}
	return ns
}

func (ns *namespace) allocInode() uint64 {
	id := ns.nextInode
	ns.nextInode++
	return id
}

// ============================================================================
// Path resolution
// ============================================================================

func splitPath(p string) ([]string, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, remote(classInvalidPath, "Invalid path name Path is not absolute: %s", p)
	}
	clean := path.Clean(p)
	if clean == "/" {
		return nil, nil
	}
	return strings.Split(clean[1:], "/"), nil
}

// lookup returns the inode at p, or nil when it does not exist.
func (ns *namespace) lookup(p string) (*inode, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	cur := ns.root
	for _, name := range parts {
		if !cur.dir {
			return nil, nil
		}
		cur = cur.children[name]
		if cur == nil {
			return nil, nil
		}
	}
	return cur, nil
}

// lookupParent resolves every component of p but the last. The parent is nil
// when a component is missing.
func (ns *namespace) lookupParent(p string) (*inode, string, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, "", err
	}
	if len(parts) == 0 {
		return nil, "", nil
	}
	cur := ns.root
	for _, name := range parts[:len(parts)-1] {
		cur = cur.children[name]
		if cur == nil {
			return nil, parts[len(parts)-1], nil
		}
		if !cur.dir {
			return nil, "", remote(classParentNotDir, "Parent path is not a directory: %s", cur.path())
		}
	}
	return cur, parts[len(parts)-1], nil
}

func (ns *namespace) lookupFile(p string) (*inode, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fileNotFound(p)
	}
	if n.dir {
		return nil, remote(classFileNotFound, "Path is not a file: %s", p)
	}
	return n, nil
}

func (ns *namespace) checkWrite(c *caller, dir *inode) error {
	if c.user == Superuser {
		return nil
	}
	bits := dir.perm
	if dir.owner == c.user {
		bits >>= 6
	}
	if bits&0o2 == 0 {
		return remote(classAccessControl, "Permission denied: user=%s, access=WRITE, inode=\"%s\":%s:%s:%s",
			c.user, dir.path(), dir.owner, dir.group, modeString(dir))
	}
	return nil
}

func (ns *namespace) checkOwner(c *caller, n *inode) error {
	if c.user == Superuser || c.user == n.owner {
		return nil
	}
	return remote(classAccessControl, "Permission denied. user=%s is not the owner of inode=%s", c.user, n.path())
}

func modeString(n *inode) string {
	const rwx = "rwxrwxrwx"
	b := []byte("-")
	if n.dir {
		b[0] = 'd'
	}
	for i := 0; i < 9; i++ {
		if n.perm&(1<<uint(8-i)) != 0 {
			b = append(b, rwx[i])
		} else {
			b = append(b, '-')
		}
	}
	return string(b)
}

func (ns *namespace) newChild(parent *inode, name string, c *caller, perm uint32, dir bool) *inode {
	ts := now()
	n := &inode{
		id:     ns.allocInode(),
		name:   name,
		parent: parent,
		dir:    dir,
		perm:   perm,
		owner:  c.user,
		group:  supergroup,
		mtime:  ts,
		atime:  ts,
	}
	if dir {
		n.children = make(map[string]*inode)
	}
	parent.children[name] = n
	parent.mtime = ts
	return n
}

// ============================================================================
// Status conversion
// ============================================================================

func (ns *namespace) status(n *inode, name string) *hadoop.HdfsFileStatus {
	st := &hadoop.HdfsFileStatus{
		Path:             []byte(name),
		Permission:       hadoop.FsPermission{Perm: n.perm},
		Owner:            n.owner,
		Group:            n.group,
		ModificationTime: n.mtime,
		AccessTime:       n.atime,
		FileID:           n.id,
		ChildrenNum:      -1,
	}
	if n.dir {
		st.FileType = hadoop.FileTypeDir
		st.ChildrenNum = int32(len(n.children))
	} else {
		st.FileType = hadoop.FileTypeFile
		st.Length = n.length()
		st.BlockReplication = n.replication
		st.BlockSize = n.blockSize
	}
	return st
}

func (ns *namespace) located(b *block, offset uint64) *hadoop.LocatedBlock {
	lb := &hadoop.LocatedBlock{
		B: hadoop.ExtendedBlock{
			PoolID:          ns.poolID,
			BlockID:         b.id,
			GenerationStamp: b.gen,
			NumBytes:        b.size,
		},
		Offset: offset,
	}
	for _, i := range b.nodes {
		lb.Locs = append(lb.Locs, ns.datanodes[i].info())
		lb.IsCached = append(lb.IsCached, false)
	}
	return lb
}

func (ns *namespace) locatedBlocks(n *inode, offset, length uint64) *hadoop.LocatedBlocks {
	end := offset + length
	if end < offset {
		end = unchanged
	}

	lbs := &hadoop.LocatedBlocks{
		FileLength:          n.length(),
		UnderConstruction:   n.holder != "",
		IsLastBlockComplete: n.holder == "",
	}
	var pos uint64
	for _, b := range n.blocks {
		if pos+b.size > offset && pos < end {
			lbs.Blocks = append(lbs.Blocks, ns.located(b, pos))
		}
		pos += b.size
	}
	if len(n.blocks) > 0 {
		last := n.blocks[len(n.blocks)-1]
		lbs.LastBlock = ns.located(last, pos-last.size)
	}
	return lbs
}

func (ns *namespace) dropReplicas(blocks []*block) {
	for _, b := range blocks {
		for _, node := range b.nodes {
			if err := ns.store.delete(node, b.id); err != nil {
				logger.Warn("minicluster: delete replica %d on node %d: %v", b.id, node, err)
			}
		}
	}
}

func (ns *namespace) dropTree(n *inode) {
	if !n.dir {
		ns.dropReplicas(n.blocks)
		return
	}
	for _, child := range n.children {
		ns.dropTree(child)
	}
}

// ============================================================================
// Queries
// ============================================================================

func (ns *namespace) getFileInfo(_ *caller, req *hadoop.GetFileInfoRequest) (*hadoop.GetFileInfoResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return &hadoop.GetFileInfoResponse{}, nil
	}
	return &hadoop.GetFileInfoResponse{Fs: ns.status(n, "")}, nil
}

func (ns *namespace) getListing(_ *caller, req *hadoop.GetListingRequest) (*hadoop.GetListingResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return &hadoop.GetListingResponse{}, nil
	}

	listing := &hadoop.DirectoryListing{}
	if !n.dir {
		listing.PartialListing = append(listing.PartialListing, ns.withLocations(n, "", req.NeedLocation))
		return &hadoop.GetListingResponse{DirList: listing}, nil
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)

	start, found := slices.BinarySearch(names, string(req.StartAfter))
	if found {
		start++
	}
	end := min(start+ns.cfg.ListingLimit, len(names))
	for _, name := range names[start:end] {
		listing.PartialListing = append(listing.PartialListing, ns.withLocations(n.children[name], name, req.NeedLocation))
	}
	listing.RemainingEntries = uint32(len(names) - end)
	return &hadoop.GetListingResponse{DirList: listing}, nil
}

func (ns *namespace) withLocations(n *inode, name string, need bool) *hadoop.HdfsFileStatus {
	st := ns.status(n, name)
	if need && !n.dir {
		st.Locations = ns.locatedBlocks(n, 0, n.length())
	}
	return st
}

func (ns *namespace) getBlockLocations(_ *caller, req *hadoop.GetBlockLocationsRequest) (*hadoop.GetBlockLocationsResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookupFile(req.Src)
	if err != nil {
		return nil, err
	}
	n.atime = now()
	return &hadoop.GetBlockLocationsResponse{Locations: ns.locatedBlocks(n, req.Offset, req.Length)}, nil
}

func (ns *namespace) getContentSummary(_ *caller, req *hadoop.GetContentSummaryRequest) (*hadoop.GetContentSummaryResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Path)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fileNotFound(req.Path)
	}

	summary := hadoop.ContentSummary{Quota: -1, SpaceQuota: -1}
	var visit func(n *inode)
	visit = func(n *inode) {
		if !n.dir {
			summary.FileCount++
			summary.Length += n.length()
			summary.SpaceConsumed += n.length() * uint64(n.replication)
			return
		}
		summary.DirectoryCount++
		for _, child := range n.children {
			visit(child)
		}
	}
	visit(n)
	return &hadoop.GetContentSummaryResponse{Summary: summary}, nil
}

func (ns *namespace) getFsStats(_ *caller, _ *hadoop.Empty) (*hadoop.GetFsStatsResponse, error) {
	var used uint64
	for i := range ns.datanodes {
		n, err := ns.store.usage(i)
		if err != nil {
			return nil, remote(classIOException, "usage of data node %d: %v", i, err)
		}
		used += uint64(n)
	}
	capacity := uint64(ns.cfg.Capacity) * uint64(len(ns.datanodes))
	var remaining uint64
	if capacity > used {
		remaining = capacity - used
	}
	return &hadoop.GetFsStatsResponse{Capacity: capacity, Used: used, Remaining: remaining}, nil
}

func (ns *namespace) getServerDefaults(_ *caller, _ *hadoop.Empty) (*hadoop.GetServerDefaultsResponse, error) {
	return &hadoop.GetServerDefaultsResponse{ServerDefaults: hadoop.FsServerDefaults{
		BlockSize:        uint64(ns.cfg.BlockSize),
		BytesPerChecksum: hadoop.DefaultBytesPerChecksum,
		WritePacketSize:  64 << 10,
		Replication:      uint32(ns.cfg.Replication),
		FileBufferSize:   4096,
		ChecksumType:     hadoop.ChecksumCRC32C,
	}}, nil
}

// ============================================================================
// Namespace mutations
// ============================================================================

func (ns *namespace) mkdirs(c *caller, req *hadoop.MkdirsRequest) (*hadoop.BoolResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	perm := req.Masked.Perm
	if perm == 0 {
		perm = 0o755
	}
	if _, err := ns.makeDirs(c, req.Src, perm, req.CreateParent); err != nil {
		return nil, err
	}
	return &hadoop.BoolResponse{Result: true}, nil
}

// makeDirs creates the directory p, and its missing parents when parents is
// set, returning the directory.
func (ns *namespace) makeDirs(c *caller, p string, perm uint32, parents bool) (*inode, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	cur := ns.root
	for i, name := range parts {
		child := cur.children[name]
		last := i == len(parts)-1
		switch {
		case child == nil:
			if !last && !parents {
				return nil, remote(classFileNotFound, "Parent directory doesn't exist: %s", "/"+strings.Join(parts[:i+1], "/"))
			}
			if err := ns.checkWrite(c, cur); err != nil {
				return nil, err
			}
			child = ns.newChild(cur, name, c, perm, true)
		case !child.dir && last:
			return nil, remote(classAlreadyExists, "Path is not a directory: %s", p)
		case !child.dir:
			return nil, remote(classParentNotDir, "Parent path is not a directory: %s", child.path())
		}
		cur = child
	}
	return cur, nil
}

func (ns *namespace) rename(c *caller, req *hadoop.RenameRequest) (*hadoop.BoolResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	failed := &hadoop.BoolResponse{Result: false}

	src, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if src == nil || src.parent == nil {
		return failed, nil
	}

	dst, err := ns.lookup(req.Dst)
	if err != nil {
		return nil, err
	}

	var newParent *inode
	var newName string
	switch {
	case dst != nil && dst.dir:
		newParent, newName = dst, src.name
		if dst.children[newName] != nil {
			return failed, nil
		}
	case dst != nil:
		return failed, nil
	default:
		parent, name, err := ns.lookupParent(req.Dst)
		if err != nil || parent == nil {
			return failed, nil
		}
		newParent, newName = parent, name
	}
	if src.isAncestorOf(newParent) {
		return failed, nil
	}
	if err := ns.checkWrite(c, src.parent); err != nil {
		return nil, err
	}
	if err := ns.checkWrite(c, newParent); err != nil {
		return nil, err
	}

	ts := now()
	delete(src.parent.children, src.name)
	src.parent.mtime = ts
	src.name = newName
	src.parent = newParent
	newParent.children[newName] = src
	newParent.mtime = ts
	return &hadoop.BoolResponse{Result: true}, nil
}

func (ns *namespace) deletePath(c *caller, req *hadoop.DeleteRequest) (*hadoop.BoolResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil || n.parent == nil {
		return &hadoop.BoolResponse{Result: false}, nil
	}
	if n.dir && len(n.children) > 0 && !req.Recursive {
		return nil, remote(classNotEmpty, "`%s is non empty': Directory is not empty", req.Src)
	}
	if err := ns.checkWrite(c, n.parent); err != nil {
		return nil, err
	}

	ns.dropTree(n)
	delete(n.parent.children, n.name)
	n.parent.mtime = now()
	return &hadoop.BoolResponse{Result: true}, nil
}

func (ns *namespace) setPermission(c *caller, req *hadoop.SetPermissionRequest) (*hadoop.Empty, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fileNotFound(req.Src)
	}
	if err := ns.checkOwner(c, n); err != nil {
		return nil, err
	}
	n.perm = req.Permission.Perm & 0o7777
	return &hadoop.Empty{}, nil
}

func (ns *namespace) setOwner(c *caller, req *hadoop.SetOwnerRequest) (*hadoop.Empty, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fileNotFound(req.Src)
	}
	if err := ns.checkOwner(c, n); err != nil {
		return nil, err
	}
	if req.Username != "" {
		n.owner = req.Username
	}
	if req.Groupname != "" {
		n.group = req.Groupname
	}
	return &hadoop.Empty{}, nil
}

func (ns *namespace) setReplication(_ *caller, req *hadoop.SetReplicationRequest) (*hadoop.BoolResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fileNotFound(req.Src)
	}
	if n.dir {
		return &hadoop.BoolResponse{Result: false}, nil
	}
	if req.Replication > maxReplicas {
		return nil, remote(classIOException, "Requested replication factor of %d exceeds maximum of %d for %s", req.Replication, maxReplicas, req.Src)
	}
	n.replication = req.Replication
	return &hadoop.BoolResponse{Result: true}, nil
}

func (ns *namespace) setTimes(_ *caller, req *hadoop.SetTimesRequest) (*hadoop.Empty, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fileNotFound(req.Src)
	}
	if req.Mtime != unchanged {
		n.mtime = req.Mtime
	}
	if req.Atime != unchanged {
		n.atime = req.Atime
	}
	return &hadoop.Empty{}, nil
}

func (ns *namespace) concat(c *caller, req *hadoop.ConcatRequest) (*hadoop.Empty, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	trg, err := ns.lookupFile(req.Trg)
	if err != nil {
		return nil, err
	}
	if len(req.Srcs) == 0 {
		return nil, remote(classIllegalArgument, "concat: srcs list is empty")
	}
	if err := ns.checkWrite(c, trg.parent); err != nil {
		return nil, err
	}

	srcs := make([]*inode, 0, len(req.Srcs))
	for _, p := range req.Srcs {
		src, err := ns.lookupFile(p)
		if err != nil {
			return nil, err
		}
		switch {
		case src == trg:
			return nil, remote(classIllegalArgument, "concat: the src file %s is the same with the target file %s", p, req.Trg)
		case src.parent != trg.parent:
			return nil, remote(classIllegalArgument, "concat: source file %s and target file %s should be in same directory", p, req.Trg)
		case slices.Contains(srcs, src):
			return nil, remote(classIllegalArgument, "concat: %s is listed twice", p)
		case src.holder != "":
			return nil, remote(classIllegalArgument, "concat: source file %s is under construction", p)
		}
		srcs = append(srcs, src)
	}

	for _, src := range srcs {
		trg.blocks = append(trg.blocks, src.blocks...)
		delete(src.parent.children, src.name)
	}
	ts := now()
	trg.mtime = ts
	trg.parent.mtime = ts
	return &hadoop.Empty{}, nil
}

func (ns *namespace) truncate(_ *caller, req *hadoop.TruncateRequest) (*hadoop.BoolResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookupFile(req.Src)
	if err != nil {
		return nil, err
	}
	if n.holder != "" {
		return nil, remote(classBeingCreated, "Failed to TRUNCATE_FILE %s for %s because the file is open by %s", req.Src, req.ClientName, n.holder)
	}
	length := n.length()
	if req.NewLength > length {
		return nil, remote(classIllegalArgument, "Cannot truncate to a larger file size. Current size: %d, truncate size: %d.", length, req.NewLength)
	}

	var kept []*block
	var pos uint64
	for _, b := range n.blocks {
		switch {
		case pos >= req.NewLength:
			ns.dropReplicas([]*block{b})
		case pos+b.size > req.NewLength:
			cut := req.NewLength - pos
			for _, node := range b.nodes {
				if err := ns.store.truncate(node, b.id, int(cut)); err != nil {
					return nil, remote(classIOException, "truncate replica %d on node %d: %v", b.id, node, err)
				}
			}
			b.size = cut
			kept = append(kept, b)
		default:
			kept = append(kept, b)
		}
		pos += b.size
	}
	n.blocks = kept
	n.mtime = now()
	return &hadoop.BoolResponse{Result: true}, nil
}

// ============================================================================
// Write path
// ============================================================================

func (ns *namespace) create(c *caller, req *hadoop.CreateRequest) (*hadoop.CreateResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	parent, name, err := ns.lookupParent(req.Src)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, remote(classAlreadyExists, "%s already exists as a directory", req.Src)
	}
	if parent == nil {
		dir := path.Dir(path.Clean(req.Src))
		if !req.CreateParent {
			return nil, remote(classFileNotFound, "Parent directory doesn't exist: %s", dir)
		}
		if parent, err = ns.makeDirs(c, dir, 0o755, true); err != nil {
			return nil, err
		}
	}
	if err := ns.checkWrite(c, parent); err != nil {
		return nil, err
	}

	if existing := parent.children[name]; existing != nil {
		switch {
		case existing.dir:
			return nil, remote(classAlreadyExists, "%s already exists as a directory", req.Src)
		case existing.holder != "":
			return nil, remote(classBeingCreated, "failed to create file %s for %s because the file is open by %s", req.Src, req.ClientName, existing.holder)
		case req.CreateFlag&hadoop.CreateFlagOverwrite == 0:
			return nil, remote(classAlreadyExists, "%s for client %s already exists", req.Src, req.ClientName)
		}
		ns.dropTree(existing)
		delete(parent.children, name)
	}

	replication := req.Replication
	if replication == 0 {
		replication = uint32(ns.cfg.Replication)
	}
	if replication > maxReplicas {
		return nil, remote(classIOException, "Requested replication factor of %d exceeds maximum of %d for %s", replication, maxReplicas, req.Src)
	}
	blockSize := req.BlockSize
	if blockSize == 0 {
		blockSize = uint64(ns.cfg.BlockSize)
	}
	if blockSize%hadoop.DefaultBytesPerChecksum != 0 {
		return nil, remote(classIOException, "Invalid values: dfs.bytes-per-checksum (=%d) must divide block size (=%d).", hadoop.DefaultBytesPerChecksum, blockSize)
	}
	perm := req.Masked.Perm
	if perm == 0 {
		perm = 0o644
	}

	n := ns.newChild(parent, name, c, perm, false)
	n.replication = replication
	n.blockSize = blockSize
	n.holder = req.ClientName
	n.completeIn = ns.cfg.CompleteDelay
	return &hadoop.CreateResponse{Fs: ns.status(n, "")}, nil
}

func (ns *namespace) appendFile(_ *caller, req *hadoop.AppendRequest) (*hadoop.AppendResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookup(req.Src)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, remote(classFileNotFound, "failed to append to non-existent file %s for client %s", req.Src, req.ClientName)
	}
	if n.dir {
		return nil, remote(classFileNotFound, "failed to append to non-file %s for client %s", req.Src, req.ClientName)
	}
	if n.holder != "" {
		return nil, remote(classBeingCreated, "Failed to APPEND_FILE %s for %s because the file is open by %s", req.Src, req.ClientName, n.holder)
	}

	n.holder = req.ClientName
	n.completeIn = ns.cfg.CompleteDelay

	resp := &hadoop.AppendResponse{Stat: ns.status(n, "")}
	if len(n.blocks) > 0 {
		last := n.blocks[len(n.blocks)-1]
		if last.size < n.blockSize {
			ns.genStamp++
			last.gen = ns.genStamp
			resp.Block = ns.located(last, n.length()-last.size)
		}
	}
	return resp, nil
}

// checkLease returns the file at p if clientName holds its lease.
func (ns *namespace) checkLease(p, clientName string) (*inode, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return nil, err
	}
	if n == nil || n.dir {
		return nil, remote(classLeaseExpired, "No lease on %s: File does not exist.", p)
	}
	if n.holder != clientName {
		return nil, remote(classLeaseExpired, "No lease on %s (inode %d): File is not open for writing. Holder %s does not have any open files.", p, n.id, clientName)
	}
	return n, nil
}

// commitLast records the length the client reports for the last block.
func commitLast(n *inode, last *hadoop.ExtendedBlock) error {
	if last == nil {
		return nil
	}
	if len(n.blocks) == 0 || n.blocks[len(n.blocks)-1].id != last.BlockID {
		return remote(classIOException, "block %d is not the last block of %s", last.BlockID, n.path())
	}
	n.blocks[len(n.blocks)-1].size = last.NumBytes
	return nil
}

func (ns *namespace) addBlock(_ *caller, req *hadoop.AddBlockRequest) (*hadoop.AddBlockResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.checkLease(req.Src, req.ClientName)
	if err != nil {
		return nil, err
	}
	if err := commitLast(n, req.Previous); err != nil {
		return nil, err
	}

	targets := ns.chooseTargets(int(n.replication), req.ExcludeNodes)
	if len(targets) == 0 {
		return nil, remote(classIOException, "File %s could only be written to 0 of the 1 minReplication nodes. There are %d datanode(s) running and %d node(s) are excluded in this operation.",
			req.Src, len(ns.liveNodes()), len(req.ExcludeNodes))
	}

	b := &block{id: ns.nextBlock, gen: ns.genStamp, nodes: targets}
	ns.nextBlock++
	offset := n.length()
	n.blocks = append(n.blocks, b)
	logger.Debug("minicluster: allocated block %d for %s on nodes %v", b.id, req.Src, targets)
	return &hadoop.AddBlockResponse{Block: *ns.located(b, offset)}, nil
}

func (ns *namespace) liveNodes() []int {
	var live []int
	for i, dn := range ns.datanodes {
		if dn.running() {
			live = append(live, i)
		}
	}
	return live
}

// chooseTargets picks up to replication live data nodes, rotating the first
// choice so replicas spread over the cluster.
func (ns *namespace) chooseTargets(replication int, exclude []*hadoop.DatanodeInfo) []int {
	var candidates []int
	for _, i := range ns.liveNodes() {
		uuid := ns.datanodes[i].uuid
		if !slices.ContainsFunc(exclude, func(d *hadoop.DatanodeInfo) bool { return d.ID.DatanodeUUID == uuid }) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	start := int(ns.nextBlock % uint64(len(candidates)))
	targets := make([]int, 0, replication)
	for k := 0; k < len(candidates) && len(targets) < replication; k++ {
		targets = append(targets, candidates[(start+k)%len(candidates)])
	}
	return targets
}

func (ns *namespace) complete(_ *caller, req *hadoop.CompleteRequest) (*hadoop.BoolResponse, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.checkLease(req.Src, req.ClientName)
	if err != nil {
		return nil, err
	}
	if err := commitLast(n, req.Last); err != nil {
		return nil, err
	}
	if n.completeIn > 0 {
		n.completeIn--
		return &hadoop.BoolResponse{Result: false}, nil
	}
	n.holder = ""
	n.mtime = now()
	return &hadoop.BoolResponse{Result: true}, nil
}

func (ns *namespace) abandonBlock(_ *caller, req *hadoop.AbandonBlockRequest) (*hadoop.Empty, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.checkLease(req.Src, req.Holder)
	if err != nil {
		return nil, err
	}
	if len(n.blocks) > 0 {
		if last := n.blocks[len(n.blocks)-1]; last.id == req.B.BlockID {
			n.blocks = n.blocks[:len(n.blocks)-1]
			ns.dropReplicas([]*block{last})
		}
	}
	return &hadoop.Empty{}, nil
}

func (ns *namespace) renewLease(_ *caller, req *hadoop.RenewLeaseRequest) (*hadoop.Empty, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.renewals[req.ClientName]++
	return &hadoop.Empty{}, nil
}

// ============================================================================
// Introspection
// ============================================================================

func (ns *namespace) leaseRenewals() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	total := 0
	for _, n := range ns.renewals {
		total += n
	}
	return total
}

func (ns *namespace) blockNodes(p string, index int) ([]int, uint64, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n, err := ns.lookupFile(p)
	if err != nil {
		return nil, 0, err
	}
	if index < 0 || index >= len(n.blocks) {
		return nil, 0, fmt.Errorf("%s has %d blocks, no block %d", p, len(n.blocks), index)
	}
	b := n.blocks[index]
	return slices.Clone(b.nodes), b.id, nil
}
