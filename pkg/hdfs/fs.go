// Package hdfs is a native HDFS client presenting a distributed filesystem as
// a conventional hierarchical filesystem.
//
// A FileSystem holds one session with the name node. Files opened through it
// stream their data directly to and from data nodes:
//
//	fs, err := hdfs.New(opts, nil)
//	if err != nil {
//	    return err
//	}
//	if err := fs.Connect(ctx); err != nil {
//	    return err
//	}
//	defer fs.Disconnect()
//
//	f, err := fs.Open(ctx, "/data/input.csv", hdfs.ModeRead, hdfs.OpenOptions{})
//
// Every error returned by this package is an *fserror.Error.
package hdfs

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/metadata"
	"github.com/marmos91/dittohdfs/pkg/metrics"
	"github.com/marmos91/dittohdfs/pkg/rpc"
	"github.com/marmos91/dittohdfs/pkg/transfer"
)

// FileSystem is a connection to one HDFS cluster.
//
// Lifecycle:
//  1. Creation: New() validates the options; nothing is dialed
//  2. Connect(): establishes the name node session
//  3. Operations: path operations and Open()
//  4. Disconnect(): closes every open file and the session
//
// Thread safety:
// FileSystem is safe for concurrent use. Name node calls are serialized over
// the single session. Files are not safe for concurrent use, but different
// files can be used from different goroutines.
//
// Metadata and block locations are never cached: every call asks the name
// node again.
type FileSystem struct {
	opts       *config.Options
	metrics    metrics.ClientMetrics
	clientName string

	// mu guards the session, the open files and the lease renewer
	mu      sync.Mutex
	conn    *rpc.Conn
	meta    *metadata.Client
	files   map[*File]struct{}
	writers int
	renewer *leaseRenewer
}

// New returns a disconnected FileSystem for the cluster described by opts.
//
// Parameters:
//   - opts: Client options, defaults are applied to a copy
//   - m: Metrics collector (nil for none)
//
// Returns:
//   - *FileSystem: Disconnected filesystem
//   - error: ArgumentError when the options are invalid, including a Kerberos
//     ticket cache combined with a delegation token
func New(opts *config.Options, m metrics.ClientMetrics) (*FileSystem, error) {
	if opts == nil {
		return nil, fserror.Argument("connect", "no options")
	}
	o := *opts
	config.ApplyDefaults(&o)
	if err := config.Validate(&o); err != nil {
		return nil, fserror.Wrap(fserror.KindArgument, "connect", "", err)
	}

	return &FileSystem{
		opts:       &o,
		metrics:    metrics.OrNoop(m),
		clientName: "DFSClient_" + uuid.NewString(),
		files:      make(map[*File]struct{}),
	}, nil
}

// Connect establishes the session with the name node. Transient dial failures
// are retried as configured; a rejected handshake is not.
//
// Returns ConnectionError when the FileSystem is already connected, or when the
// name node cannot be reached or rejects authentication.
func (fs *FileSystem) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.conn != nil {
		return fserror.New(fserror.KindConnection, "connect", "", "already connected to %s", fs.opts.Address())
	}
	conn, err := rpc.Dial(ctx, fs.opts, fs.metrics)
	if err != nil {
		return err
	}
	fs.conn = conn
	fs.meta = metadata.New(conn, fs.clientName)
	if len(fs.opts.Extra) > 0 {
		logger.Debug("Passthrough parameters not interpreted by the client: %v", fs.opts.Extra)
	}
	return nil
}

// Connected reports whether Connect succeeded and Disconnect was not called
// since.
func (fs *FileSystem) Connected() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conn != nil
}

// Disconnect closes every open file and the session. Files closed this way
// fail every further operation. Disconnect is idempotent.
func (fs *FileSystem) Disconnect() error {
	fs.mu.Lock()
	conn := fs.conn
	fs.conn = nil
	fs.meta = nil
	files := make([]*File, 0, len(fs.files))
	for f := range fs.files {
		files = append(files, f)
	}
	clear(fs.files)
	fs.metrics.SetOpenFiles(0)
	renewer := fs.renewer
	fs.renewer = nil
	fs.writers = 0
	fs.mu.Unlock()

	if conn == nil {
		return nil
	}
	if len(files) > 0 {
		logger.Warn("Disconnecting with %d open files", len(files))
	}
	for _, f := range files {
		f.interrupt(fserror.New(fserror.KindIO, "close", f.name, "filesystem not connected"))
	}
	if renewer != nil {
		renewer.stop()
	}
	return conn.Close()
}

// Options returns the effective options.
func (fs *FileSystem) Options() *config.Options {
	return fs.opts
}

// ClientName returns the name this client holds leases under.
func (fs *FileSystem) ClientName() string {
	return fs.clientName
}

func (fs *FileSystem) client(op string) (*metadata.Client, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.meta == nil {
		return nil, fserror.New(fserror.KindIO, op, "", "filesystem not connected")
	}
	return fs.meta, nil
}

func (fs *FileSystem) transferOptions() *transfer.Options {
	return &transfer.Options{
		ClientName:   fs.clientName,
		DialTimeout:  fs.opts.ConnectTimeout,
		ReadTimeout:  fs.opts.ReadTimeout,
		WriteTimeout: fs.opts.WriteTimeout,
		Metrics:      fs.metrics,
	}
}

// track registers an open file. Write handles keep the lease renewer running.
func (fs *FileSystem) track(f *File) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn == nil {
		return fserror.New(fserror.KindIO, "open", f.name, "filesystem not connected")
	}
	fs.files[f] = struct{}{}
	if f.mode != ModeRead {
		fs.writers++
		if fs.renewer == nil {
			fs.renewer = startLeaseRenewer(fs.meta, fs.opts.LeaseRenewInterval)
		}
	}
	fs.metrics.SetOpenFiles(len(fs.files))
	return nil
}

func (fs *FileSystem) untrack(f *File) {
	fs.mu.Lock()
	if _, ok := fs.files[f]; !ok {
		fs.mu.Unlock()
		return
	}
	delete(fs.files, f)
	var renewer *leaseRenewer
	if f.mode != ModeRead {
		fs.writers--
		if fs.writers == 0 {
			renewer = fs.renewer
			fs.renewer = nil
		}
	}
	fs.metrics.SetOpenFiles(len(fs.files))
	fs.mu.Unlock()

	if renewer != nil {
		renewer.stop()
	}
}

// ============================================================================
// Metadata operations
// ============================================================================

// Stat returns information about p.
func (fs *FileSystem) Stat(ctx context.Context, p string) (*metadata.PathInfo, error) {
	mc, err := fs.client("stat")
	if err != nil {
		return nil, err
	}
	return mc.Stat(ctx, p)
}

// List returns the entries of directory p, or p itself when it is a file.
func (fs *FileSystem) List(ctx context.Context, p string) ([]*metadata.PathInfo, error) {
	mc, err := fs.client("list")
	if err != nil {
		return nil, err
	}
	return mc.List(ctx, p)
}

// Exists reports whether p exists.
func (fs *FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	mc, err := fs.client("exists")
	if err != nil {
		return false, err
	}
	return mc.Exists(ctx, p)
}

// Mkdir creates directory p with its missing parents.
func (fs *FileSystem) Mkdir(ctx context.Context, p string) error {
	mc, err := fs.client("mkdir")
	if err != nil {
		return err
	}
	return mc.Mkdir(ctx, p, 0)
}

// MkdirAll creates directory p with its missing parents and permission perm.
// A path that already exists is not an error.
func (fs *FileSystem) MkdirAll(ctx context.Context, p string, perm os.FileMode) error {
	mc, err := fs.client("mkdir")
	if err != nil {
		return err
	}
	err = mc.Mkdir(ctx, p, perm)
	if fserror.KindOf(err) == fserror.KindExists {
		return nil
	}
	return err
}

// Rename moves oldPath to newPath.
func (fs *FileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	mc, err := fs.client("rename")
	if err != nil {
		return err
	}
	return mc.Rename(ctx, oldPath, newPath)
}

// Delete removes p. Removing a non-empty directory requires recursive.
func (fs *FileSystem) Delete(ctx context.Context, p string, recursive bool) error {
	mc, err := fs.client("delete")
	if err != nil {
		return err
	}
	return mc.Delete(ctx, p, recursive)
}

// Chmod sets the permission bits of p.
func (fs *FileSystem) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	mc, err := fs.client("chmod")
	if err != nil {
		return err
	}
	return mc.SetPermissions(ctx, p, mode)
}

// Chown sets the owner and group of p. An empty value is left unchanged.
func (fs *FileSystem) Chown(ctx context.Context, p, owner, group string) error {
	mc, err := fs.client("chown")
	if err != nil {
		return err
	}
	return mc.SetOwner(ctx, p, owner, group)
}

// SetReplication sets the replication factor of file p. Zero selects the
// cluster default.
func (fs *FileSystem) SetReplication(ctx context.Context, p string, n int) error {
	if n < 0 {
		return fserror.Argument("setReplication", "replication must be non-negative, got %d", n)
	}
	mc, err := fs.client("setReplication")
	if err != nil {
		return err
	}
	return mc.SetReplication(ctx, p, n)
}

// SetTimes sets the modification and access times of p. A zero time is left
// unchanged.
func (fs *FileSystem) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	mc, err := fs.client("setTimes")
	if err != nil {
		return err
	}
	return mc.SetTimes(ctx, p, mtime, atime)
}

// GetBlockLocations returns the blocks covering [offset, offset+length) of
// file p. A zero length means up to the end of the file.
func (fs *FileSystem) GetBlockLocations(ctx context.Context, p string, offset, length int64) ([]metadata.BlockLocation, error) {
	mc, err := fs.client("getBlockLocations")
	if err != nil {
		return nil, err
	}
	return mc.GetBlockLocations(ctx, p, offset, length)
}

// ContentSummary returns the aggregated size of the subtree at p.
func (fs *FileSystem) ContentSummary(ctx context.Context, p string) (*metadata.ContentSummary, error) {
	mc, err := fs.client("getContentSummary")
	if err != nil {
		return nil, err
	}
	return mc.ContentSummary(ctx, p)
}

// FsStatus returns the capacity and usage of the cluster.
func (fs *FileSystem) FsStatus(ctx context.Context) (*metadata.FsStatus, error) {
	mc, err := fs.client("getFsStats")
	if err != nil {
		return nil, err
	}
	return mc.FsStatus(ctx)
}

// ServerDefaults returns the cluster defaults for new files.
func (fs *FileSystem) ServerDefaults(ctx context.Context) (*metadata.ServerDefaults, error) {
	mc, err := fs.client("getServerDefaults")
	if err != nil {
		return nil, err
	}
	return mc.ServerDefaults(ctx)
}

// Truncate shortens file p to size bytes. Name nodes that do not support
// truncation return a NotSupported error. The result reports whether the file
// is immediately usable; false means the last block is still being recovered.
func (fs *FileSystem) Truncate(ctx context.Context, p string, size int64) (bool, error) {
	mc, err := fs.client("truncate")
	if err != nil {
		return false, err
	}
	return mc.Truncate(ctx, p, size)
}

// Walk visits root and everything below it, directories before their
// contents. See metadata.WalkFunc.
func (fs *FileSystem) Walk(ctx context.Context, root string, fn metadata.WalkFunc) error {
	mc, err := fs.client("walk")
	if err != nil {
		return err
	}
	return mc.Walk(ctx, root, fn)
}

// DiskUsage maps the entries of p to their sizes. deep lists subdirectories
// recursively; total sums everything into a single entry for p.
func (fs *FileSystem) DiskUsage(ctx context.Context, p string, total, deep bool) (map[string]int64, error) {
	mc, err := fs.client("du")
	if err != nil {
		return nil, err
	}
	return mc.DiskUsage(ctx, p, total, deep)
}
