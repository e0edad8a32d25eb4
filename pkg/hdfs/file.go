package hdfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/metadata"
	"github.com/marmos91/dittohdfs/pkg/transfer"
)

// Mode is the access mode of an open file.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "rb"
	case ModeWrite:
		return "wb"
	case ModeAppend:
		return "ab"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "r", "w" or "a", each optionally followed by "b". Files are
// binary only: a text mode is rejected with the name of its binary
// equivalent.
func ParseMode(s string) (Mode, error) {
	if strings.Contains(s, "t") {
		binary := strings.ReplaceAll(s, "t", "")
		if !strings.Contains(binary, "b") {
			binary += "b"
		}
		return 0, fserror.Argument("open", "text mode %q is not supported, use binary mode %q", s, binary)
	}
	switch s {
	case "r", "rb":
		return ModeRead, nil
	case "w", "wb":
		return ModeWrite, nil
	case "a", "ab":
		return ModeAppend, nil
	default:
		return 0, fserror.Argument("open", "invalid mode %q", s)
	}
}

// OpenOptions tunes an opened file. Zero values select the defaults.
type OpenOptions struct {
	// Replication is the replication factor of a new file
	// Default: Options.Replication, then the cluster default
	Replication int

	// BlockSize is the block size of a new file, only valid for ModeWrite
	// Default: Options.BlockSize, then the cluster default
	BlockSize int64

	// BufferSize is the buffer used by ReadFrom and WriteTo
	// Default: Options.BufferSize
	BufferSize int
}

const (
	// completeAttempts bounds how often Close asks the name node to complete a
	// file whose last block is not yet reported.
	completeAttempts = 10

	// completeBackoff is the first wait between complete attempts; it doubles
	// after every attempt.
	completeBackoff = 50 * time.Millisecond

	// pipelineAttempts bounds how often a new block is requested after its
	// pipeline could not be set up.
	pipelineAttempts = 3
)

// File is an open HDFS file.
//
// In ModeRead the file reads block after block, asking the name node for the
// location of each block as the offset reaches it. In ModeWrite and ModeAppend
// data is streamed to the write pipeline of the current block and a new block
// is allocated whenever one fills up; Close completes the file.
//
// A File is not safe for concurrent use. Close, or Disconnect on the owning
// FileSystem, interrupts an operation blocked in another goroutine.
type File struct {
	fs     *FileSystem
	meta   *metadata.Client
	name   string
	mode   Mode
	ctx    context.Context
	cancel context.CancelFunc

	offset     int64
	bufferSize int
	released   bool

	// mu guards the fields shared with interrupt
	mu        sync.Mutex
	closedErr error
	reader    *transfer.BlockReader
	writer    *transfer.BlockWriter

	// read mode
	size int64

	// write modes
	fileID      uint64
	blockSize   int64
	replication int
	last        *hadoop.ExtendedBlock
}

// Open opens file p.
//
// ModeWrite creates the file, replacing an existing one; its parent directory
// must exist. ModeAppend continues an existing file, or creates it. ModeRead
// requires an existing file.
//
// Returns:
//   - *File: Open file positioned at its start (ModeAppend: at its end)
//   - error: ArgumentError for invalid options, checked before any network
//     I/O; NotFoundError for a missing file or parent directory
func (fs *FileSystem) Open(ctx context.Context, p string, mode Mode, opts OpenOptions) (*File, error) {
	if opts.Replication < 0 {
		return nil, fserror.Argument("open", "replication must be non-negative, got %d", opts.Replication)
	}
	if opts.BlockSize < 0 {
		return nil, fserror.Argument("open", "block size must be non-negative, got %d", opts.BlockSize)
	}
	if opts.BlockSize > 0 && mode != ModeWrite {
		return nil, fserror.Argument("open", "block size is only valid when writing a new file")
	}
	if opts.BufferSize < 0 {
		return nil, fserror.Argument("open", "buffer size must be non-negative, got %d", opts.BufferSize)
	}
	if mode < ModeRead || mode > ModeAppend {
		return nil, fserror.Argument("open", "invalid mode %d", int(mode))
	}
	name, err := metadata.CleanPath(p)
	if err != nil {
		return nil, err
	}
	mc, err := fs.client("open")
	if err != nil {
		return nil, err
	}

	fctx, cancel := context.WithCancel(context.Background())
	f := &File{
		fs:          fs,
		meta:        mc,
		name:        name,
		mode:        mode,
		ctx:         fctx,
		cancel:      cancel,
		bufferSize:  opts.BufferSize,
		replication: opts.Replication,
		blockSize:   opts.BlockSize,
	}
	if f.bufferSize == 0 {
		f.bufferSize = fs.opts.BufferSize
	}
	if f.replication == 0 {
		f.replication = fs.opts.Replication
	}
	if f.blockSize == 0 {
		f.blockSize = fs.opts.BlockSize
	}

	switch mode {
	case ModeRead:
		err = f.openRead(ctx)
	case ModeWrite:
		err = f.openWrite(ctx)
	case ModeAppend:
		err = f.openAppend(ctx, opts.Replication)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	if err := fs.track(f); err != nil {
		f.abort()
		return nil, err
	}
	logger.Debug("Opened %s (%s)", f.name, f.mode)
	return f, nil
}

func (f *File) openRead(ctx context.Context) error {
	info, err := f.meta.Stat(ctx, f.name)
	if err != nil {
		return fserror.WithPath(err, f.name)
	}
	if info.IsDir() {
		return fserror.New(fserror.KindArgument, "open", f.name, "is a directory")
	}
	f.size = info.Size
	return nil
}

func (f *File) openWrite(ctx context.Context) error {
	info, err := f.meta.Create(ctx, f.name, metadata.CreateOptions{
		Overwrite:   true,
		Replication: f.replication,
		BlockSize:   f.blockSize,
	})
	if err != nil {
		return err
	}
	return f.adopt(ctx, info)
}

func (f *File) openAppend(ctx context.Context, replication int) error {
	info, err := f.meta.Stat(ctx, f.name)
	if fserror.KindOf(err) == fserror.KindNotFound {
		return f.openWrite(ctx)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fserror.New(fserror.KindArgument, "open", f.name, "is a directory")
	}
	if replication > 0 && info.Replication > 1 {
		return fserror.New(fserror.KindArgument, "open", f.name,
			"cannot change replication to %d while appending to a file with replication %d", replication, info.Replication)
	}

	lb, info, err := f.meta.Append(ctx, f.name)
	if err != nil {
		return err
	}
	if err := f.adopt(ctx, info); err != nil {
		return err
	}
	f.offset = info.Size
	if lb == nil {
		// The file ends on a block boundary; the next write allocates a
		// block after the current last one.
		if info.Size > 0 {
			located, err := f.meta.Locate(ctx, f.name, 0, info.Size)
			if err != nil {
				return err
			}
			if located.LastBlock != nil {
				b := located.LastBlock.B
				f.last = &b
			}
		}
		return nil
	}

	bw, err := transfer.NewBlockWriter(ctx, f.fs.transferOptions(), lb, hadoop.StagePipelineSetupAppend, int64(lb.B.NumBytes))
	if err != nil {
		return err
	}
	f.writer = bw
	return nil
}

// adopt takes the attributes the name node assigned to the file.
func (f *File) adopt(ctx context.Context, info *metadata.PathInfo) error {
	f.fileID = info.FileID
	f.replication = info.Replication
	f.blockSize = info.BlockSize
	if f.blockSize <= 0 {
		defaults, err := f.meta.ServerDefaults(ctx)
		if err != nil {
			return err
		}
		f.blockSize = defaults.BlockSize
	}
	return nil
}

// Name returns the cleaned path of the file.
func (f *File) Name() string {
	return f.name
}

// Mode returns the access mode.
func (f *File) Mode() Mode {
	return f.mode
}

// Size returns the length of the file: its length at open time in ModeRead,
// the bytes written so far otherwise.
func (f *File) Size() int64 {
	if f.mode == ModeRead {
		return f.size
	}
	return f.offset
}

// Tell returns the current offset.
func (f *File) Tell() int64 {
	return f.offset
}

// Stat returns fresh information about the file from the name node.
func (f *File) Stat(ctx context.Context) (*metadata.PathInfo, error) {
	if err := f.check("stat"); err != nil {
		return nil, err
	}
	return f.meta.Stat(ctx, f.name)
}

// BlockLocations returns every block of the file with the data nodes holding
// it, as the name node currently reports them.
func (f *File) BlockLocations(ctx context.Context) ([]metadata.BlockLocation, error) {
	if err := f.check("getBlockLocations"); err != nil {
		return nil, err
	}
	return f.meta.GetBlockLocations(ctx, f.name, 0, 0)
}

func (f *File) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closedErr != nil {
		return f.closedErr
	}
	if f.released {
		return fserror.New(fserror.KindIO, op, f.name, "file closed")
	}
	return nil
}

// ============================================================================
// Reading
// ============================================================================

// Read reads up to len(p) bytes. It returns io.EOF at the end of the file.
// Crossing a block boundary opens the next block transparently.
func (f *File) Read(p []byte) (int, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	if f.mode != ModeRead {
		return 0, fserror.New(fserror.KindArgument, "read", f.name, "file not open for reading")
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if f.offset >= f.size {
			return 0, io.EOF
		}
		br, err := f.blockReader()
		if err != nil {
			return 0, err
		}

		want := min(int64(len(p)), f.size-f.offset)
		n, err := br.Read(p[:want])
		f.offset += int64(n)
		if n > 0 {
			return n, nil
		}
		if errors.Is(err, io.EOF) {
			// End of this block: the next call resolves the following one.
			f.dropReader()
			continue
		}
		if cerr := f.check("read"); cerr != nil {
			return 0, cerr
		}
		return 0, fserror.WithPath(err, f.name)
	}
}

// blockReader returns the reader of the block holding the current offset,
// asking the name node for its locations when there is none.
func (f *File) blockReader() (*transfer.BlockReader, error) {
	f.mu.Lock()
	br := f.reader
	f.mu.Unlock()
	if br != nil {
		return br, nil
	}

	located, err := f.meta.Locate(f.ctx, f.name, f.offset, 1)
	if err != nil {
		return nil, err
	}
	var block *hadoop.LocatedBlock
	for _, b := range located.Blocks {
		start := int64(b.Offset)
		if start <= f.offset && f.offset < start+int64(b.B.NumBytes) {
			block = b
			break
		}
	}
	if block == nil {
		return nil, fserror.New(fserror.KindIO, "read", f.name, "no block holds offset %d", f.offset)
	}
	if len(block.Locs) == 0 {
		return nil, fserror.New(fserror.KindIO, "read", f.name, "block at offset %d has no replicas", block.Offset)
	}

	br = transfer.NewBlockReader(f.ctx, f.fs.transferOptions(), block, f.offset-int64(block.Offset))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closedErr != nil {
		_ = br.Close()
		return nil, f.closedErr
	}
	f.reader = br
	return br, nil
}

func (f *File) dropReader() {
	f.mu.Lock()
	br := f.reader
	f.reader = nil
	f.mu.Unlock()
	if br != nil {
		_ = br.Close()
	}
}

// Seek sets the offset for the next Read. Offsets outside [0, size] are
// rejected. Files open for writing only report their offset: seeking
// anywhere else is an error.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.check("seek"); err != nil {
		return 0, err
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.Size() + offset
	default:
		return 0, fserror.New(fserror.KindArgument, "seek", f.name, "invalid whence %d", whence)
	}

	if f.mode != ModeRead {
		if abs != f.offset {
			return 0, fserror.New(fserror.KindArgument, "seek", f.name, "cannot seek a file open for writing")
		}
		return abs, nil
	}
	if abs < 0 || abs > f.size {
		return 0, fserror.New(fserror.KindArgument, "seek", f.name, "offset %d outside [0, %d]", abs, f.size)
	}
	if abs != f.offset {
		f.dropReader()
		f.offset = abs
	}
	return abs, nil
}

// WriteTo writes the rest of the file to w.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, max(f.bufferSize, transfer.ChunkSize))
	var total int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// ============================================================================
// Writing
// ============================================================================

// Write appends p to the file. A failed write fails the file: later writes
// and Close return the same error and the file is not completed.
func (f *File) Write(p []byte) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	if f.mode == ModeRead {
		return 0, fserror.New(fserror.KindArgument, "write", f.name, "file not open for writing")
	}

	written := 0
	for written < len(p) {
		bw, err := f.blockWriter()
		if err != nil {
			return written, f.fail(err)
		}
		n := int(min(int64(len(p)-written), f.blockSize-bw.Size()))
		if _, err := bw.Write(p[written : written+n]); err != nil {
			return written, f.fail(f.writeError(err))
		}
		written += n
		f.offset += int64(n)

		if bw.Size() >= f.blockSize {
			if err := f.finishBlock(); err != nil {
				return written, f.fail(err)
			}
		}
	}
	return written, nil
}

// ReadFrom copies r into the file until EOF.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, max(f.bufferSize, transfer.ChunkSize))
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			written, werr := f.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// blockWriter returns the writer of the current block, allocating a block
// and setting up its pipeline when needed. A data node that fails pipeline
// setup is excluded and the block is requested again.
func (f *File) blockWriter() (*transfer.BlockWriter, error) {
	f.mu.Lock()
	bw := f.writer
	f.mu.Unlock()
	if bw != nil {
		return bw, nil
	}

	var exclude []*hadoop.DatanodeInfo
	var lastErr error
	for attempt := 0; attempt < pipelineAttempts; attempt++ {
		lb, err := f.meta.AddBlock(f.ctx, f.name, f.fileID, f.last, exclude)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		bw, err = transfer.NewBlockWriter(f.ctx, f.fs.transferOptions(), lb, hadoop.StagePipelineSetupCreate, 0)
		if err == nil {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.closedErr != nil {
				bw.Abort()
				return nil, f.closedErr
			}
			f.writer = bw
			return bw, nil
		}
		lastErr = fserror.WithPath(err, f.name)

		if aerr := f.meta.AbandonBlock(f.ctx, f.name, f.fileID, lb.B); aerr != nil {
			logger.Warn("Abandoning block %d of %s failed: %v", lb.B.BlockID, f.name, aerr)
		}
		bad := transfer.BadNode(err)
		if bad == "" {
			return nil, lastErr
		}
		for _, dn := range lb.Locs {
			if dn.ID.XferAddr() == bad {
				exclude = append(exclude, dn)
			}
		}
		logger.Warn("Pipeline for %s failed at %s; excluding it", f.name, bad)
	}
	return nil, lastErr
}

// finishBlock closes the pipeline of the current block.
func (f *File) finishBlock() error {
	f.mu.Lock()
	bw := f.writer
	f.writer = nil
	f.mu.Unlock()
	if bw == nil {
		return nil
	}
	if err := bw.Close(); err != nil {
		return f.writeError(err)
	}
	b := bw.Block()
	f.last = &b
	return nil
}

// fail records err as the reason the file is unusable, keeping an earlier
// reason.
func (f *File) fail(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closedErr == nil {
		f.closedErr = err
	}
	return f.closedErr
}

func (f *File) writeError(err error) error {
	if cerr := f.check("write"); cerr != nil {
		return cerr
	}
	return fserror.WithPath(err, f.name)
}

// Flush pushes buffered data through the pipeline and waits until every data
// node acknowledged it. It is a no-op in ModeRead.
func (f *File) Flush() error {
	if err := f.check("flush"); err != nil {
		return err
	}
	f.mu.Lock()
	bw := f.writer
	f.mu.Unlock()
	if bw == nil {
		return nil
	}
	if err := bw.Flush(); err != nil {
		return f.fail(f.writeError(err))
	}
	return nil
}

// complete closes the file on the name node. The name node answers false
// until the data nodes reported the last block, so the call is retried with
// exponential backoff.
func (f *File) complete() error {
	wait := completeBackoff
	for attempt := 1; ; attempt++ {
		done, err := f.meta.Complete(f.ctx, f.name, f.fileID, f.last)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == completeAttempts {
			return fserror.New(fserror.KindIO, "complete", f.name, "file not complete after %d attempts", attempt)
		}
		logger.Debug("Waiting %v to complete %s (attempt %d)", wait, f.name, attempt)
		select {
		case <-f.ctx.Done():
			return f.check("complete")
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// ============================================================================
// Closing
// ============================================================================

// Close releases the file. For files open for writing it flushes the last
// block and completes the file; the data is visible to readers once Close
// returns nil. Close on a closed file returns nil.
func (f *File) Close() error {
	if f.released {
		return nil
	}
	f.released = true
	defer f.fs.untrack(f)
	defer f.cancel()

	f.mu.Lock()
	interrupted := f.closedErr
	f.mu.Unlock()

	if f.mode == ModeRead {
		f.dropReader()
		return nil
	}
	if interrupted != nil {
		f.abort()
		return interrupted
	}

	if err := f.finishBlock(); err != nil {
		f.abort()
		return err
	}
	if err := f.complete(); err != nil {
		return err
	}
	logger.Debug("Closed %s: %d bytes", f.name, f.offset)
	return nil
}

// abort drops the streams without completing the file.
func (f *File) abort() {
	f.released = true
	f.cancel()
	f.mu.Lock()
	br, bw := f.reader, f.writer
	f.reader, f.writer = nil, nil
	f.mu.Unlock()
	if br != nil {
		_ = br.Close()
	}
	if bw != nil {
		bw.Abort()
	}
}

// interrupt fails the file with err from any goroutine. Blocked reads and
// writes return; the owning goroutine still has to call Close.
func (f *File) interrupt(err error) {
	f.mu.Lock()
	if f.closedErr == nil {
		f.closedErr = err
	}
	br, bw := f.reader, f.writer
	f.mu.Unlock()

	f.cancel()
	if br != nil {
		_ = br.Close()
	}
	if bw != nil {
		bw.Interrupt()
	}
}
