package hdfs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"time"

	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/metadata"
)

// ============================================================================
// Whole-file helpers
// ============================================================================
//
// These helpers open, stream and close a file in one call. Files are always
// closed, also on error.

// ReadFile returns the contents of file p.
func (fs *FileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	f, err := fs.Open(ctx, p, ModeRead, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := bytes.NewBuffer(make([]byte, 0, f.Size()))
	if _, err := f.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile creates file p, replacing an existing one, with data as its
// contents.
func (fs *FileSystem) WriteFile(ctx context.Context, p string, data []byte, opts OpenOptions) error {
	f, err := fs.Open(ctx, p, ModeWrite, opts)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Cat streams the contents of file p to w.
func (fs *FileSystem) Cat(ctx context.Context, p string, w io.Writer) (int64, error) {
	f, err := fs.Open(ctx, p, ModeRead, OpenOptions{})
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteTo(w)
}

// Head returns the first size bytes of file p, or the whole file when it is
// shorter.
func (fs *FileSystem) Head(ctx context.Context, p string, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fserror.Argument("head", "size must be non-negative, got %d", size)
	}
	f, err := fs.Open(ctx, p, ModeRead, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, size))
}

// Tail returns the last size bytes of file p, or the whole file when it is
// shorter.
func (fs *FileSystem) Tail(ctx context.Context, p string, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fserror.Argument("tail", "size must be non-negative, got %d", size)
	}
	f, err := fs.Open(ctx, p, ModeRead, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if size < f.Size() {
		if _, err := f.Seek(-size, io.SeekEnd); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}

// CopyToLocal copies file p to the local file localPath.
func (fs *FileSystem) CopyToLocal(ctx context.Context, p, localPath string) (int64, error) {
	f, err := fs.Open(ctx, p, ModeRead, OpenOptions{})
	if err != nil {
		return 0, err
	}
	defer f.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return 0, fserror.Wrap(fserror.KindIO, "copyToLocal", localPath, err)
	}
	n, err := f.WriteTo(out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fserror.Wrap(fserror.KindIO, "copyToLocal", localPath, cerr)
	}
	return n, err
}

// CopyFromLocal copies the local file localPath to p, replacing an existing
// file.
func (fs *FileSystem) CopyFromLocal(ctx context.Context, localPath, p string) (int64, error) {
	in, err := os.Open(localPath)
	if err != nil {
		return 0, fserror.Wrap(localKind(err), "copyFromLocal", localPath, err)
	}
	defer in.Close()

	f, err := fs.Open(ctx, p, ModeWrite, OpenOptions{})
	if err != nil {
		return 0, err
	}
	n, err := f.ReadFrom(in)
	if err != nil {
		f.Close()
		return n, err
	}
	return n, f.Close()
}

// GetMerge concatenates the files directly inside directory dir, in name
// order, into the local file localPath. Subdirectories are skipped.
func (fs *FileSystem) GetMerge(ctx context.Context, dir, localPath string) (int64, error) {
	entries, err := fs.List(ctx, dir)
	if err != nil {
		return 0, err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return 0, fserror.Wrap(fserror.KindIO, "getmerge", localPath, err)
	}
	defer out.Close()

	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := fs.Cat(ctx, e.Name, out)
		total += n
		if err != nil {
			return total, err
		}
	}
	if err := out.Close(); err != nil {
		return total, fserror.Wrap(fserror.KindIO, "getmerge", localPath, err)
	}
	return total, nil
}

func localKind(err error) fserror.Kind {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fserror.KindNotFound
	case errors.Is(err, os.ErrPermission):
		return fserror.KindPermission
	default:
		return fserror.KindIO
	}
}

// Touch creates p as an empty file, or sets the modification and access
// times of an existing p to now.
func (fs *FileSystem) Touch(ctx context.Context, p string) error {
	exists, err := fs.Exists(ctx, p)
	if err != nil {
		return err
	}
	if exists {
		now := time.Now()
		return fs.SetTimes(ctx, p, now, now)
	}
	return fs.WriteFile(ctx, p, nil, OpenOptions{})
}

// Concat appends srcs, in order, to dest and removes them. Every file must be
// in the same directory. A missing dest is created empty first, once every
// source is known to exist.
func (fs *FileSystem) Concat(ctx context.Context, dest string, srcs []string) error {
	if len(srcs) == 0 {
		return fserror.Argument("concat", "no source files")
	}
	target, err := metadata.CleanPath(dest)
	if err != nil {
		return err
	}
	dir := path.Dir(target)
	for _, s := range srcs {
		src, err := metadata.CleanPath(s)
		if err != nil {
			return err
		}
		if path.Dir(src) != dir {
			return fserror.New(fserror.KindArgument, "concat", src, "source and destination %s must be in the same directory", target)
		}
		if src == target {
			return fserror.New(fserror.KindArgument, "concat", src, "source is the destination")
		}
	}

	mc, err := fs.client("concat")
	if err != nil {
		return err
	}
	for _, src := range srcs {
		ok, err := mc.Exists(ctx, src)
		if err != nil {
			return err
		}
		if !ok {
			return fserror.NotFound("concat", src)
		}
	}
	exists, err := mc.Exists(ctx, target)
	if err != nil {
		return err
	}
	if !exists {
		if err := fs.WriteFile(ctx, target, nil, OpenOptions{}); err != nil {
			return err
		}
	}
	return mc.Concat(ctx, target, srcs)
}

// ============================================================================
// Record-aligned ranges
// ============================================================================

// delimiterScanSize is the read-ahead used while looking for a delimiter.
const delimiterScanSize = 64 << 10

// ReadRange reads length bytes of file p starting at offset.
//
// With a delimiter the range is moved to record boundaries: the start moves
// forward past the next delimiter (unless offset is 0) and the end moves
// forward past the delimiter that follows it. The trailing delimiter is
// dropped. Reading adjacent ranges this way yields every record exactly once,
// wherever the range boundaries fall.
func (fs *FileSystem) ReadRange(ctx context.Context, p string, offset, length int64, delimiter []byte) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fserror.Argument("readRange", "offset and length must be non-negative, got %d and %d", offset, length)
	}
	f, err := fs.Open(ctx, p, ModeRead, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size := f.Size()
	start := min(offset, size)
	end := min(offset+length, size)
	if len(delimiter) > 0 {
		if start, err = seekDelimiter(f, start, delimiter); err != nil {
			return nil, err
		}
		length -= start - offset
		if end, err = seekDelimiter(f, min(max(start+length, 0), size), delimiter); err != nil {
			return nil, err
		}
		end = max(end, start)
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, end-start))
	if err != nil {
		return nil, err
	}
	if len(delimiter) > 0 {
		data = bytes.TrimSuffix(data, delimiter)
	}
	return data, nil
}

// seekDelimiter returns the offset just past the first delimiter at or after
// pos, or the file size when there is none. Offset 0 is a record boundary.
func seekDelimiter(f *File, pos int64, delimiter []byte) (int64, error) {
	if pos == 0 {
		return 0, nil
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return 0, err
	}

	r := bufio.NewReaderSize(f, delimiterScanSize)
	window := make([]byte, 0, len(delimiter))
	for {
		c, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			return f.Size(), nil
		}
		if err != nil {
			return 0, err
		}
		pos++
		if len(window) == len(delimiter) {
			copy(window, window[1:])
			window = window[:len(window)-1]
		}
		window = append(window, c)
		if bytes.Equal(window, delimiter) {
			return pos, nil
		}
	}
}
