package metadata

import (
	"context"
	"errors"
	"io/fs"
)

// WalkFunc is called by Walk for every entry. err is set when listing a
// directory failed; info then describes the directory. Returning
// fs.SkipDir skips the directory, fs.SkipAll stops the walk.
type WalkFunc func(info *PathInfo, err error) error

// Walk visits root and everything below it in lexical order, directories
// before their contents.
func (c *Client) Walk(ctx context.Context, root string, fn WalkFunc) error {
	info, err := c.Stat(ctx, root)
	if err != nil {
		return fn(&PathInfo{Name: root}, err)
	}
	err = c.walk(ctx, info, fn)
	if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func (c *Client) walk(ctx context.Context, info *PathInfo, fn WalkFunc) error {
	if err := fn(info, nil); err != nil || !info.IsDir() {
		return err
	}

	entries, err := c.List(ctx, info.Name)
	if err != nil {
		if err := fn(info, err); err != nil {
			return err
		}
		return nil
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.walk(ctx, e, fn); err != nil {
			if errors.Is(err, fs.SkipDir) {
				if e.IsDir() {
					continue
				}
				// SkipDir on a file skips the rest of its directory.
				return nil
			}
			return err
		}
	}
	return nil
}

// DiskUsage maps the entries of p to their size in bytes. With deep, the
// entries of subdirectories are listed as well, recursively. With total the
// result holds the single entry p with the sum of every listed file.
func (c *Client) DiskUsage(ctx context.Context, p string, total, deep bool) (map[string]int64, error) {
	entries, err := c.List(ctx, p)
	if err != nil {
		return nil, err
	}

	usage := make(map[string]int64, len(entries))
	for i := 0; i < len(entries); i++ {
		e := entries[i]
		usage[e.Name] = e.Size
		if deep && e.IsDir() {
			children, err := c.List(ctx, e.Name)
			if err != nil {
				return nil, err
			}
			entries = append(entries, children...)
		}
	}

	if !total {
		return usage, nil
	}
	var sum int64
	for _, size := range usage {
		sum += size
	}
	name, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	return map[string]int64{name: sum}, nil
}
