package hdfs

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/metadata"
)

// Glob returns the paths matching pattern, sorted. Wildcards follow
// path.Match (`*`, `?` and `[...]`) and never match `/`; `**` is not
// supported.
//
// Expansion starts by listing the deepest directory before the first
// wildcard and continues one path component at a time. A pattern without
// wildcards matches itself if it exists.
func (fs *FileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return nil, fserror.Argument("glob", "recursive wildcard ** is not supported: %q", pattern)
	}
	p, err := metadata.CleanPath(pattern)
	if err != nil {
		return nil, err
	}
	mc, err := fs.client("glob")
	if err != nil {
		return nil, err
	}

	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	first := -1
	for i, part := range parts {
		if !hasMeta(part) {
			continue
		}
		if _, err := path.Match(part, ""); err != nil {
			return nil, fserror.Argument("glob", "invalid pattern %q: %v", pattern, err)
		}
		if first < 0 {
			first = i
		}
	}

	if first < 0 {
		exists, err := mc.Exists(ctx, p)
		if err != nil || !exists {
			return nil, err
		}
		return []string{p}, nil
	}

	matches := []string{"/" + path.Join(parts[:first]...)}
	for i := first; i < len(parts); i++ {
		last := i == len(parts)-1
		var next []string
		for _, dir := range matches {
			found, err := globStep(ctx, mc, dir, parts[i], last)
			if err != nil {
				return nil, err
			}
			next = append(next, found...)
		}
		matches = next
		if len(matches) == 0 {
			break
		}
	}
	slices.Sort(matches)
	return matches, nil
}

// globStep expands one path component below dir. Only directories are kept
// for components that are not the last.
func globStep(ctx context.Context, mc *metadata.Client, dir, part string, last bool) ([]string, error) {
	if !hasMeta(part) {
		info, err := mc.Stat(ctx, path.Join(dir, part))
		if fserror.KindOf(err) == fserror.KindNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !last && !info.IsDir() {
			return nil, nil
		}
		return []string{info.Name}, nil
	}

	entries, err := mc.List(ctx, dir)
	switch fserror.KindOf(err) {
	case fserror.KindNotFound, fserror.KindPermission:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		// Listing a file returns the file itself.
		if e.Name == dir {
			continue
		}
		if !last && !e.IsDir() {
			continue
		}
		if ok, _ := path.Match(part, path.Base(e.Name)); ok {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `*?[\`)
}
