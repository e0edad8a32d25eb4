// Package metadata issues name-node RPCs and returns typed metadata.
//
// Path operations other than Exists and Mkdir confirm the path exists first
// and fail with a NotFound error when it does not. Nothing is cached: every
// call goes to the name node.
package metadata

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// Caller sends one name-node RPC. *rpc.Conn implements it.
type Caller interface {
	Call(ctx context.Context, method string, req, resp hadoop.Message) error
}

// Client is the metadata client of one session.
type Client struct {
	conn       Caller
	clientName string
}

// New returns a client issuing calls on conn. clientName identifies the
// lease holder for the write-path RPCs.
func New(conn Caller, clientName string) *Client {
	return &Client{conn: conn, clientName: clientName}
}

// ClientName returns the lease holder name.
func (c *Client) ClientName() string {
	return c.clientName
}

func (c *Client) call(ctx context.Context, method, p string, req, resp hadoop.Message) error {
	if err := c.conn.Call(ctx, method, req, resp); err != nil {
		return fserror.WithPath(err, p)
	}
	return nil
}

// CleanPath normalizes p to an absolute, slash-separated path. An
// hdfs://host:port prefix is stripped and relative paths are taken from the
// root.
func CleanPath(p string) (string, error) {
	if strings.HasPrefix(p, "hdfs://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", fserror.Argument("path", "invalid path %q: %v", p, err)
		}
		p = u.Path
	}
	if p == "" {
		return "", fserror.Argument("path", "empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", fserror.Argument("path", "path %q contains a NUL byte", p)
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

// Stat returns the metadata of p.
func (c *Client) Stat(ctx context.Context, p string) (*PathInfo, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	var resp hadoop.GetFileInfoResponse
	if err := c.call(ctx, "getFileInfo", p, &hadoop.GetFileInfoRequest{Src: p}, &resp); err != nil {
		return nil, err
	}
	if resp.Fs == nil {
		return nil, fserror.NotFound("stat", p)
	}
	return pathInfo(p, resp.Fs), nil
}

// Exists reports whether p exists. Only failures to ask are errors.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	p, err := CleanPath(p)
	if err != nil {
		return false, err
	}
	var resp hadoop.GetFileInfoResponse
	if err := c.call(ctx, "getFileInfo", p, &hadoop.GetFileInfoRequest{Src: p}, &resp); err != nil {
		return false, err
	}
	return resp.Fs != nil, nil
}

// exists is the existence check that precedes path operations.
func (c *Client) exists(ctx context.Context, op, p string) (*PathInfo, error) {
	info, err := c.Stat(ctx, p)
	if err != nil {
		if fserror.KindOf(err) == fserror.KindNotFound {
			return nil, fserror.NotFound(op, p)
		}
		return nil, err
	}
	return info, nil
}

// List returns the entries of directory p in name order. Listing a file
// returns the file itself. Large directories are fetched page by page.
func (c *Client) List(ctx context.Context, p string) ([]*PathInfo, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}

	var out []*PathInfo
	var after []byte
	for {
		var resp hadoop.GetListingResponse
		req := &hadoop.GetListingRequest{Src: p, StartAfter: after}
		if err := c.call(ctx, "getListing", p, req, &resp); err != nil {
			return nil, err
		}
		if resp.DirList == nil {
			if after != nil {
				// Removed between pages.
				return out, nil
			}
			return nil, fserror.NotFound("list", p)
		}

		entries := resp.DirList.PartialListing
		for _, st := range entries {
			name := p
			if len(st.Path) > 0 {
				name = path.Join(p, string(st.Path))
			}
			out = append(out, pathInfo(name, st))
		}
		if resp.DirList.RemainingEntries == 0 || len(entries) == 0 {
			return out, nil
		}
		after = entries[len(entries)-1].Path
	}
}
