package minicluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/config"
)

// Config describes the cluster to start. Zero values select the defaults.
type Config struct {
	// DataNodes is the number of data nodes.
	// Default: 3
	DataNodes int

	// BlockSize is the default block size of new files.
	// Default: 1MiB
	BlockSize int64

	// Replication is the default replication factor.
	// Default: min(3, DataNodes)
	Replication int

	// User owns the root directory and is the user of Options.
	// Default: "tester"
	User string

	// Token, when set, makes the name node require TOKEN authentication with
	// this delegation token.
	Token *hadoop.Token

	// ListingLimit is the number of entries per getListing page.
	// Default: 1000
	ListingLimit int

	// DisableTruncate removes the truncate method, as on old name nodes.
	DisableTruncate bool

	// CompleteDelay is the number of complete calls answered with false before
	// a file is closed.
	CompleteDelay int

	// Capacity is the capacity reported per data node.
	// Default: 1GiB
	Capacity int64
}

func (c *Config) applyDefaults() {
	if c.DataNodes == 0 {
		c.DataNodes = 3
	}
	if c.BlockSize == 0 {
		c.BlockSize = 1 << 20
	}
	if c.Replication == 0 {
		c.Replication = min(3, c.DataNodes)
	}
	if c.User == "" {
		c.User = "tester"
	}
	if c.ListingLimit == 0 {
		c.ListingLimit = 1000
	}
	if c.Capacity == 0 {
		c.Capacity = 1 << 30
	}
}

// Cluster is a running name node with its data nodes.
type Cluster struct {
	cfg       Config
	store     *replicaStore
	cancel    context.CancelFunc
	NameNode  *NameNode
	DataNodes []*DataNode

	closeOnce sync.Once
	closeErr  error
}

// Start starts a cluster listening on loopback ephemeral ports.
func Start(cfg Config) (*Cluster, error) {
	cfg.applyDefaults()
	if cfg.DataNodes < 0 {
		return nil, fmt.Errorf("minicluster: invalid data node count %d", cfg.DataNodes)
	}

	store, err := openReplicaStore()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cluster{cfg: cfg, store: store, cancel: cancel}

	for i := 0; i < cfg.DataNodes; i++ {
		dn := newDataNode(i, &c.cfg, store)
		if err := dn.start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("minicluster: start data node %d: %w", i, err)
		}
		c.DataNodes = append(c.DataNodes, dn)
	}

	c.NameNode = newNameNode(&c.cfg, newNamespace(&c.cfg, store, c.DataNodes))
	if err := c.NameNode.start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("minicluster: start name node: %w", err)
	}
	return c, nil
}

// MustStart starts a cluster and stops it when the test ends.
func MustStart(t testing.TB, cfg Config) *Cluster {
	t.Helper()
	c, err := Start(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Options returns client options pointing at the name node, with timeouts
// suited to loopback tests.
func (c *Cluster) Options() *config.Options {
	opts := &config.Options{
		Host:               "127.0.0.1",
		Port:               c.NameNode.Port(),
		User:               c.cfg.User,
		ConnectRetries:     1,
		ConnectRetryRate:   100,
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		LeaseRenewInterval: time.Second,
	}
	if c.cfg.Token != nil {
		opts.Token = c.cfg.Token.EncodeString()
	}
	config.ApplyDefaults(opts)
	return opts
}

// StopDataNode shuts data node i down.
func (c *Cluster) StopDataNode(i int) error {
	return c.DataNodes[i].Stop()
}

// BlockNodes returns the indexes of the data nodes holding block index of the
// file at path, in the order the name node lists them.
func (c *Cluster) BlockNodes(path string, index int) ([]int, error) {
	nodes, _, err := c.NameNode.ns.blockNodes(path, index)
	return nodes, err
}

// CorruptReplica flips the byte at offset within block index of the file at
// path, on the first data node listed for the block. The stored checksum is
// left unchanged.
func (c *Cluster) CorruptReplica(path string, index int, offset int) (int, error) {
	nodes, id, err := c.NameNode.ns.blockNodes(path, index)
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, fmt.Errorf("block %d of %s has no replicas", index, path)
	}
	return nodes[0], c.store.corrupt(nodes[0], id, offset)
}

// Close stops every node and discards the stored replicas. Close is
// idempotent.
func (c *Cluster) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		var errs []error
		if c.NameNode != nil {
			errs = append(errs, c.NameNode.server.Stop())
		}
		for _, dn := range c.DataNodes {
			errs = append(errs, dn.Stop())
		}
		errs = append(errs, c.store.Close())
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
