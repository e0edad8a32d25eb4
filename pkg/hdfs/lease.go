package hdfs

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/pkg/metadata"
)

// leaseRenewer keeps the client lease alive while files are open for
// writing. The name node revokes the lease of a client that stays silent for
// its soft limit (one minute by default).
type leaseRenewer struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startLeaseRenewer(mc *metadata.Client, interval time.Duration) *leaseRenewer {
	ctx, cancel := context.WithCancel(context.Background())
	r := &leaseRenewer{cancel: cancel}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := mc.RenewLease(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("Lease renewal for %s failed: %v", mc.ClientName(), err)
				}
			}
		}
	}()
	return r
}

func (r *leaseRenewer) stop() {
	r.cancel()
	r.wg.Wait()
}
