package workchain

import (
	"context"

	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// cleanup releases the remote folder of every attempt concurrently. Each
// release gets its own timeout; failures are logged and never returned.
func (c *Controller) cleanup(ctx context.Context, rc *RestartContext) {
	if c.cleaner == nil {
		return
	}
	// the owning task may already be cancelled; cleanup still runs
	base := context.WithoutCancel(ctx)

	eg, egCtx := errgroup.WithContext(base)
	for _, a := range rc.attempts {
		if a.Outputs.RemoteFolder == nil {
			continue
		}
		folder := *a.Outputs.RemoteFolder
		index := a.Index
		eg.Go(func() error {
			releaseCtx, cancel := context.WithTimeout(egCtx, c.cleanupTimeout)
			defer cancel()

			if err := c.cleaner.Clean(releaseCtx, folder); err != nil {
				metrics.CleanupFailuresTotal.Inc()
				c.logger.WarnContext(ctx, "clean remote folder", "iteration", index, "path", folder.Path, "error", err)
				return nil
			}
			c.logger.InfoContext(ctx, "cleaned remote folder", "iteration", index, "path", folder.Path)
			return nil
		})
	}
	_ = eg.Wait()
}
