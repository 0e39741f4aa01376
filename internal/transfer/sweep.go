package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

// Sweep expires transfers with no chunk activity for the idle timeout.
// Expiry is treated like a cancel: partial chunk storage is deleted.
func (c *Coordinator) Sweep(ctx context.Context) error {
	keys, err := c.Store.ScanPrefix(ctx, "transfer:meta:")
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, k := range keys {
		id := domain.TransferID(strings.TrimPrefix(k, "transfer:meta:"))
		t, err := c.Get(ctx, id)
		if err != nil {
			continue
		}
		if t.State.Terminal() {
			continue
		}
		if now.Sub(t.LastActivityAt) < domain.TransferIdleTimeout {
			continue
		}
		if err := c.expireTransfer(ctx, t, domain.TransferExpired); err != nil {
			log.Error().Err(err).Str("module", "transfer").Str("transfer", string(id)).Msg("sweep expire")
			continue
		}
		c.broadcast(ctx, t, domain.TypeTransferCancel)
	}
	return nil
}

// StartSweeper runs Sweep periodically until ctx is done.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.Sweep(ctx); err != nil {
					log.Error().Err(err).Str("module", "transfer").Msg("sweep")
				}
			}
		}
	}()
}
