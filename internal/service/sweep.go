package service

import (
	"context"
	"log"
	"time"
)

// Sweep persists staleness: every confirmed link whose last corroboration
// fell outside the window is demoted to stale. Returns the demoted link IDs.
func (s *Service) Sweep(ctx context.Context) ([]string, error) {
	cutoff := s.now().Add(-s.opts.StalenessWindow)

	var ids []string
	err := s.withRetry(ctx, func(cctx context.Context) error {
		var err error
		ids, err = s.store.MarkStaleLinks(cctx, cutoff)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.bus.Publish(Event{Type: EventLinksStale, Payload: ids})
	}
	return ids, nil
}

// RunSweeper sweeps on the configured interval until the context ends.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.Sweep(ctx)
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if len(ids) > 0 {
				log.Printf("sweep demoted %d stale links", len(ids))
			}
		}
	}
}
