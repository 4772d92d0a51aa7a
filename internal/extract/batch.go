package extract

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchItem is one document's outcome in a batch.
type BatchItem struct {
	Path   string  `json:"path"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Batch extracts the manifests at paths with at most workers documents in
// flight. A failing document is recorded in its item and does not stop the
// others; only cancellation of ctx aborts the batch. Items keep the order
// of paths.
func (s *Service) Batch(ctx context.Context, paths []string, workers int) ([]BatchItem, error) {
	if workers < 1 {
		workers = 1
	}
	items := make([]BatchItem, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		items[i].Path = path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Error = err.Error()
				return err
			}
			res, err := s.Extract(gctx, ExtractRequest{Path: path})
			if err != nil {
				items[i].Error = err.Error()
				return ctx.Err()
			}
			items[i].Result = res
			return nil
		})
	}
	err := g.Wait()

	failed := 0
	for _, it := range items {
		if it.Error != "" {
			failed++
		}
	}
	s.logger.Info("batch complete",
		zap.Int("documents", len(items)),
		zap.Int("failed", failed),
		zap.Int("workers", workers))
	return items, err
}
