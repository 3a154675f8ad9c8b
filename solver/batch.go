package solver

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome for one input. Exactly one of Result and Err is
// set.
type BatchItem struct {
	Input  string
	Result *Result
	Err    error
}

// RunAll loads and runs every input with at most concurrency pipelines in
// flight. Items come back in input order. A failed input does not stop the
// others; only cancellation of ctx ends the batch early.
func (p *Pipeline) RunAll(ctx context.Context, loader Loader, inputs []string, concurrency int) ([]BatchItem, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	items := make([]BatchItem, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = p.runOne(gctx, loader, input)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Pipeline) runOne(ctx context.Context, loader Loader, input string) BatchItem {
	src, err := loader.Load(ctx, input)
	if err != nil {
		p.logger.Warn("input not loaded", zap.String("input", input), zap.Error(err))
		return BatchItem{Input: input, Err: err}
	}
	res, err := p.Run(ctx, input, src)
	if err != nil {
		return BatchItem{Input: input, Err: err}
	}
	return BatchItem{Input: input, Result: res}
}
