package qbdt

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parForBody is invoked once per surviving index in [begin, end). workerIdx
// identifies which worker goroutine is calling it (stable for the duration
// of one parForQBDT call, not across calls) — the Go equivalent of the
// source's cpuIdx. It returns a skip count: the driver advances i by
// 1+skip before the next call, so a worker that discovers its whole
// remaining sub-range is known-zero or blocked by a control mask can say so
// instead of being called once per index in that range.
type parForBody func(i uint64, workerIdx int) (skip uint64, err error)

// parForQBDT splits [begin, end) across workers and invokes body for each
// surviving index, honoring its skip-count return. It is the Go rendering
// of par_for_qbdt: golang.org/x/sync/errgroup gives "fixed worker count,
// first error wins, wait for all" for free, which is the same contract the
// source's thread pool + join provides, without hand-rolled channel
// plumbing. Mtrx/MCMtrx/Attach return only after this call returns, per
// spec §5's "caller returns only after all worker threads have joined".
func parForQBDT(ctx context.Context, begin, end uint64, workers int, body parForBody) error {
	if end <= begin {
		return nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	total := end - begin
	if uint64(workers) > total {
		workers = int(total)
	}

	chunk := total / uint64(workers)
	if chunk == 0 {
		chunk = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		workerIdx := w
		lo := begin + uint64(workerIdx)*chunk
		hi := lo + chunk
		if workerIdx == workers-1 || hi > end {
			hi = end
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			return runRange(ctx, lo, hi, workerIdx, body)
		})
	}
	return g.Wait()
}

func runRange(ctx context.Context, lo, hi uint64, workerIdx int, body parForBody) error {
	for i := lo; i < hi; {
		if err := ctx.Err(); err != nil {
			return err
		}
		skip, err := body(i, workerIdx)
		if err != nil {
			return err
		}
		i += 1 + skip
	}
	return nil
}
