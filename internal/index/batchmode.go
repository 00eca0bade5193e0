package index

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/issueindex/internal/entity"
)

// BatchOptions tunes one IndexIssuesBatchMode call. Zero fields fall back
// to the indexer configuration.
type BatchOptions struct {
	WriterThreads int
	BatchSize     int

	// Replace deletes stale comment and change documents of each issue,
	// as ReindexIssues does. A rebuild into empty indexes leaves it off.
	Replace bool

	// OnProgress is called from the writer goroutine after each commit
	// with the number of issues written so far.
	OnProgress func(done int)
}

// IndexIssuesBatchMode is the throughput path used by full rebuilds.
// Inputs smaller than MinBatchSize take the interactive path. Otherwise
// documents are built concurrently by up to WriterThreads workers and
// committed in bleve batches of BatchSize by a single writer. At most
// MaxQueueSize built issues wait for the writer.
func (ix *IssueIndexer) IndexIssuesBatchMode(ctx context.Context, issues []*entity.Issue, opts BatchOptions) (Result, error) {
	if err := ix.check(); err != nil {
		return Result{}, err
	}
	if len(issues) < ix.cfg.MinBatchSize {
		res, err := ix.write(ctx, issues, opts.Replace)
		if err == nil && opts.OnProgress != nil {
			opts.OnProgress(len(issues))
		}
		return res, err
	}

	threads := opts.WriterThreads
	if threads <= 0 {
		threads = ix.cfg.WriterThreads
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = ix.cfg.BatchSize
	}

	start := time.Now()
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan *issueDocs, ix.cfg.MaxQueueSize)
	writeDone := make(chan writeOutcome, 1)
	go func() {
		writeDone <- ix.drain(wctx, cancel, queue, batchSize, opts)
	}()

	g, gctx := errgroup.WithContext(wctx)
	g.SetLimit(threads)
	for _, is := range issues {
		if is == nil {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d, err := ix.build(gctx, is)
			if err != nil {
				return err
			}
			select {
			case queue <- d:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	buildErr := g.Wait()
	close(queue)
	out := <-writeDone

	if out.err != nil {
		return out.res, out.err
	}
	if buildErr != nil {
		return out.res, buildErr
	}
	if err := ctx.Err(); err != nil {
		return out.res, err
	}

	slog.Debug("batch_mode_complete",
		slog.Int("issues", out.res.Issues),
		slog.Int("comments", out.res.Comments),
		slog.Int("changes", out.res.Changes),
		slog.Int("skipped", out.res.Skipped),
		slog.Int("threads", threads),
		slog.Duration("duration", time.Since(start)))
	return out.res, nil
}

type writeOutcome struct {
	res Result
	err error
}

// drain commits queued documents in groups of batchSize documents. After a
// write error it cancels the producers and discards the rest of the queue.
func (ix *IssueIndexer) drain(ctx context.Context, cancel context.CancelFunc, queue <-chan *issueDocs, batchSize int, opts BatchOptions) writeOutcome {
	var (
		out     writeOutcome
		pending []*issueDocs
		docs    int
		done    int
	)

	flush := func() {
		if len(pending) == 0 || out.err != nil {
			return
		}
		res, err := ix.commit(ctx, pending, opts.Replace)
		out.res.Add(res)
		if err != nil {
			out.err = err
			cancel()
			return
		}
		done += len(pending)
		pending, docs = pending[:0], 0
		if opts.OnProgress != nil {
			opts.OnProgress(done)
		}
	}

	for d := range queue {
		if out.err != nil {
			continue
		}
		pending = append(pending, d)
		docs += d.size()
		if docs >= batchSize {
			flush()
		}
	}
	flush()
	return out
}

func (d *issueDocs) size() int {
	n := len(d.comments) + len(d.changes)
	if d.issue != nil {
		n++
	}
	return n
}
