// Package processor converts the entries of an expanded archive with a bounded worker pool.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

// entryTask is one archive entry with its position for ordering
type entryTask struct {
	Index int
	Entry domain.ExtractedEntry
}

// entryResult is the outcome of an entryTask
type entryResult struct {
	Index   int
	Outcome domain.EntryOutcome
}

// OrderedProcessor implements domain.BatchProcessor. Outcomes are returned in entry order
// regardless of completion order; with one worker entries are processed sequentially.
type OrderedProcessor struct {
	ingestor  domain.Ingestor
	converter domain.Converter
	cleaner   domain.ArchiveExpander
	observer  func(ctx context.Context, doc domain.StagedDocument)
	workers   int
	logger    *zap.Logger
}

// NewBatchProcessor creates an ordered processor with the given number of workers
func NewBatchProcessor(
	ingestor domain.Ingestor,
	converter domain.Converter,
	cleaner domain.ArchiveExpander,
	workers int,
	logger *zap.Logger,
) *OrderedProcessor {
	if workers < 1 {
		workers = 1
	}
	return &OrderedProcessor{
		ingestor:  ingestor,
		converter: converter,
		cleaner:   cleaner,
		workers:   workers,
		logger:    logger,
	}
}

// OnStaged registers a callback invoked for every entry promoted to a StagedDocument
func (p *OrderedProcessor) OnStaged(fn func(ctx context.Context, doc domain.StagedDocument)) {
	p.observer = fn
}

// ProcessExtraction converts every entry of extraction, runs inspect, then removes the extraction directory
func (p *OrderedProcessor) ProcessExtraction(ctx context.Context, extraction *domain.ArchiveExtractionResult, inspect func(*domain.BatchResult)) *domain.BatchResult {
	defer func() {
		if err := p.cleaner.Cleanup(extraction); err != nil {
			p.logger.Error("extraction cleanup failed",
				zap.String("dir", extraction.ExtractionDir),
				zap.Error(err),
			)
		}
	}()

	result := p.ProcessEntries(ctx, extraction.Entries)
	if inspect != nil {
		inspect(result)
	}
	return result
}

// ProcessEntries attempts every entry; a failure never stops the remaining entries
func (p *OrderedProcessor) ProcessEntries(ctx context.Context, entries []domain.ExtractedEntry) *domain.BatchResult {
	start := time.Now()
	outcomes := make([]domain.EntryOutcome, len(entries))

	if len(entries) > 0 {
		workers := min(p.workers, len(entries))
		tasks := make(chan entryTask)
		results := make(chan entryResult, len(entries))

		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go p.worker(ctx, i, tasks, results, &wg)
		}

		for i, entry := range entries {
			tasks <- entryTask{Index: i, Entry: entry}
		}
		close(tasks)
		wg.Wait()
		close(results)

		for r := range results {
			outcomes[r.Index] = r.Outcome
		}
	}

	batch := summarize(outcomes)
	p.logger.Info("batch processed",
		zap.Int("entries", len(entries)),
		zap.Int("processed", len(batch.Processed)),
		zap.Int("failed", len(batch.Failed)),
		zap.Int("workers", min(p.workers, max(len(entries), 1))),
		zap.Duration("duration", time.Since(start)),
	)
	return batch
}

func (p *OrderedProcessor) worker(ctx context.Context, id int, tasks <-chan entryTask, results chan<- entryResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range tasks {
		results <- entryResult{
			Index:   task.Index,
			Outcome: p.processEntry(ctx, id, task.Entry),
		}
	}
}

// processEntry stages and converts one entry. Panics are contained to the entry.
func (p *OrderedProcessor) processEntry(ctx context.Context, workerID int, entry domain.ExtractedEntry) (outcome domain.EntryOutcome) {
	outcome.Entry = entry
	defer func() {
		if r := recover(); r != nil {
			outcome.Result = nil
			outcome.Err = domain.Internal(fmt.Errorf("panic: %v", r), "entry %s crashed", entry.RelativePath)
			p.logger.Error("panic while processing entry",
				zap.String("entry", entry.RelativePath),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := ctx.Err(); err != nil {
		outcome.Err = domain.ConversionFailed(err, "", "batch cancelled before %s", entry.RelativePath)
		return outcome
	}

	doc, err := p.ingestor.Adopt(ctx, entry.Path, domain.ClassDocument)
	if err != nil {
		outcome.Err = err
		p.logEntryFailure(workerID, entry, err)
		return outcome
	}
	doc.OriginalName = entry.Name
	outcome.Document = doc
	if p.observer != nil {
		p.observer(ctx, *doc)
	}

	result, err := p.converter.Dispatch(ctx, doc)
	if err != nil {
		outcome.Err = err
		p.logEntryFailure(workerID, entry, err)
		return outcome
	}
	outcome.Result = result
	return outcome
}

func (p *OrderedProcessor) logEntryFailure(workerID int, entry domain.ExtractedEntry, err error) {
	p.logger.Warn("archive entry failed, continuing",
		zap.Int("worker_id", workerID),
		zap.String("entry", entry.RelativePath),
		zap.String("error_kind", string(domain.KindOf(err))),
		zap.Error(err),
	)
}

func summarize(outcomes []domain.EntryOutcome) *domain.BatchResult {
	batch := &domain.BatchResult{
		Outcomes:  outcomes,
		Processed: []domain.ProcessedFile{},
		Failed:    []domain.FailedFile{},
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			batch.Processed = append(batch.Processed, domain.ProcessedFile{
				Original:  o.Entry.RelativePath,
				Processed: o.Result.ArtifactName,
			})
			continue
		}
		batch.Failed = append(batch.Failed, domain.FailedFile{
			Original:  o.Entry.RelativePath,
			ErrorKind: domain.KindOf(o.Err),
			Message:   domain.MessageOf(o.Err),
		})
	}
	return batch
}

// Verify that OrderedProcessor implements domain.BatchProcessor interface
var _ domain.BatchProcessor = (*OrderedProcessor)(nil)
