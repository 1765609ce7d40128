package usecases

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

// ProcessArchive stages an archive, expands it, converts every allowed entry and delivers
// the successful artifacts. Entry failures are reported, never returned as an error.
func (u *DocumentUsecase) ProcessArchive(ctx context.Context, upload domain.Upload, opts ArchiveOptions) (*ArchiveReport, error) {
	if u.expander == nil || u.batch == nil {
		return nil, domain.Internal(nil, "archive processing is not configured")
	}

	upload.Class = domain.ClassArchive
	archive, err := u.stage(ctx, upload)
	if err != nil {
		return nil, err
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, domain.Internal(err, "no conversion slot available")
	}
	defer u.rateLimiter.Release()

	start := u.now()
	u.setStatus(ctx, archive, domain.StatusProcessing, "")

	extraction, err := u.expander.Expand(ctx, archive.Path, archive.Type)
	if err != nil {
		u.setStatus(ctx, archive, domain.StatusFailed, domain.MessageOf(err))
		u.logger.Error("archive expansion failed",
			zap.String("document_id", archive.ID),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	report := &ArchiveReport{
		Success:          true,
		Format:           extraction.Format,
		ExtractedCount:   extraction.ExtractedCount,
		EstimatedSize:    extraction.EstimatedSize,
		DiskSpaceWarning: extraction.DiskSpaceWarning,
		Skipped:          nonNil(extraction.Skipped),
	}

	// entry bytes only exist until the batch removes the extraction directory
	batch := u.batch.ProcessExtraction(ctx, extraction, func(b *domain.BatchResult) {
		report.Entries = u.entryReports(b.Outcomes, opts.IncludeContent)
	})
	report.Processed = batch.Processed
	report.Failed = batch.Failed
	if report.Entries == nil {
		report.Entries = []EntryReport{}
	}

	report.Deliveries = u.deliverBatch(ctx, batch.Outcomes)

	u.setStatus(ctx, archive, domain.StatusProcessed, "")
	report.Archive = *archive

	u.logger.Info("archive processed",
		zap.String("document_id", archive.ID),
		zap.String("format", extraction.Format),
		zap.Int("extracted_count", extraction.ExtractedCount),
		zap.Int("entries", len(extraction.Entries)),
		zap.Int("skipped", len(extraction.Skipped)),
		zap.Int("processed", len(batch.Processed)),
		zap.Int("failed", len(batch.Failed)),
		zap.Duration("duration", u.now().Sub(start)),
	)
	return report, nil
}

func (u *DocumentUsecase) entryReports(outcomes []domain.EntryOutcome, includeContent bool) []EntryReport {
	entries := make([]EntryReport, len(outcomes))
	for i, o := range outcomes {
		er := EntryReport{ExtractedEntry: o.Entry, Status: domain.StatusFailed}
		// the extraction directory is gone once the batch returns; processed_url is the retrievable file
		er.URL = ""
		if o.Document != nil {
			er.DocumentID = o.Document.ID
		}
		if o.Succeeded() {
			er.Status = domain.StatusProcessed
			er.ProcessedFile = o.Result.ArtifactName
			er.ProcessedURL = u.urlFor(o.Result.ArtifactPath)
			er.ConversionKind = o.Result.ConversionKind
		} else {
			er.ErrorKind = domain.KindOf(o.Err)
			er.Error = domain.MessageOf(o.Err)
		}

		if includeContent {
			data, err := os.ReadFile(o.Entry.Path)
			if err != nil {
				u.logger.Warn("cannot read extracted entry",
					zap.String("entry", o.Entry.RelativePath),
					zap.Error(err),
				)
			}
			er.Content = data
		}
		entries[i] = er
	}
	return entries
}

func (u *DocumentUsecase) deliverBatch(ctx context.Context, outcomes []domain.EntryOutcome) []DeliveryReport {
	if u.deliverer == nil {
		return nil
	}

	var (
		reqs      []domain.DeliveryRequest
		originals []string
	)
	now := u.now()
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		reqs = append(reqs, deliveryRequest(o, now))
		originals = append(originals, o.Entry.RelativePath)
	}
	if len(reqs) == 0 {
		return nil
	}

	results := u.deliverer.DeliverBatch(ctx, reqs)
	reports := make([]DeliveryReport, len(results))
	for i, r := range results {
		reports[i] = DeliveryReport{Original: originals[i], WebhookDeliveryOutcome: r}
	}
	return reports
}

func deliveryRequest(o domain.EntryOutcome, now time.Time) domain.DeliveryRequest {
	fileType := o.Entry.Extension
	if o.Document != nil {
		fileType = o.Document.Type
	}
	return domain.DeliveryRequest{
		Result:       *o.Result,
		OriginalName: o.Entry.Name,
		FileType:     fileType,
		Timestamp:    now,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
