package usecases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/docconv/internal/domain"
)

// DocumentUsecase ties ingest, conversion, archive batches and delivery together.
// Every operation is attempt-once within the caller's request.
type DocumentUsecase struct {
	ingestor  domain.Ingestor
	converter domain.Converter
	expander  domain.ArchiveExpander
	batch     domain.BatchProcessor
	deliverer domain.Deliverer
	registry  domain.DocumentRegistry
	observer  domain.StatusObserver
	publicURL func(path string) string
	logger    *zap.Logger

	stagingDir  string
	rateLimiter *RateLimiter
	inflight    singleflight.Group
	now         func() time.Time
}

// Dependencies wires a DocumentUsecase. Deliverer and PublicURL may be nil.
type Dependencies struct {
	Ingestor       domain.Ingestor
	Converter      domain.Converter
	Expander       domain.ArchiveExpander
	Batch          domain.BatchProcessor
	Deliverer      domain.Deliverer
	Registry       domain.DocumentRegistry
	Observer       domain.StatusObserver
	PublicURL      func(path string) string
	StagingDir     string
	MaxConversions int
}

// RateLimiter is a semaphore bounding concurrent conversions
type RateLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
}

// NewRateLimiter creates a limiter with maxConcurrent slots
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire blocks until a slot is free or ctx is done
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release frees a slot
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
	}
}

// NewDocumentUsecase validates deps and creates the usecase
func NewDocumentUsecase(deps Dependencies, logger *zap.Logger) (*DocumentUsecase, error) {
	if deps.Ingestor == nil || deps.Converter == nil || deps.Registry == nil {
		return nil, fmt.Errorf("usecase: ingestor, converter and registry are required")
	}
	if deps.Observer == nil {
		deps.Observer = NewStatusTracker(deps.Registry, nil, logger)
	}

	stagingDir, err := filepath.Abs(deps.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}

	return &DocumentUsecase{
		ingestor:    deps.Ingestor,
		converter:   deps.Converter,
		expander:    deps.Expander,
		batch:       deps.Batch,
		deliverer:   deps.Deliverer,
		registry:    deps.Registry,
		observer:    deps.Observer,
		publicURL:   deps.PublicURL,
		logger:      logger,
		stagingDir:  stagingDir,
		rateLimiter: NewRateLimiter(deps.MaxConversions),
		now:         time.Now,
	}, nil
}

// DeliveryEnabled reports whether results are forwarded to a webhook
func (u *DocumentUsecase) DeliveryEnabled() bool {
	return u.deliverer != nil
}

// UploadAndProcess stages u, converts it and delivers the artifact.
// A non-nil report accompanies conversion errors once the upload was staged.
func (u *DocumentUsecase) UploadAndProcess(ctx context.Context, upload domain.Upload) (*ProcessReport, error) {
	upload.Class = domain.ClassDocument
	doc, err := u.stage(ctx, upload)
	if err != nil {
		return nil, err
	}
	return u.process(ctx, doc, true)
}

// Transform stages and converts u without delivery
func (u *DocumentUsecase) Transform(ctx context.Context, upload domain.Upload) (*ProcessReport, error) {
	upload.Class = domain.ClassDocument
	doc, err := u.stage(ctx, upload)
	if err != nil {
		return nil, err
	}
	return u.process(ctx, doc, false)
}

// ProcessByID converts an already staged document, addressed by registry id or by a path
// inside the staging directory. Concurrent calls for the same staged file share one run.
func (u *DocumentUsecase) ProcessByID(ctx context.Context, ref string) (*ProcessReport, error) {
	path, doc, err := u.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	v, err, shared := u.inflight.Do(path, func() (interface{}, error) {
		if doc == nil {
			adopted, err := u.adopt(ctx, path)
			if err != nil {
				return nil, err
			}
			doc = adopted
		}
		return u.process(ctx, doc, true)
	})
	if shared {
		u.logger.Debug("manual processing shared with concurrent request", zap.String("path", path))
	}
	report, _ := v.(*ProcessReport)
	return report, err
}

// GetDocument returns the registered document with id
func (u *DocumentUsecase) GetDocument(ctx context.Context, id string) (domain.StagedDocument, error) {
	doc, ok := u.registry.Get(ctx, id)
	if !ok {
		return domain.StagedDocument{}, domain.NotFound("document %q not found", id)
	}
	return doc, nil
}

// ListDocuments returns every registered document ordered by creation time
func (u *DocumentUsecase) ListDocuments(ctx context.Context) []domain.StagedDocument {
	return u.registry.List(ctx)
}

// DocumentCount returns the registry size
func (u *DocumentUsecase) DocumentCount() int {
	return u.registry.Len()
}

func (u *DocumentUsecase) stage(ctx context.Context, upload domain.Upload) (*domain.StagedDocument, error) {
	doc, err := u.ingestor.Stage(ctx, upload)
	if err != nil {
		u.logger.Warn("upload rejected",
			zap.String("filename", upload.Filename),
			zap.String("class", upload.Class.String()),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}
	u.observer.DocumentChanged(ctx, *doc)
	return doc, nil
}

func (u *DocumentUsecase) process(ctx context.Context, doc *domain.StagedDocument, deliver bool) (*ProcessReport, error) {
	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, domain.Internal(err, "no conversion slot available")
	}
	defer u.rateLimiter.Release()

	working := *doc
	result, err := u.converter.Dispatch(ctx, &working)
	report := &ProcessReport{Document: working}
	if err != nil {
		return report, err
	}

	report.Success = true
	report.Result = result
	report.ArtifactURL = u.urlFor(result.ArtifactPath)

	if deliver && u.deliverer != nil {
		outcome := u.deliverer.Deliver(ctx, domain.DeliveryRequest{
			Result:       *result,
			OriginalName: working.OriginalName,
			FileType:     working.Type,
			Timestamp:    u.now(),
		})
		report.Delivery = &outcome
	}
	return report, nil
}

// resolve maps ref to the absolute staged path. doc is nil when the file is not registered yet.
func (u *DocumentUsecase) resolve(ctx context.Context, ref string) (string, *domain.StagedDocument, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil, domain.UploadError(nil, "document_id is required")
	}

	if doc, ok := u.registry.Get(ctx, ref); ok {
		if _, err := os.Stat(doc.Path); err != nil {
			return "", nil, domain.NotFound("staged file of document %q no longer exists", ref)
		}
		path, err := filepath.Abs(doc.Path)
		if err != nil {
			return "", nil, domain.Internal(err, "resolve staged path")
		}
		return path, &doc, nil
	}

	path, ok := u.stagedPath(ref)
	if !ok {
		return "", nil, domain.NotFound("document %q not found", ref)
	}
	if doc, ok := u.registry.FindByPath(ctx, path); ok {
		return path, &doc, nil
	}
	return path, nil, nil
}

// adopt registers a staged file found on disk. Runs inside the per-path flight,
// so the registry is checked again for a run that finished in the meantime.
func (u *DocumentUsecase) adopt(ctx context.Context, path string) (*domain.StagedDocument, error) {
	if doc, ok := u.registry.FindByPath(ctx, path); ok {
		return &doc, nil
	}
	doc, err := u.ingestor.Adopt(ctx, path, domain.ClassDocument)
	if err != nil {
		return nil, err
	}
	u.observer.DocumentChanged(ctx, *doc)
	return doc, nil
}

// stagedPath maps ref to an existing file inside the staging directory
func (u *DocumentUsecase) stagedPath(ref string) (string, bool) {
	var candidates []string
	if filepath.IsAbs(ref) {
		candidates = []string{filepath.Clean(ref)}
	} else {
		candidates = []string{filepath.Join(u.stagingDir, ref)}
		if abs, err := filepath.Abs(ref); err == nil {
			candidates = append(candidates, abs)
		}
	}

	for _, path := range candidates {
		if !u.insideStaging(path) {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

func (u *DocumentUsecase) insideStaging(path string) bool {
	rel, err := filepath.Rel(u.stagingDir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (u *DocumentUsecase) urlFor(path string) string {
	if u.publicURL == nil || path == "" {
		return ""
	}
	return u.publicURL(path)
}

func (u *DocumentUsecase) setStatus(ctx context.Context, doc *domain.StagedDocument, status domain.DocumentStatus, reason string) {
	doc.Status = status
	doc.LastError = reason
	doc.UpdatedAt = u.now()
	u.observer.DocumentChanged(ctx, *doc)
}
