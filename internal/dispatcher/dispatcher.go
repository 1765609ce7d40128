// Package dispatcher selects and runs the conversion policy for a staged document.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/converter"
	"github.com/your-org/docconv/internal/domain"
)

const artifactIDLength = 12

// ArtifactName builds "<id>-<original stem>.<ext>"
func ArtifactName(id, originalName, ext string) string {
	base := filepath.Base(originalName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "document"
	}
	return id + "-" + stem + "." + ext
}

// MIMEFor returns the content type of an artifact extension
func MIMEFor(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Dispatcher drives a StagedDocument from uploaded to processed or failed
type Dispatcher struct {
	counter      domain.PageCounter
	rasterizer   domain.Renderer
	office       domain.Renderer
	processedDir string
	observer     domain.StatusObserver
	logger       *zap.Logger
	newID        func() string
	now          func() time.Time
}

// Config wires the capabilities a Dispatcher needs. Observer may be nil.
type Config struct {
	PageCounter  domain.PageCounter
	Rasterizer   domain.Renderer
	Office       domain.Renderer
	ProcessedDir string
	Observer     domain.StatusObserver
}

// New creates a Dispatcher and its processed-artifacts directory
func New(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.PageCounter == nil || cfg.Rasterizer == nil || cfg.Office == nil {
		return nil, fmt.Errorf("dispatcher: page counter, rasterizer and office renderer are required")
	}
	if err := os.MkdirAll(cfg.ProcessedDir, 0o755); err != nil {
		return nil, fmt.Errorf("create processed dir: %w", err)
	}
	return &Dispatcher{
		counter:      cfg.PageCounter,
		rasterizer:   cfg.Rasterizer,
		office:       cfg.Office,
		processedDir: cfg.ProcessedDir,
		observer:     cfg.Observer,
		logger:       logger,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:artifactIDLength]
		},
		now: time.Now,
	}, nil
}

// ProcessedDir returns where artifacts are written
func (d *Dispatcher) ProcessedDir() string {
	return d.processedDir
}

// Dispatch converts doc according to its type. doc is updated in place.
func (d *Dispatcher) Dispatch(ctx context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
	start := d.now()
	d.transition(ctx, doc, domain.StatusProcessing, "")

	result, err := d.convert(ctx, doc)
	if err != nil {
		var classified *domain.Error
		if !errors.As(err, &classified) {
			err = domain.ConversionFailed(err, "", "convert %s", doc.OriginalName)
		}
		d.transition(ctx, doc, domain.StatusFailed, domain.MessageOf(err))
		d.logger.Error("conversion failed",
			zap.String("document_id", doc.ID),
			zap.String("file_type", doc.Type),
			zap.String("error_kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	doc.ArtifactPath = result.ArtifactPath
	d.transition(ctx, doc, domain.StatusProcessed, "")

	d.logger.Info("conversion completed",
		zap.String("document_id", doc.ID),
		zap.String("conversion_kind", string(result.ConversionKind)),
		zap.String("artifact", result.ArtifactName),
		zap.Duration("duration", d.now().Sub(start)),
	)
	return result, nil
}

func (d *Dispatcher) convert(ctx context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
	var (
		kind  domain.ConversionKind
		ext   string
		pages int
		run   func(dst string) error
	)

	switch doc.Type {
	case "pdf":
		var err error
		pages, err = d.counter.CountPages(ctx, doc.Path)
		if err != nil {
			return nil, err
		}
		if pages > 1 {
			kind, ext = domain.KindPassthrough, "pdf"
			run = func(dst string) error { return passthrough(doc.Path, dst) }
		} else {
			kind, ext = domain.KindRasterize, "png"
			run = func(dst string) error { return d.rasterizer.Render(ctx, doc.Path, dst) }
		}
	case "docx", "xlsx", "xlsm":
		kind, ext = domain.KindRender, "pdf"
		run = func(dst string) error { return d.office.Render(ctx, doc.Path, dst) }
	default:
		return nil, domain.UnsupportedFileType("no conversion policy for %q", doc.Type)
	}

	name := ArtifactName(d.newID(), doc.OriginalName, ext)
	dst := filepath.Join(d.processedDir, name)

	if err := run(dst); err != nil {
		os.Remove(dst)
		return nil, err
	}

	// exit status alone is not trusted
	info, err := os.Stat(dst)
	if err != nil || !info.Mode().IsRegular() {
		return nil, domain.ConversionFailed(err, "", "expected artifact %s is missing", name)
	}

	return &domain.ConversionResult{
		DocumentID:     doc.ID,
		SourcePath:     doc.Path,
		ArtifactPath:   dst,
		ArtifactName:   name,
		ArtifactMIME:   MIMEFor(ext),
		ConversionKind: kind,
		PageCount:      pages,
		CompletedAt:    d.now(),
	}, nil
}

func passthrough(src, dst string) error {
	if err := converter.CopyFile(src, dst); err != nil {
		return domain.ConversionFailed(err, "", "copy multi-page pdf")
	}
	return nil
}

func (d *Dispatcher) transition(ctx context.Context, doc *domain.StagedDocument, status domain.DocumentStatus, reason string) {
	doc.Status = status
	doc.LastError = reason
	doc.UpdatedAt = d.now()
	if d.observer != nil {
		d.observer.DocumentChanged(ctx, *doc)
	}
}

var _ domain.Converter = (*Dispatcher)(nil)
