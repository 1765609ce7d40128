// Package archive expands ZIP and RAR uploads into per-request extraction directories.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/mholt/archives"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/ingest"
)

// Options configures an Expander
type Options struct {
	// ExtractRoot is where extraction directories are created
	ExtractRoot string
	// MaxEntrySize is the per-entry ceiling; larger entries are skipped
	MaxEntrySize int64
	// URLBase, when set, is the public URL that serves ExtractRoot
	URLBase string
	// StrictDiskCheck turns the free-space warning into DiskSpaceInsufficient
	StrictDiskCheck bool
}

// Expander opens archives and lists the allowed documents inside them
type Expander struct {
	opts      Options
	logger    *zap.Logger
	freeSpace func(dir string) (uint64, bool)
}

// NewExpander creates the extraction root if needed
func NewExpander(opts Options, logger *zap.Logger) (*Expander, error) {
	if err := os.MkdirAll(opts.ExtractRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction root: %w", err)
	}
	opts.URLBase = strings.TrimRight(opts.URLBase, "/")
	return &Expander{opts: opts, logger: logger, freeSpace: freeSpace}, nil
}

// Expand extracts archivePath into a new directory. fileType ("zip" or "rar") is a hint for
// format identification. The caller owns the returned directory and must call Cleanup.
func (e *Expander) Expand(ctx context.Context, archivePath, fileType string) (*domain.ArchiveExtractionResult, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFound("archive %s does not exist", filepath.Base(archivePath))
		}
		return nil, domain.ArchiveOpenFailed(err, "cannot open archive")
	}
	defer f.Close()

	extractor, format, err := identify(ctx, f, archivePath, fileType)
	if err != nil {
		return nil, err
	}

	result := &domain.ArchiveExtractionResult{
		ArchivePath: archivePath,
		Format:      format,
		Entries:     []domain.ExtractedEntry{},
		Skipped:     []string{},
	}

	estimate, err := estimateSize(ctx, extractor, f)
	if err != nil {
		return nil, domain.ArchiveOpenFailed(err, "cannot read archive index")
	}
	result.EstimatedSize = estimate
	if err := e.checkDiskSpace(result); err != nil {
		return nil, err
	}

	dir := filepath.Join(e.opts.ExtractRoot, "extracted_"+strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, domain.Internal(err, "cannot create extraction directory")
	}
	result.ExtractionDir = dir

	if err := e.extract(ctx, extractor, f, result); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if result.ExtractedCount == 0 {
		os.RemoveAll(dir)
		return nil, domain.ArchiveOpenFailed(nil, "archive contains no files")
	}

	if err := e.collect(result); err != nil {
		os.RemoveAll(dir)
		return nil, domain.Internal(err, "cannot enumerate extracted files")
	}

	e.logger.Info("archive expanded",
		zap.String("archive", filepath.Base(archivePath)),
		zap.String("format", format),
		zap.Int("extracted_count", result.ExtractedCount),
		zap.Int("entries", len(result.Entries)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// Cleanup removes the extraction directory of result
func (e *Expander) Cleanup(result *domain.ArchiveExtractionResult) error {
	if result == nil || result.ExtractionDir == "" {
		return nil
	}
	if err := os.RemoveAll(result.ExtractionDir); err != nil {
		e.logger.Warn("failed to remove extraction directory",
			zap.String("dir", result.ExtractionDir),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func identify(ctx context.Context, f *os.File, archivePath, fileType string) (archives.Extractor, string, error) {
	name := filepath.Base(archivePath)
	if fileType != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + fileType
	}

	format, _, err := archives.Identify(ctx, name, f)
	if err != nil {
		return nil, "", domain.ArchiveOpenFailed(err, "unrecognized archive")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", domain.ArchiveOpenFailed(err, "cannot rewind archive")
	}

	ext := strings.TrimPrefix(format.Extension(), ".")
	if !ingest.Allowed(ext, domain.ClassArchive) {
		return nil, "", domain.ArchiveOpenFailed(nil, "unsupported container %q", format.Extension())
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, "", domain.ArchiveOpenFailed(nil, "container %q cannot be extracted", ext)
	}
	return extractor, ext, nil
}

// estimateSize sums the declared uncompressed sizes without extracting
func estimateSize(ctx context.Context, ex archives.Extractor, f *os.File) (int64, error) {
	var total int64
	err := ex.Extract(ctx, f, func(_ context.Context, info archives.FileInfo) error {
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return total, nil
}

func (e *Expander) checkDiskSpace(result *domain.ArchiveExtractionResult) error {
	available, ok := e.freeSpace(e.opts.ExtractRoot)
	if !ok || result.EstimatedSize <= 0 || uint64(result.EstimatedSize) <= available {
		return nil
	}

	insufficient := domain.DiskSpaceInsufficient(uint64(result.EstimatedSize), available)
	if e.opts.StrictDiskCheck {
		return insufficient
	}
	result.DiskSpaceWarning = insufficient.Message
	e.logger.Warn("archive may not fit on disk",
		zap.String("archive", filepath.Base(result.ArchivePath)),
		zap.Int64("estimated_size", result.EstimatedSize),
		zap.Uint64("available", available),
	)
	return nil
}

func (e *Expander) extract(ctx context.Context, ex archives.Extractor, f *os.File, result *domain.ArchiveExtractionResult) error {
	dir := result.ExtractionDir
	seen := make(map[string]struct{})
	err := ex.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel := path.Clean(strings.TrimLeft(filepath.ToSlash(info.NameInArchive), "/"))
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			e.logger.Warn("archive entry escapes extraction directory", zap.String("entry", info.NameInArchive))
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		// the first entry for a path wins, even when it was dropped as oversized
		if _, dup := seen[rel]; dup {
			return e.skipDuplicate(info, rel, result)
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		written, err := writeEntry(info, dst, e.opts.MaxEntrySize)
		if errors.Is(err, fs.ErrExist) {
			return e.skipDuplicate(info, rel, result)
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", rel, err)
		}
		seen[rel] = struct{}{}
		result.ExtractedCount++

		if written > e.opts.MaxEntrySize {
			os.Remove(dst)
			result.Skipped = append(result.Skipped, rel)
		}
		return nil
	})
	if err != nil {
		return domain.ArchiveOpenFailed(err, "archive is corrupt or unreadable")
	}
	return nil
}

func (e *Expander) skipDuplicate(info archives.FileInfo, rel string, result *domain.ArchiveExtractionResult) error {
	e.logger.Warn("duplicate archive entry", zap.String("entry", info.NameInArchive))
	result.Skipped = append(result.Skipped, rel)
	return nil
}

// writeEntry copies at most limit+1 bytes so oversized entries are detected without filling the disk
func writeEntry(info archives.FileInfo, dst string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	src, err := info.Open()
	if err != nil {
		out.Close()
		return 0, err
	}
	defer src.Close()

	written, err := io.CopyN(out, src, limit+1)
	if err != nil && !errors.Is(err, io.EOF) {
		out.Close()
		return written, err
	}
	return written, out.Close()
}

// collect walks the extraction directory and splits files into entries and skipped
func (e *Expander) collect(result *domain.ArchiveExtractionResult) error {
	err := filepath.WalkDir(result.ExtractionDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(result.ExtractionDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		ext := ingest.ExtensionOf(d.Name())
		if !ingest.Allowed(ext, domain.ClassDocument) || info.Size() > e.opts.MaxEntrySize {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		entry := domain.ExtractedEntry{
			Name:         d.Name(),
			RelativePath: rel,
			Path:         p,
			Size:         info.Size(),
			MIMEType:     "application/octet-stream",
			Extension:    ext,
			URL:          e.publicURL(p),
		}
		if mt, err := mimetype.DetectFile(p); err == nil {
			entry.MIMEType = mt.String()
		}
		result.Entries = append(result.Entries, entry)
		return nil
	})
	sort.Strings(result.Skipped)
	return err
}

func (e *Expander) publicURL(p string) string {
	if e.opts.URLBase == "" {
		return ""
	}
	rel, err := filepath.Rel(e.opts.ExtractRoot, p)
	if err != nil {
		return ""
	}
	return e.opts.URLBase + "/" + filepath.ToSlash(rel)
}
