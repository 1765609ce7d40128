// Package ingest validates incoming byte streams and stages them under unique names.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

// Limits holds the per-class size ceilings in bytes
type Limits struct {
	MaxDocumentSize int64
	MaxArchiveSize  int64
}

// Normalizer stages uploads into a flat staging directory
type Normalizer struct {
	stagingDir string
	limits     Limits
	logger     *zap.Logger
	newID      func() string
	now        func() time.Time
}

// NewNormalizer creates the staging directory if needed
func NewNormalizer(stagingDir string, limits Limits, logger *zap.Logger) (*Normalizer, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Normalizer{
		stagingDir: stagingDir,
		limits:     limits,
		logger:     logger,
		newID:      func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		now:        time.Now,
	}, nil
}

// StagingDir returns the directory uploads are written to
func (n *Normalizer) StagingDir() string {
	return n.stagingDir
}

// Stage validates u and writes it to <id>_<name> inside the staging directory
func (n *Normalizer) Stage(ctx context.Context, u domain.Upload) (*domain.StagedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.UploadError(err, "upload aborted")
	}
	if len(u.Data) == 0 {
		return nil, domain.UploadError(nil, "empty upload")
	}

	size := int64(len(u.Data))
	if limit := n.limitFor(u.Class); size > limit {
		return nil, domain.SizeLimitExceeded(size, limit)
	}

	name := SanitizeFilename(u.Filename)
	fileType, err := resolveType(name, u.Data, u.Class)
	if err != nil {
		return nil, err
	}
	if ExtensionOf(name) == "" {
		name = name + "." + fileType
	}

	id := n.newID()
	path := filepath.Join(n.stagingDir, id+"_"+name)

	// O_EXCL: a collision is a bug in id generation, never an overwrite
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, domain.UploadError(err, "cannot create staged file")
	}
	if _, err := f.Write(u.Data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, domain.UploadError(err, "cannot write staged file")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, domain.UploadError(err, "cannot write staged file")
	}

	now := n.now()
	doc := &domain.StagedDocument{
		ID:           id,
		Path:         path,
		OriginalName: name,
		Type:         fileType,
		Size:         size,
		Status:       domain.StatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	n.logger.Info("document staged",
		zap.String("document_id", id),
		zap.String("original_name", name),
		zap.String("file_type", fileType),
		zap.Int64("size", size),
	)
	return doc, nil
}

// Adopt validates a file that is already on disk and returns it as staged without copying
func (n *Normalizer) Adopt(ctx context.Context, path string, class domain.FileClass) (*domain.StagedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.UploadError(err, "adopt aborted")
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFound("file %s does not exist", filepath.Base(path))
		}
		return nil, domain.UploadError(err, "cannot stat %s", filepath.Base(path))
	}
	if !info.Mode().IsRegular() {
		return nil, domain.UploadError(nil, "%s is not a regular file", filepath.Base(path))
	}
	if limit := n.limitFor(class); info.Size() > limit {
		return nil, domain.SizeLimitExceeded(info.Size(), limit)
	}

	name := filepath.Base(path)
	var head []byte
	if ExtensionOf(name) == "" || class == domain.ClassArchive {
		head, err = readHead(path)
		if err != nil {
			return nil, domain.UploadError(err, "cannot read %s", name)
		}
	}
	fileType, err := resolveType(name, head, class)
	if err != nil {
		return nil, err
	}

	now := n.now()
	return &domain.StagedDocument{
		ID:           n.newID(),
		Path:         path,
		OriginalName: name,
		Type:         fileType,
		Size:         info.Size(),
		Status:       domain.StatusUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (n *Normalizer) limitFor(class domain.FileClass) int64 {
	if class == domain.ClassArchive {
		return n.limits.MaxArchiveSize
	}
	return n.limits.MaxDocumentSize
}

// resolveType applies extension presence, magic-byte inference and the allow-list, in that order.
// Archives trust their magic bytes over the declared extension.
func resolveType(name string, head []byte, class domain.FileClass) (string, error) {
	ext := ExtensionOf(name)

	if class == domain.ClassArchive && len(head) > 0 {
		if detected, ok := InferExtension(head, class); ok {
			ext = detected
		}
	}

	if ext == "" {
		detected, ok := InferExtension(head, class)
		if !ok {
			return "", domain.UnsupportedFileType("cannot determine %s type of %q", class, name)
		}
		ext = detected
	}

	if !Allowed(ext, class) {
		return "", domain.UnsupportedFileType("extension %q is not allowed for %s uploads, expected one of %s",
			ext, class, strings.Join(allowList(class), ", "))
	}
	return ext, nil
}

// InferExtension maps the content's magic-byte signature to an allowed extension for class
func InferExtension(data []byte, class domain.FileClass) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		ext := strings.TrimPrefix(m.Extension(), ".")
		if Allowed(ext, class) {
			return ext, true
		}
	}
	return "", false
}

// Allowed reports whether ext is on the allow-list of class
func Allowed(ext string, class domain.FileClass) bool {
	return slices.Contains(allowList(class), strings.ToLower(ext))
}

func allowList(class domain.FileClass) []string {
	if class == domain.ClassArchive {
		return domain.ArchiveExtensions
	}
	return domain.DocumentExtensions
}

// ExtensionOf returns the lower-case extension without the dot
func ExtensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// SanitizeFilename strips directories and control characters from a client-supplied name
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, 3072)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

var _ domain.Ingestor = (*Normalizer)(nil)
