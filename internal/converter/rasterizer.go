package converter

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

const rasterBase = "page"

// RasterOutputCandidates lists the names pdftoppm may give page 1 of base.
// The page suffix is zero-padded to the digit count of the document's last page.
func RasterOutputCandidates(base, ext string) []string {
	return []string{
		base + "-1." + ext,
		base + "-01." + ext,
		base + "-001." + ext,
		base + "-0001." + ext,
		base + "." + ext,
	}
}

// ResolveOutput returns the first candidate for which exists reports true
func ResolveOutput(candidates []string, exists func(string) bool) (string, bool) {
	for _, c := range candidates {
		if exists(c) {
			return c, true
		}
	}
	return "", false
}

func regularFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// PdftoppmRasterizer renders the first page of a PDF to PNG
type PdftoppmRasterizer struct {
	runner   Runner
	bin      string
	timeout  time.Duration
	tempBase string
	logger   *zap.Logger
}

// NewPdftoppmRasterizer creates a Renderer backed by poppler's pdftoppm
func NewPdftoppmRasterizer(runner Runner, bin string, timeout time.Duration, tempBase string, logger *zap.Logger) *PdftoppmRasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &PdftoppmRasterizer{runner: runner, bin: bin, timeout: timeout, tempBase: tempBase, logger: logger}
}

// Render implements domain.Renderer. dst receives the PNG.
func (r *PdftoppmRasterizer) Render(ctx context.Context, src, dst string) error {
	return withWorkdir(r.tempBase, "pdftoppm", r.logger, func(dir string) error {
		input := filepath.Join(dir, "input.pdf")
		if err := CopyFile(src, input); err != nil {
			return domain.ConversionFailed(err, "", "stage input for rasterizer")
		}

		out, err := r.runner.Run(ctx, Command{
			Name:    r.bin,
			Args:    []string{"-png", "-f", "1", "-l", "1", input, filepath.Join(dir, rasterBase)},
			Dir:     dir,
			Timeout: r.timeout,
		})
		if err != nil {
			r.logger.Error("pdftoppm failed",
				zap.String("source", filepath.Base(src)),
				zap.String("stderr", out.Stderr),
				zap.Error(err),
			)
			return domain.ConversionFailed(err, out.Combined(), "rasterize first page")
		}

		produced, ok := ResolveOutput(RasterOutputCandidates(filepath.Join(dir, rasterBase), "png"), regularFileExists)
		if !ok {
			return domain.ConversionFailed(nil, out.Combined(), "rasterizer exited cleanly but produced no image")
		}
		if err := MoveFile(produced, dst); err != nil {
			return domain.ConversionFailed(err, "", "move raster artifact")
		}
		return nil
	})
}

var _ domain.Renderer = (*PdftoppmRasterizer)(nil)
