package converter

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

// OfficeOptions configures the headless office renderer
type OfficeOptions struct {
	Bin      string
	UseXvfb  bool
	XvfbBin  string
	Timeout  time.Duration
	TempBase string
}

// OfficeRenderer converts DOCX/XLSX/XLSM to PDF with a headless LibreOffice
type OfficeRenderer struct {
	runner Runner
	opts   OfficeOptions
	logger *zap.Logger
}

// NewOfficeRenderer creates a Renderer backed by LibreOffice
func NewOfficeRenderer(runner Runner, opts OfficeOptions, logger *zap.Logger) *OfficeRenderer {
	if opts.Bin == "" {
		opts.Bin = "libreoffice"
	}
	if opts.XvfbBin == "" {
		opts.XvfbBin = "xvfb-run"
	}
	return &OfficeRenderer{runner: runner, opts: opts, logger: logger}
}

// Render implements domain.Renderer. dst receives the PDF.
func (r *OfficeRenderer) Render(ctx context.Context, src, dst string) error {
	return withWorkdir(r.opts.TempBase, "libreoffice", r.logger, func(dir string) error {
		input := filepath.Join(dir, "input"+filepath.Ext(src))
		if err := CopyFile(src, input); err != nil {
			return domain.ConversionFailed(err, "", "stage input for renderer")
		}

		out, err := r.runner.Run(ctx, r.command(dir, input))
		if err != nil {
			r.logger.Error("libreoffice failed",
				zap.String("source", filepath.Base(src)),
				zap.String("stderr", out.Stderr),
				zap.Error(err),
			)
			return domain.ConversionFailed(err, out.Combined(), "render to pdf")
		}

		produced := filepath.Join(dir, "input.pdf")
		if !regularFileExists(produced) {
			return domain.ConversionFailed(nil, out.Combined(), "renderer exited cleanly but produced no pdf")
		}
		if err := MoveFile(produced, dst); err != nil {
			return domain.ConversionFailed(err, "", "move rendered artifact")
		}
		return nil
	})
}

// command builds the invocation. The profile and HOME live in dir so parallel renders never share state.
func (r *OfficeRenderer) command(dir, input string) Command {
	args := []string{
		"--headless",
		"--invisible",
		"--nodefault",
		"--nofirststartwizard",
		"--nolockcheck",
		"--nologo",
		"--norestore",
		"-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(dir, "profile")),
		"--convert-to", "pdf",
		"--outdir", dir,
		input,
	}

	name := r.opts.Bin
	if r.opts.UseXvfb {
		args = append([]string{"--auto-servernum", "--server-args=-screen 0 1024x768x24", r.opts.Bin}, args...)
		name = r.opts.XvfbBin
	}

	return Command{
		Name:    name,
		Args:    args,
		Dir:     dir,
		Env:     []string{"HOME=" + dir},
		Timeout: r.opts.Timeout,
	}
}

var _ domain.Renderer = (*OfficeRenderer)(nil)
