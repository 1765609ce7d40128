package converter

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
)

var pagesPattern = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

// ParsePageCount extracts N from a "Pages: N" line. Unparseable output counts as one page.
func ParsePageCount(output string) int {
	m := pagesPattern.FindStringSubmatch(output)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return n
}

// PdfinfoCounter counts pages with poppler's pdfinfo
type PdfinfoCounter struct {
	runner  Runner
	bin     string
	timeout time.Duration
	logger  *zap.Logger
}

// NewPdfinfoCounter creates a PageCounter that shells out to bin
func NewPdfinfoCounter(runner Runner, bin string, timeout time.Duration, logger *zap.Logger) *PdfinfoCounter {
	if bin == "" {
		bin = "pdfinfo"
	}
	return &PdfinfoCounter{runner: runner, bin: bin, timeout: timeout, logger: logger}
}

// CountPages implements domain.PageCounter
func (c *PdfinfoCounter) CountPages(ctx context.Context, pdfPath string) (int, error) {
	out, err := c.runner.Run(ctx, Command{
		Name:    c.bin,
		Args:    []string{pdfPath},
		Timeout: c.timeout,
	})
	if err != nil {
		return 0, domain.ConversionFailed(err, out.Combined(), "page count failed")
	}

	pages := ParsePageCount(out.Stdout)
	if !pagesPattern.MatchString(out.Stdout) {
		c.logger.Warn("pdfinfo output has no page count, assuming one page",
			zap.String("path", pdfPath),
		)
	}
	return pages, nil
}

// PdfcpuCounter counts pages in-process with pdfcpu
type PdfcpuCounter struct{}

// NewPdfcpuCounter creates a PageCounter that needs no external binary
func NewPdfcpuCounter() *PdfcpuCounter {
	return &PdfcpuCounter{}
}

// CountPages implements domain.PageCounter
func (c *PdfcpuCounter) CountPages(ctx context.Context, pdfPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.ConversionFailed(err, "", "page count aborted")
	}
	pages, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, domain.ConversionFailed(err, "", "page count failed")
	}
	return pages, nil
}

var (
	_ domain.PageCounter = (*PdfinfoCounter)(nil)
	_ domain.PageCounter = (*PdfcpuCounter)(nil)
)
