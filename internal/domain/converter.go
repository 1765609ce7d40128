package domain

import "context"

// PageCounter reports the number of pages in a PDF
type PageCounter interface {
	CountPages(ctx context.Context, pdfPath string) (int, error)
}

// Renderer turns src into an artifact written at dst.
// Implementations must not leave temporary state behind on any exit path.
type Renderer interface {
	Render(ctx context.Context, src, dst string) error
}
