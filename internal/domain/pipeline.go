package domain

import "context"

// Upload is a fresh byte stream with its declared filename
type Upload struct {
	Filename string
	Data     []byte
	Class    FileClass
}

// Ingestor validates and stages files
type Ingestor interface {
	Stage(ctx context.Context, u Upload) (*StagedDocument, error)
	Adopt(ctx context.Context, path string, class FileClass) (*StagedDocument, error)
}

// Converter runs the conversion policy for a staged document and updates its status
type Converter interface {
	Dispatch(ctx context.Context, doc *StagedDocument) (*ConversionResult, error)
}

// ArchiveExpander extracts archives into directories owned by the caller until Cleanup
type ArchiveExpander interface {
	Expand(ctx context.Context, archivePath, fileType string) (*ArchiveExtractionResult, error)
	Cleanup(result *ArchiveExtractionResult) error
}

// BatchProcessor converts every entry of an extraction, then removes the extraction directory.
// inspect, if not nil, runs after all entries were attempted and before cleanup.
type BatchProcessor interface {
	ProcessExtraction(ctx context.Context, extraction *ArchiveExtractionResult, inspect func(*BatchResult)) *BatchResult
}
