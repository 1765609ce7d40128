package domain

import "time"

// DocumentStatus is the lifecycle state of a staged document
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further transition is expected
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// FileClass selects the allow-list and size ceiling applied at ingest
type FileClass int

const (
	ClassDocument FileClass = iota
	ClassArchive
)

func (c FileClass) String() string {
	if c == ClassArchive {
		return "archive"
	}
	return "document"
}

// Document and archive extensions accepted at ingest, without the leading dot
var (
	DocumentExtensions = []string{"pdf", "docx", "xlsx", "xlsm"}
	ArchiveExtensions  = []string{"zip", "rar"}
)

// StagedDocument is a validated file persisted in the staging directory
type StagedDocument struct {
	ID           string         `json:"id"`
	Path         string         `json:"file_path"`
	OriginalName string         `json:"original_name"`
	Type         string         `json:"file_type"`
	Size         int64          `json:"file_size"`
	Status       DocumentStatus `json:"status"`
	ArtifactPath string         `json:"processed_file,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ConversionKind describes how an artifact was produced
type ConversionKind string

const (
	KindRasterize   ConversionKind = "rasterize"
	KindRender      ConversionKind = "render"
	KindPassthrough ConversionKind = "passthrough"
)

// ConversionResult is produced once per successful dispatch; ArtifactPath exists on disk
type ConversionResult struct {
	DocumentID     string         `json:"document_id"`
	SourcePath     string         `json:"source_path"`
	ArtifactPath   string         `json:"artifact_path"`
	ArtifactName   string         `json:"artifact_name"`
	ArtifactMIME   string         `json:"artifact_mime"`
	ConversionKind ConversionKind `json:"conversion_kind"`
	PageCount      int            `json:"page_count,omitempty"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// ExtractedEntry is an allowed file found inside an extraction directory
type ExtractedEntry struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	Path         string `json:"-"`
	Size         int64  `json:"size"`
	MIMEType     string `json:"mime_type"`
	Extension    string `json:"extension"`
	URL          string `json:"url,omitempty"`
}

// ArchiveExtractionResult describes one expansion of an archive.
// ExtractedCount is the raw number of files written; Entries and Skipped are post-filter.
type ArchiveExtractionResult struct {
	ArchivePath      string           `json:"archive_path"`
	ExtractionDir    string           `json:"extraction_dir"`
	Format           string           `json:"format"`
	ExtractedCount   int              `json:"extracted_count"`
	EstimatedSize    int64            `json:"estimated_size"`
	DiskSpaceWarning string           `json:"disk_space_warning,omitempty"`
	Entries          []ExtractedEntry `json:"entries"`
	Skipped          []string         `json:"skipped_files"`
}

// WebhookDeliveryOutcome is the observed result of one webhook POST
type WebhookDeliveryOutcome struct {
	Success      bool   `json:"success"`
	HTTPStatus   int    `json:"http_code"`
	ResponseBody string `json:"response"`
	TargetURL    string `json:"target_url"`
	Error        string `json:"error,omitempty"`
}

// DeliveryRequest carries an artifact and its declared metadata to the webhook
type DeliveryRequest struct {
	Result       ConversionResult
	OriginalName string
	FileType     string
	Timestamp    time.Time
}

// EntryOutcome is the attempt result for a single archive entry
type EntryOutcome struct {
	Entry    ExtractedEntry    `json:"entry"`
	Document *StagedDocument   `json:"document,omitempty"`
	Result   *ConversionResult `json:"result,omitempty"`
	Err      error             `json:"-"`
}

// Succeeded reports whether the entry produced an artifact
func (o EntryOutcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

// ProcessedFile pairs an archive entry with the artifact it produced
type ProcessedFile struct {
	Original  string `json:"original"`
	Processed string `json:"processed"`
}

// FailedFile records an archive entry whose conversion failed
type FailedFile struct {
	Original  string    `json:"original"`
	ErrorKind ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
}

// BatchResult aggregates the outcomes of one archive batch in entry order
type BatchResult struct {
	Outcomes  []EntryOutcome  `json:"-"`
	Processed []ProcessedFile `json:"processed_files"`
	Failed    []FailedFile    `json:"failed_files"`
}

// DocumentEvent is emitted on every status transition
type DocumentEvent struct {
	DocumentID   string         `json:"document_id"`
	Status       DocumentStatus `json:"status"`
	OriginalName string         `json:"original_name"`
	FileType     string         `json:"file_type"`
	ArtifactPath string         `json:"processed_file,omitempty"`
	Error        string         `json:"error,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
