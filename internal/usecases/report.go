package usecases

import (
	"encoding/base64"

	"github.com/your-org/docconv/internal/domain"
)

// ProcessReport is the outcome of converting one document.
// Conversion and delivery are reported side by side; a failed delivery never clears Success.
type ProcessReport struct {
	Success     bool                           `json:"success"`
	Document    domain.StagedDocument          `json:"document"`
	Result      *domain.ConversionResult       `json:"result,omitempty"`
	ArtifactURL string                         `json:"processed_url,omitempty"`
	Delivery    *domain.WebhookDeliveryOutcome `json:"delivery,omitempty"`
}

// ArchiveOptions controls what an archive report carries
type ArchiveOptions struct {
	// IncludeContent keeps the bytes of every extracted entry in the report
	IncludeContent bool
}

// EntryReport describes one allowed archive entry and what became of it
type EntryReport struct {
	domain.ExtractedEntry
	Status         domain.DocumentStatus `json:"status"`
	DocumentID     string                `json:"document_id,omitempty"`
	ProcessedFile  string                `json:"processed_file,omitempty"`
	ProcessedURL   string                `json:"processed_url,omitempty"`
	ConversionKind domain.ConversionKind `json:"conversion_kind,omitempty"`
	ErrorKind      domain.ErrorKind      `json:"error_kind,omitempty"`
	Error          string                `json:"error,omitempty"`
	ContentBase64  string                `json:"content_base64,omitempty"`
	Content        []byte                `json:"-"`
}

// DeliveryReport is the webhook outcome for one processed entry
type DeliveryReport struct {
	Original string `json:"original"`
	domain.WebhookDeliveryOutcome
}

// ArchiveReport is the outcome of expanding and batch-converting one archive.
// ExtractedCount counts every file written; Entries and Skipped are post-filter.
type ArchiveReport struct {
	Success          bool                   `json:"success"`
	Archive          domain.StagedDocument  `json:"archive"`
	Format           string                 `json:"format"`
	ExtractedCount   int                    `json:"extracted_count"`
	EstimatedSize    int64                  `json:"estimated_size"`
	DiskSpaceWarning string                 `json:"disk_space_warning,omitempty"`
	Entries          []EntryReport          `json:"entries"`
	Skipped          []string               `json:"skipped_files"`
	Processed        []domain.ProcessedFile `json:"processed_files"`
	Failed           []domain.FailedFile    `json:"failed_files"`
	Deliveries       []DeliveryReport       `json:"deliveries,omitempty"`
}

// EmbedContent fills ContentBase64 from the entry bytes kept with ArchiveOptions.IncludeContent
func EmbedContent(report *ArchiveReport) {
	for i := range report.Entries {
		if len(report.Entries[i].Content) > 0 {
			report.Entries[i].ContentBase64 = base64.StdEncoding.EncodeToString(report.Entries[i].Content)
		}
	}
}
