package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/middleware"
)

// ServiceInfo identifies the running service in health responses
type ServiceInfo struct {
	Name           string
	Version        string
	WebhookEnabled bool
	EventsEnabled  bool
}

// HealthHandler serves liveness and the endpoint index
type HealthHandler struct {
	info    ServiceInfo
	counter func() int
	logger  *zap.Logger
	now     func() time.Time
}

// NewHealthHandler creates a health handler; counter reports the registry size
func NewHealthHandler(info ServiceInfo, counter func() int, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{info: info, counter: counter, logger: logger, now: time.Now}
}

// Health handles GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	documents := 0
	if h.counter != nil {
		documents = h.counter()
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"service":              h.info.Name,
		"version":              h.info.Version,
		"timestamp":            h.now().UTC().Format(time.RFC3339),
		"supported_extensions": domain.DocumentExtensions,
		"archive_extensions":   domain.ArchiveExtensions,
		"documents":            documents,
		"webhook_enabled":      h.info.WebhookEnabled,
		"events_enabled":       h.info.EventsEnabled,
	}, middleware.GetRequestID(r.Context()))
}

// Index handles GET /
func (h *HealthHandler) Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"service": h.info.Name,
		"version": h.info.Version,
		"endpoints": map[string]string{
			"upload_document":        "POST /api/documents",
			"upload_document_bin":    "POST /api/documents/bin",
			"transform_document":     "POST /api/documents/transform",
			"transform_document_bin": "POST /api/documents/transform/bin",
			"process_manual":         "POST /api/documents/manual",
			"list_documents":         "GET /api/documents",
			"get_document":           "GET /api/documents/{id}",
			"upload_archive":         "POST /api/uploads-ziprar",
			"upload_archive_bin":     "POST /api/uploads-ziprar/bin",
			"health":                 "GET /api/health",
		},
	}, middleware.GetRequestID(r.Context()))
}
