package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/middleware"
	"github.com/your-org/docconv/internal/usecases"
)

const (
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20
)

// DocumentService is the usecase surface the HTTP layer needs
type DocumentService interface {
	UploadAndProcess(ctx context.Context, upload domain.Upload) (*usecases.ProcessReport, error)
	Transform(ctx context.Context, upload domain.Upload) (*usecases.ProcessReport, error)
	ProcessByID(ctx context.Context, ref string) (*usecases.ProcessReport, error)
	ProcessArchive(ctx context.Context, upload domain.Upload, opts usecases.ArchiveOptions) (*usecases.ArchiveReport, error)
	GetDocument(ctx context.Context, id string) (domain.StagedDocument, error)
	ListDocuments(ctx context.Context) []domain.StagedDocument
	DocumentCount() int
}

// Limits are the body ceilings for document and archive routes
type Limits struct {
	MaxDocumentSize int64
	MaxArchiveSize  int64
}

// DocumentHandler handles HTTP requests for documents and archives
type DocumentHandler struct {
	service DocumentService
	limits  Limits
	logger  *zap.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(service DocumentService, limits Limits, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		limits:  limits,
		logger:  logger,
	}
}

// Routes registers the document and archive endpoints under /api
func (h *DocumentHandler) Routes(r chi.Router) {
	docLimit := middleware.MaxBodySize(h.limits.MaxDocumentSize + multipartOverhead)
	archiveLimit := middleware.MaxBodySize(h.limits.MaxArchiveSize + multipartOverhead)

	r.Route("/api", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.With(docLimit).Post("/", h.UploadDocument)
			r.With(docLimit).Post("/bin", h.UploadBinaryDocument)
			r.With(docLimit).Post("/transform", h.TransformDocument)
			r.With(docLimit).Post("/transform/bin", h.TransformBinaryDocument)
			r.Post("/manual", h.ProcessManual)
			r.Get("/{id}", h.GetDocument)
		})

		r.Route("/uploads-ziprar", func(r chi.Router) {
			r.Use(archiveLimit)
			r.Post("/", h.UploadArchive)
			r.Post("/bin", h.UploadBinaryArchive)
		})
	})
}

// UploadDocument handles POST /api/documents (multipart field "document")
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	upload, err := readMultipartUpload(r, "document", domain.ClassDocument)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	h.processUpload(w, r, upload)
}

// UploadBinaryDocument handles POST /api/documents/bin (raw body, X-Filename header)
func (h *DocumentHandler) UploadBinaryDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	upload, err := readBinaryUpload(r, "document", domain.ClassDocument)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	h.processUpload(w, r, upload)
}

func (h *DocumentHandler) processUpload(w http.ResponseWriter, r *http.Request, upload domain.Upload) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	report, err := h.service.UploadAndProcess(ctx, upload)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, report, requestID)
}

// TransformDocument handles POST /api/documents/transform and answers with the artifact bytes
func (h *DocumentHandler) TransformDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	upload, err := readMultipartUpload(r, "document", domain.ClassDocument)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	h.transform(w, r, upload)
}

// TransformBinaryDocument handles POST /api/documents/transform/bin
func (h *DocumentHandler) TransformBinaryDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	upload, err := readBinaryUpload(r, "document", domain.ClassDocument)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	h.transform(w, r, upload)
}

func (h *DocumentHandler) transform(w http.ResponseWriter, r *http.Request, upload domain.Upload) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	report, err := h.service.Transform(ctx, upload)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}

	f, err := os.Open(report.Result.ArtifactPath)
	if err != nil {
		respondError(w, h.logger, domain.NotFound("artifact %s is missing", report.Result.ArtifactName), requestID)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, h.logger, domain.Internal(err, "cannot stat artifact"), requestID)
		return
	}

	name := report.Result.ArtifactName
	w.Header().Set("Content-Type", report.Result.ArtifactMIME)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("X-File-Name", name)
	w.Header().Set("X-File-Type", report.Result.ArtifactMIME)
	w.Header().Set("X-Document-Id", report.Document.ID)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("artifact stream interrupted",
			zap.String("request_id", requestID),
			zap.String("artifact", name),
			zap.Error(err),
		)
	}
}

type manualRequest struct {
	DocumentID string `json:"document_id"`
}

// ProcessManual handles POST /api/documents/manual {"document_id": ...}
func (h *DocumentHandler) ProcessManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req manualRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, h.logger, domain.UploadError(err, "invalid request body"), requestID)
		return
	}

	report, err := h.service.ProcessByID(ctx, req.DocumentID)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, report, requestID)
}

// GetDocument handles GET /api/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, h.logger, domain.UploadError(nil, "id parameter is required"), requestID)
		return
	}

	doc, err := h.service.GetDocument(ctx, id)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"success":  true,
		"document": doc,
	}, requestID)
}

// ListDocuments handles GET /api/documents
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	docs := h.service.ListDocuments(ctx)
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := docs[:0]
		for _, d := range docs {
			if string(d.Status) == status {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"success":   true,
		"count":     len(docs),
		"documents": docs,
	}, requestID)
}

// readMultipartUpload reads one file field of a multipart form
func readMultipartUpload(r *http.Request, field string, class domain.FileClass) (domain.Upload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return domain.Upload{}, classifyBodyError(err, "multipart form")
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return domain.Upload{}, domain.UploadError(nil, "multipart field %q is required", field)
		}
		return domain.Upload{}, classifyBodyError(err, field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return domain.Upload{}, classifyBodyError(err, field)
	}
	return domain.Upload{Filename: header.Filename, Data: data, Class: class}, nil
}

// readBinaryUpload reads a raw body; the name comes from X-Filename or is generated
func readBinaryUpload(r *http.Request, prefix string, class domain.FileClass) (domain.Upload, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return domain.Upload{}, classifyBodyError(err, "request body")
	}

	name := strings.TrimSpace(r.Header.Get("X-Filename"))
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" {
		name = fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return domain.Upload{Filename: name, Data: data, Class: class}, nil
}
