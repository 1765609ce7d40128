package handlers

import (
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/middleware"
	"github.com/your-org/docconv/internal/usecases"
)

// UploadArchive handles POST /api/uploads-ziprar (multipart field "archive")
func (h *DocumentHandler) UploadArchive(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	upload, err := readMultipartUpload(r, "archive", domain.ClassArchive)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	h.processArchive(w, r, upload)
}

// UploadBinaryArchive handles POST /api/uploads-ziprar/bin (raw body, X-Filename header)
func (h *DocumentHandler) UploadBinaryArchive(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	upload, err := readBinaryUpload(r, "archive", domain.ClassArchive)
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}
	h.processArchive(w, r, upload)
}

// processArchive answers in JSON by default, with ?embed=base64 entry contents,
// or as multipart/mixed with ?format=multipart
func (h *DocumentHandler) processArchive(w http.ResponseWriter, r *http.Request, upload domain.Upload) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	query := r.URL.Query()
	asMultipart := query.Get("format") == "multipart"
	embed := query.Get("embed") == "base64"

	report, err := h.service.ProcessArchive(ctx, upload, usecases.ArchiveOptions{IncludeContent: asMultipart || embed})
	if err != nil {
		respondError(w, h.logger, err, requestID)
		return
	}

	if asMultipart {
		h.writeArchiveMultipart(w, report, requestID)
		return
	}

	if embed {
		usecases.EmbedContent(report)
	}
	respondJSON(w, h.logger, http.StatusOK, report, requestID)
}

// writeArchiveMultipart sends a "metadata" JSON part followed by one part per entry
func (h *DocumentHandler) writeArchiveMultipart(w http.ResponseWriter, report *usecases.ArchiveReport, requestID string) {
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)

	if err := writeArchiveParts(mw, report); err != nil {
		h.logger.Warn("multipart response interrupted",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}
	if err := mw.Close(); err != nil {
		h.logger.Warn("cannot close multipart response", zap.String("request_id", requestID), zap.Error(err))
	}
}

func writeArchiveParts(mw *multipart.Writer, report *usecases.ArchiveReport) error {
	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json")
	metaHeader.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "metadata"}))
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(part).Encode(report); err != nil {
		return err
	}

	for i, entry := range report.Entries {
		header := textproto.MIMEHeader{}
		contentType := entry.MIMEType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"name":     fmt.Sprintf("file_%d", i),
			"filename": entry.Name,
		}))
		header.Set("X-Relative-Path", entry.RelativePath)
		header.Set("X-Status", string(entry.Status))

		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := part.Write(entry.Content); err != nil {
			return err
		}
	}
	return nil
}
