package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/your-org/docconv/internal/domain"
	"github.com/your-org/docconv/internal/middleware"
)

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUploadError, domain.KindUnsupportedFileType:
		return http.StatusBadRequest
	case domain.KindSizeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case domain.KindConversionFailed, domain.KindArchiveOpenFailed:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindDiskSpaceInsufficient:
		return http.StatusInsufficientStorage
	case domain.KindWebhookDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classifyBodyError turns a request body read failure into a classified error
func classifyBodyError(err error, what string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return domain.SizeLimitExceeded(maxErr.Limit+1, maxErr.Limit)
	}
	var classified *domain.Error
	if errors.As(err, &classified) {
		return err
	}
	return domain.UploadError(err, "cannot read %s", what)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError logs err and sends the classified error body
func respondError(w http.ResponseWriter, logger *zap.Logger, err error, requestID string) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("error_kind", string(kind)),
		zap.Int("status", status),
		zap.Error(err),
	}
	if output := domain.OutputOf(err); output != "" {
		fields = append(fields, zap.String("tool_output", output))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request rejected", fields...)
	}

	w.Header().Set("X-Request-ID", requestID)
	middleware.WriteError(w, status, kind, domain.MessageOf(err), requestID)
}
