// Package webhook posts conversion artifacts to the downstream consumer.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/docconv/internal/domain"
)

const (
	FormatMultipart = "multipart"
	FormatJSON      = "json"

	maxResponseBody = 1 << 20
)

// Options configures a Client
type Options struct {
	URL              string
	Format           string
	Timeout          time.Duration
	BatchConcurrency int
}

// Client delivers artifacts with a single synchronous POST per artifact
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

// Metadata is the structured part of a delivery payload
type Metadata struct {
	OriginalName   string                `json:"original_name"`
	OriginalFile   string                `json:"original_file"`
	ProcessedFile  string                `json:"processed_file"`
	FileType       string                `json:"file_type"`
	ConversionKind domain.ConversionKind `json:"conversion_kind"`
	Timestamp      string                `json:"timestamp"`
}

type jsonPayload struct {
	Metadata
	ContentType   string `json:"content_type"`
	ContentBase64 string `json:"content_base64"`
}

// NewClient creates a webhook client
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Format == "" {
		opts.Format = FormatMultipart
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchConcurrency < 1 {
		opts.BatchConcurrency = 1
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

// URL returns the configured endpoint
func (c *Client) URL() string {
	return c.opts.URL
}

// Deliver posts one artifact. The outcome is purely observational and never an error.
func (c *Client) Deliver(ctx context.Context, req domain.DeliveryRequest) domain.WebhookDeliveryOutcome {
	outcome := domain.WebhookDeliveryOutcome{TargetURL: c.opts.URL}
	start := time.Now()

	body, contentType, err := c.buildPayload(req)
	if err != nil {
		outcome.Error = domain.WebhookDeliveryFailed(err, "cannot build payload for %s", req.Result.ArtifactName).Error()
		c.logFailure(req, outcome)
		return outcome
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, body)
	if err != nil {
		outcome.Error = domain.WebhookDeliveryFailed(err, "invalid webhook request").Error()
		c.logFailure(req, outcome)
		return outcome
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome.Error = domain.WebhookDeliveryFailed(err, "webhook request failed").Error()
		c.logFailure(req, outcome)
		return outcome
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.logger.Warn("cannot read webhook response body", zap.Error(err))
	}

	outcome.HTTPStatus = resp.StatusCode
	outcome.ResponseBody = string(respBody)
	outcome.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !outcome.Success {
		outcome.Error = domain.WebhookDeliveryFailed(nil, "webhook responded with status %d", resp.StatusCode).Error()
		c.logFailure(req, outcome)
		return outcome
	}

	c.logger.Info("artifact delivered",
		zap.String("document_id", req.Result.DocumentID),
		zap.String("processed_file", req.Result.ArtifactName),
		zap.Int("http_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome
}

// DeliverBatch posts every request with bounded concurrency; outcomes keep request order
func (c *Client) DeliverBatch(ctx context.Context, reqs []domain.DeliveryRequest) []domain.WebhookDeliveryOutcome {
	outcomes := make([]domain.WebhookDeliveryOutcome, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = c.Deliver(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// BuildMetadata derives the structured part of a payload from req
func BuildMetadata(req domain.DeliveryRequest) Metadata {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = req.Result.CompletedAt
	}
	return Metadata{
		OriginalName:   req.OriginalName,
		OriginalFile:   filepath.Base(req.Result.SourcePath),
		ProcessedFile:  req.Result.ArtifactName,
		FileType:       req.FileType,
		ConversionKind: req.Result.ConversionKind,
		Timestamp:      ts.UTC().Format(time.RFC3339),
	}
}

func (c *Client) buildPayload(req domain.DeliveryRequest) (io.Reader, string, error) {
	content, err := os.ReadFile(req.Result.ArtifactPath)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	meta := BuildMetadata(req)

	if c.opts.Format == FormatJSON {
		data, err := json.Marshal(jsonPayload{
			Metadata:      meta,
			ContentType:   req.Result.ArtifactMIME,
			ContentBase64: base64.StdEncoding.EncodeToString(content),
		})
		if err != nil {
			return nil, "", fmt.Errorf("encode payload: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	fields := [][2]string{
		{"original_name", meta.OriginalName},
		{"original_file", meta.OriginalFile},
		{"processed_file", meta.ProcessedFile},
		{"file_type", meta.FileType},
		{"conversion_kind", string(meta.ConversionKind)},
		{"timestamp", meta.Timestamp},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	part, err := writer.CreateFormFile("file", req.Result.ArtifactName)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func (c *Client) logFailure(req domain.DeliveryRequest, outcome domain.WebhookDeliveryOutcome) {
	c.logger.Warn("webhook delivery failed",
		zap.String("document_id", req.Result.DocumentID),
		zap.String("processed_file", req.Result.ArtifactName),
		zap.String("target_url", outcome.TargetURL),
		zap.Int("http_code", outcome.HTTPStatus),
		zap.String("error", outcome.Error),
	)
}

// Verify that Client implements domain.Deliverer interface
var _ domain.Deliverer = (*Client)(nil)
