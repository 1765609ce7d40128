package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/docconv/internal/domain"
)

func writeArtifact(t *testing.T, name, content string) domain.ConversionResult {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return domain.ConversionResult{
		DocumentID:     "doc1",
		SourcePath:     "/uploads/abc_report.pdf",
		ArtifactPath:   path,
		ArtifactName:   name,
		ArtifactMIME:   "image/png",
		ConversionKind: domain.KindRasterize,
		CompletedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeliverMultipart(t *testing.T) {
	var fields map[string]string
	var fileContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		fileContent = string(data)
		assert.Equal(t, "abc-report.png", hdr.Filename)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient(Options{URL: server.URL, Format: FormatMultipart}, zaptest.NewLogger(t))
	outcome := c.Deliver(context.Background(), domain.DeliveryRequest{
		Result:       writeArtifact(t, "abc-report.png", "png-bytes"),
		OriginalName: "report.pdf",
		FileType:     "pdf",
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	assert.Equal(t, `{"ok":true}`, outcome.ResponseBody)
	assert.Equal(t, server.URL, outcome.TargetURL)
	assert.Empty(t, outcome.Error)

	assert.Equal(t, "png-bytes", fileContent)
	assert.Equal(t, "report.pdf", fields["original_name"])
	assert.Equal(t, "abc_report.pdf", fields["original_file"])
	assert.Equal(t, "abc-report.png", fields["processed_file"])
	assert.Equal(t, "pdf", fields["file_type"])
	assert.Equal(t, "rasterize", fields["conversion_kind"])
	assert.Equal(t, "2024-05-01T12:00:00Z", fields["timestamp"])
}

func TestDeliverJSON(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewClient(Options{URL: server.URL, Format: FormatJSON}, zaptest.NewLogger(t))
	outcome := c.Deliver(context.Background(), domain.DeliveryRequest{
		Result:       writeArtifact(t, "abc-report.png", "png-bytes"),
		OriginalName: "report.pdf",
		FileType:     "pdf",
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, http.StatusAccepted, outcome.HTTPStatus)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), payload["content_base64"])
	assert.Equal(t, "report.pdf", payload["original_name"])
	assert.Equal(t, "image/png", payload["content_type"])
}

func TestDeliverClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{status: http.StatusOK, want: true},
		{status: http.StatusNoContent, want: true},
		{status: 299, want: true},
		{status: http.StatusMultipleChoices, want: false},
		{status: http.StatusBadRequest, want: false},
		{status: http.StatusInternalServerError, want: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))
			defer server.Close()

			c := NewClient(Options{URL: server.URL}, zaptest.NewLogger(t))
			outcome := c.Deliver(context.Background(), domain.DeliveryRequest{Result: writeArtifact(t, "a.png", "x")})

			assert.Equal(t, tt.want, outcome.Success)
			assert.Equal(t, tt.status, outcome.HTTPStatus)
			if !tt.want {
				assert.Contains(t, outcome.Error, string(domain.KindWebhookDeliveryFailed))
			}
		})
	}
}

func TestDeliverTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(Options{URL: url, Timeout: time.Second}, zaptest.NewLogger(t))
	outcome := c.Deliver(context.Background(), domain.DeliveryRequest{Result: writeArtifact(t, "a.png", "x")})

	assert.False(t, outcome.Success)
	assert.Zero(t, outcome.HTTPStatus)
	assert.NotEmpty(t, outcome.Error)
}

func TestDeliverMissingArtifact(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer server.Close()

	c := NewClient(Options{URL: server.URL}, zaptest.NewLogger(t))
	outcome := c.Deliver(context.Background(), domain.DeliveryRequest{
		Result: domain.ConversionResult{ArtifactPath: filepath.Join(t.TempDir(), "gone.png"), ArtifactName: "gone.png"},
	})

	assert.False(t, outcome.Success)
	assert.Zero(t, hits.Load())
}

func TestDeliverTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(Options{URL: server.URL, Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t))
	outcome := c.Deliver(context.Background(), domain.DeliveryRequest{Result: writeArtifact(t, "a.png", "x")})

	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.Error)
}

func TestDeliverBatchKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if r.FormValue("processed_file") == "fail.png" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(r.FormValue("processed_file")))
	}))
	defer server.Close()

	c := NewClient(Options{URL: server.URL, BatchConcurrency: 3}, zaptest.NewLogger(t))

	names := []string{"a.png", "b.png", "fail.png", "c.png", "d.pdf"}
	reqs := make([]domain.DeliveryRequest, len(names))
	for i, n := range names {
		reqs[i] = domain.DeliveryRequest{Result: writeArtifact(t, n, n)}
	}

	outcomes := c.DeliverBatch(context.Background(), reqs)
	require.Len(t, outcomes, len(names))
	for i, n := range names {
		if n == "fail.png" {
			assert.False(t, outcomes[i].Success)
			assert.Equal(t, http.StatusBadGateway, outcomes[i].HTTPStatus)
			continue
		}
		assert.True(t, outcomes[i].Success)
		assert.Equal(t, n, outcomes[i].ResponseBody)
	}
}

func TestBuildMetadataFallsBackToCompletedAt(t *testing.T) {
	meta := BuildMetadata(domain.DeliveryRequest{
		Result: domain.ConversionResult{
			SourcePath:  "/x/y/input.docx",
			CompletedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	})
	assert.Equal(t, "input.docx", meta.OriginalFile)
	assert.Equal(t, "2024-01-02T03:04:05Z", meta.Timestamp)
}
