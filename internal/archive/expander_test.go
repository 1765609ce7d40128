package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/docconv/internal/domain"
)

const testEntryLimit = 64

func buildZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

// buildZipEntries writes entries in order and keeps duplicate names
func buildZipEntries(t *testing.T, entries [][2]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		w, err := zw.Create(entry[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(entry[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func newTestExpander(t *testing.T, opts Options) *Expander {
	t.Helper()
	if opts.ExtractRoot == "" {
		opts.ExtractRoot = t.TempDir()
	}
	if opts.MaxEntrySize == 0 {
		opts.MaxEntrySize = testEntryLimit
	}
	e, err := NewExpander(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func mixedArchive(t *testing.T) string {
	return buildZip(t, map[string]string{
		"a.pdf":              "%PDF-1.4 small",
		"nested/deep/b.docx": "docx content",
		"notes.txt":          "not allowed",
		"big.xlsx":           strings.Repeat("x", testEntryLimit+1),
	})
}

func TestExpandFiltersEntries(t *testing.T) {
	e := newTestExpander(t, Options{URLBase: "http://localhost:8000/uploads/"})

	result, err := e.Expand(context.Background(), mixedArchive(t), "zip")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Cleanup(result) })

	assert.Equal(t, "zip", result.Format)
	assert.Equal(t, 4, result.ExtractedCount)
	assert.Equal(t, []string{"big.xlsx", "notes.txt"}, result.Skipped)
	require.Len(t, result.Entries, 2)

	byName := map[string]domain.ExtractedEntry{}
	for _, entry := range result.Entries {
		byName[entry.Name] = entry
		assert.FileExists(t, entry.Path)
		assert.True(t, strings.HasPrefix(entry.Path, result.ExtractionDir))
	}

	pdf := byName["a.pdf"]
	assert.Equal(t, "pdf", pdf.Extension)
	assert.Equal(t, "application/pdf", pdf.MIMEType)
	assert.Equal(t, int64(len("%PDF-1.4 small")), pdf.Size)

	docx := byName["b.docx"]
	assert.Equal(t, "nested/deep/b.docx", docx.RelativePath)
	assert.Equal(t, "docx", docx.Extension)

	dirName := filepath.Base(result.ExtractionDir)
	assert.True(t, strings.HasPrefix(dirName, "extracted_"))
	assert.Equal(t, "http://localhost:8000/uploads/"+dirName+"/nested/deep/b.docx", docx.URL)
}

func TestExpandRar(t *testing.T) {
	e := newTestExpander(t, Options{})

	// stored RAR4 with a.pdf, docs/b.xlsx and notes.txt
	result, err := e.Expand(context.Background(), filepath.Join("testdata", "mixed.rar"), "rar")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Cleanup(result) })

	assert.Equal(t, "rar", result.Format)
	assert.Equal(t, 3, result.ExtractedCount)
	assert.Equal(t, []string{"notes.txt"}, result.Skipped)
	require.Len(t, result.Entries, 2)

	byPath := map[string]domain.ExtractedEntry{}
	for _, entry := range result.Entries {
		byPath[entry.RelativePath] = entry
	}
	require.Contains(t, byPath, "a.pdf")
	require.Contains(t, byPath, "docs/b.xlsx")
	assert.Equal(t, "application/pdf", byPath["a.pdf"].MIMEType)

	data, err := os.ReadFile(byPath["a.pdf"].Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 rar entry\n", string(data))
	assert.Equal(t, int64(len("xlsx body")), byPath["docs/b.xlsx"].Size)
}

func TestExpandRejectsEntriesOutsideExtractionDir(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "extract")
	e := newTestExpander(t, Options{ExtractRoot: root})

	archivePath := buildZipEntries(t, [][2]string{
		{"../evil.pdf", "%PDF-1.4 escaped"},
		{"../../evil.pdf", "%PDF-1.4 escaped further"},
		{"a.pdf", "%PDF-1.4 small"},
	})

	result, err := e.Expand(context.Background(), archivePath, "zip")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Cleanup(result) })

	assert.Equal(t, 1, result.ExtractedCount)
	assert.Equal(t, []string{"../../evil.pdf", "../evil.pdf"}, result.Skipped)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "a.pdf", result.Entries[0].RelativePath)

	assert.NoFileExists(t, filepath.Join(root, "evil.pdf"))
	assert.NoFileExists(t, filepath.Join(parent, "evil.pdf"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(parent), "evil.pdf"))
}

func TestExpandSkipsDuplicateEntries(t *testing.T) {
	e := newTestExpander(t, Options{})

	archivePath := buildZipEntries(t, [][2]string{
		{"a.pdf", "%PDF-1.4 first"},
		{"./a.pdf", "%PDF-1.4 second"},
		{"b.docx", "docx content"},
		{"big.xlsx", strings.Repeat("x", testEntryLimit+1)},
		{"big.xlsx", "small enough"},
	})

	result, err := e.Expand(context.Background(), archivePath, "zip")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Cleanup(result) })

	assert.Equal(t, 3, result.ExtractedCount)
	assert.Equal(t, []string{"a.pdf", "big.xlsx", "big.xlsx"}, result.Skipped)
	require.Len(t, result.Entries, 2)

	data, err := os.ReadFile(filepath.Join(result.ExtractionDir, "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 first", string(data))
	assert.NoFileExists(t, filepath.Join(result.ExtractionDir, "big.xlsx"))
}

func TestExpandOversizedEntryNotLeftOnDisk(t *testing.T) {
	e := newTestExpander(t, Options{})

	result, err := e.Expand(context.Background(), mixedArchive(t), "zip")
	require.NoError(t, err)
	defer e.Cleanup(result)

	assert.NoFileExists(t, filepath.Join(result.ExtractionDir, "big.xlsx"))
}

func TestExpandUsesUniqueDirectories(t *testing.T) {
	e := newTestExpander(t, Options{})
	archivePath := mixedArchive(t)

	first, err := e.Expand(context.Background(), archivePath, "zip")
	require.NoError(t, err)
	second, err := e.Expand(context.Background(), archivePath, "zip")
	require.NoError(t, err)

	assert.NotEqual(t, first.ExtractionDir, second.ExtractionDir)

	require.NoError(t, e.Cleanup(first))
	require.NoError(t, e.Cleanup(second))
	assert.NoDirExists(t, first.ExtractionDir)
	assert.NoDirExists(t, second.ExtractionDir)
}

func TestExpandCorruptArchive(t *testing.T) {
	root := t.TempDir()
	e := newTestExpander(t, Options{ExtractRoot: root})

	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 this is not really a zip"), 0o644))

	_, err := e.Expand(context.Background(), path, "zip")
	require.Error(t, err)
	assert.Equal(t, domain.KindArchiveOpenFailed, domain.KindOf(err))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed expansion must not leave an extraction dir")
}

func TestExpandEmptyArchive(t *testing.T) {
	e := newTestExpander(t, Options{})

	_, err := e.Expand(context.Background(), buildZip(t, map[string]string{}), "zip")
	assert.Equal(t, domain.KindArchiveOpenFailed, domain.KindOf(err))
}

func TestExpandMissingArchive(t *testing.T) {
	e := newTestExpander(t, Options{})

	_, err := e.Expand(context.Background(), filepath.Join(t.TempDir(), "nope.zip"), "zip")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestExpandDiskSpaceCheck(t *testing.T) {
	tests := []struct {
		name     string
		strict   bool
		wantErr  bool
		wantWarn bool
	}{
		{name: "advisory by default", strict: false, wantWarn: true},
		{name: "strict", strict: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExpander(t, Options{StrictDiskCheck: tt.strict})
			e.freeSpace = func(string) (uint64, bool) { return 1, true }

			result, err := e.Expand(context.Background(), mixedArchive(t), "zip")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.KindDiskSpaceInsufficient, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			defer e.Cleanup(result)
			if tt.wantWarn {
				assert.NotEmpty(t, result.DiskSpaceWarning)
			}
			assert.Len(t, result.Entries, 2)
		})
	}
}
