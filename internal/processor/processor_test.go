package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/docconv/internal/domain"
)

// MockIngestor is a mock implementation of domain.Ingestor
type MockIngestor struct {
	mock.Mock
}

var _ domain.Ingestor = (*MockIngestor)(nil)

func (m *MockIngestor) Stage(ctx context.Context, u domain.Upload) (*domain.StagedDocument, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StagedDocument), args.Error(1)
}

func (m *MockIngestor) Adopt(ctx context.Context, path string, class domain.FileClass) (*domain.StagedDocument, error) {
	args := m.Called(ctx, path, class)
	if fn, ok := args.Get(0).(func(context.Context, string, domain.FileClass) *domain.StagedDocument); ok {
		return fn(ctx, path, class), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StagedDocument), args.Error(1)
}

// MockCleaner is a mock implementation of domain.ArchiveExpander
type MockCleaner struct {
	mock.Mock
}

var _ domain.ArchiveExpander = (*MockCleaner)(nil)

func (m *MockCleaner) Expand(ctx context.Context, path, fileType string) (*domain.ArchiveExtractionResult, error) {
	args := m.Called(ctx, path, fileType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ArchiveExtractionResult), args.Error(1)
}

func (m *MockCleaner) Cleanup(result *domain.ArchiveExtractionResult) error {
	args := m.Called(result)
	return args.Error(0)
}

// funcConverter lets each test script Dispatch
type funcConverter func(ctx context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error)

func (f funcConverter) Dispatch(ctx context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
	return f(ctx, doc)
}

func makeEntries(n int) []domain.ExtractedEntry {
	entries := make([]domain.ExtractedEntry, n)
	for i := range entries {
		name := fmt.Sprintf("doc-%02d.pdf", i)
		entries[i] = domain.ExtractedEntry{
			Name:         name,
			RelativePath: "folder/" + name,
			Path:         "/extract/folder/" + name,
			Extension:    "pdf",
		}
	}
	return entries
}

func adoptAll(ingestor *MockIngestor) {
	ingestor.On("Adopt", mock.Anything, mock.AnythingOfType("string"), domain.ClassDocument).
		Return(func(_ context.Context, path string, _ domain.FileClass) *domain.StagedDocument {
			return &domain.StagedDocument{ID: "id-" + path, Path: path, Type: "pdf", Status: domain.StatusUploaded}
		}, nil)
}

func artifactFor(doc *domain.StagedDocument) *domain.ConversionResult {
	return &domain.ConversionResult{
		DocumentID:   doc.ID,
		SourcePath:   doc.Path,
		ArtifactName: "artifact-" + doc.OriginalName,
	}
}

func TestProcessEntriesPreservesOrder(t *testing.T) {
	ingestor := new(MockIngestor)
	adoptAll(ingestor)

	converter := funcConverter(func(_ context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
		time.Sleep(time.Duration(len(doc.OriginalName)%3) * time.Millisecond)
		return artifactFor(doc), nil
	})
	p := NewBatchProcessor(ingestor, converter, new(MockCleaner), 5, zaptest.NewLogger(t))

	entries := makeEntries(40)
	batch := p.ProcessEntries(context.Background(), entries)

	require.Len(t, batch.Outcomes, 40)
	require.Len(t, batch.Processed, 40)
	assert.Empty(t, batch.Failed)
	for i, o := range batch.Outcomes {
		assert.Equal(t, entries[i].RelativePath, o.Entry.RelativePath, "order must be preserved at %d", i)
		assert.Equal(t, entries[i].Name, o.Document.OriginalName)
		assert.Equal(t, entries[i].RelativePath, batch.Processed[i].Original)
		assert.Equal(t, "artifact-"+entries[i].Name, batch.Processed[i].Processed)
	}
}

func TestProcessEntriesIsolatesFailures(t *testing.T) {
	ingestor := new(MockIngestor)
	adoptAll(ingestor)

	entries := makeEntries(6)
	var (
		mu       sync.Mutex
		attempts []string
	)
	converter := funcConverter(func(_ context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
		mu.Lock()
		attempts = append(attempts, doc.OriginalName)
		mu.Unlock()
		if doc.OriginalName == entries[2].Name {
			return nil, domain.ConversionFailed(errors.New("exit status 1"), "", "render to pdf")
		}
		return artifactFor(doc), nil
	})
	p := NewBatchProcessor(ingestor, converter, new(MockCleaner), 1, zaptest.NewLogger(t))

	batch := p.ProcessEntries(context.Background(), entries)

	require.Len(t, batch.Outcomes, len(entries))
	assert.Len(t, batch.Processed, 5)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, entries[2].RelativePath, batch.Failed[0].Original)
	assert.Equal(t, domain.KindConversionFailed, batch.Failed[0].ErrorKind)

	// sequential with one worker: every later entry was still attempted, in order
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, names, attempts)
}

func TestProcessEntriesStagingFailureIsRecorded(t *testing.T) {
	entries := makeEntries(3)

	ingestor := new(MockIngestor)
	ingestor.On("Adopt", mock.Anything, entries[0].Path, domain.ClassDocument).
		Return(nil, domain.SizeLimitExceeded(60<<20, 50<<20)).Once()
	ingestor.On("Adopt", mock.Anything, mock.AnythingOfType("string"), domain.ClassDocument).
		Return(func(_ context.Context, path string, _ domain.FileClass) *domain.StagedDocument {
			return &domain.StagedDocument{ID: "ok-" + path, Path: path, Type: "pdf"}
		}, nil)

	converter := funcConverter(func(_ context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
		return artifactFor(doc), nil
	})
	p := NewBatchProcessor(ingestor, converter, new(MockCleaner), 2, zaptest.NewLogger(t))

	batch := p.ProcessEntries(context.Background(), entries)

	assert.Len(t, batch.Processed, 2)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, domain.KindSizeLimitExceeded, batch.Failed[0].ErrorKind)
	assert.Nil(t, batch.Outcomes[0].Document)
}

func TestProcessEntriesContainsPanics(t *testing.T) {
	ingestor := new(MockIngestor)
	adoptAll(ingestor)

	entries := makeEntries(3)
	converter := funcConverter(func(_ context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
		if doc.OriginalName == entries[1].Name {
			panic("renderer exploded")
		}
		return artifactFor(doc), nil
	})
	p := NewBatchProcessor(ingestor, converter, new(MockCleaner), 2, zaptest.NewLogger(t))

	batch := p.ProcessEntries(context.Background(), entries)

	assert.Len(t, batch.Processed, 2)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, domain.KindInternal, batch.Failed[0].ErrorKind)
}

func TestProcessExtractionInspectsBeforeCleanup(t *testing.T) {
	ingestor := new(MockIngestor)
	adoptAll(ingestor)
	converter := funcConverter(func(_ context.Context, doc *domain.StagedDocument) (*domain.ConversionResult, error) {
		return artifactFor(doc), nil
	})

	extraction := &domain.ArchiveExtractionResult{ExtractionDir: "/extract", Entries: makeEntries(2)}

	var order []string
	cleaner := new(MockCleaner)
	cleaner.On("Cleanup", extraction).Run(func(mock.Arguments) { order = append(order, "cleanup") }).Return(nil).Once()

	var staged []string
	p := NewBatchProcessor(ingestor, converter, cleaner, 1, zaptest.NewLogger(t))
	p.OnStaged(func(_ context.Context, doc domain.StagedDocument) { staged = append(staged, doc.ID) })

	batch := p.ProcessExtraction(context.Background(), extraction, func(b *domain.BatchResult) {
		order = append(order, "inspect")
		assert.Len(t, b.Processed, 2)
	})

	assert.Equal(t, []string{"inspect", "cleanup"}, order)
	assert.Len(t, batch.Processed, 2)
	assert.Len(t, staged, 2)
	cleaner.AssertExpectations(t)
}

func TestProcessExtractionCleansUpWhenEverythingFails(t *testing.T) {
	ingestor := new(MockIngestor)
	ingestor.On("Adopt", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.UnsupportedFileType("nope"))

	extraction := &domain.ArchiveExtractionResult{ExtractionDir: "/extract", Entries: makeEntries(3)}
	cleaner := new(MockCleaner)
	cleaner.On("Cleanup", extraction).Return(nil).Once()

	p := NewBatchProcessor(ingestor, funcConverter(nil), cleaner, 3, zaptest.NewLogger(t))
	batch := p.ProcessExtraction(context.Background(), extraction, nil)

	assert.Len(t, batch.Failed, 3)
	assert.Empty(t, batch.Processed)
	cleaner.AssertExpectations(t)
}

func TestProcessEntriesEmpty(t *testing.T) {
	p := NewBatchProcessor(new(MockIngestor), funcConverter(nil), new(MockCleaner), 4, zaptest.NewLogger(t))

	batch := p.ProcessEntries(context.Background(), nil)
	assert.Empty(t, batch.Outcomes)
	assert.Empty(t, batch.Processed)
	assert.Empty(t, batch.Failed)
}

func TestProcessEntriesCancelledContext(t *testing.T) {
	ingestor := new(MockIngestor)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewBatchProcessor(ingestor, funcConverter(nil), new(MockCleaner), 2, zaptest.NewLogger(t))
	batch := p.ProcessEntries(ctx, makeEntries(4))

	assert.Len(t, batch.Failed, 4)
	ingestor.AssertNotCalled(t, "Adopt", mock.Anything, mock.Anything, mock.Anything)
}
