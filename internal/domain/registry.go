package domain

import "context"

// DocumentRegistry is the table of staged documents keyed by id
type DocumentRegistry interface {
	Put(ctx context.Context, doc StagedDocument) error
	Get(ctx context.Context, id string) (StagedDocument, bool)
	FindByPath(ctx context.Context, path string) (StagedDocument, bool)
	List(ctx context.Context) []StagedDocument
	Delete(ctx context.Context, id string) error
	Len() int
}

// StatusObserver is notified after every status transition of a staged document
type StatusObserver interface {
	DocumentChanged(ctx context.Context, doc StagedDocument)
}
