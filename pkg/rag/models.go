// Package rag wires chunking, embedding, and vector storage into the
// document ingestion and retrieval pipeline.
package rag

import (
	"errors"
	"time"
)

var (
	// ErrEmptyDocument indicates a document with no content to ingest.
	ErrEmptyDocument = errors.New("document has no content")

	// ErrMissingDocumentID indicates a document without an identifier.
	ErrMissingDocumentID = errors.New("document ID required")

	// ErrEmptyQuery indicates a blank retrieval query.
	ErrEmptyQuery = errors.New("query text required")

	// ErrServiceClosed indicates the service has been cleaned up.
	ErrServiceClosed = errors.New("service closed")
)

// Document is the unit of ingestion.
type Document struct {
	ID       string
	Content  string
	Metadata DocumentMetadata
}

// DocumentMetadata travels with every chunk of the document so retrieval
// results can cite their origin.
type DocumentMetadata struct {
	Filename   string
	FileType   string
	UploadedAt time.Time
	Size       int64

	// Extra carries caller-defined fields alongside the standard ones.
	Extra map[string]string
}

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	DocumentID string
	Collection string
	ChunkCount int
}

// QueryOptions controls retrieval. Zero values take the service defaults.
type QueryOptions struct {
	// TopK is the number of results to return.
	TopK int

	// ScoreThreshold drops results whose normalized score falls below it.
	// Scores are normalized to higher-is-better before the cut, so the
	// threshold means the same thing for every metric family.
	ScoreThreshold float64
}

// Source is one retrieved chunk, ranked by normalized score.
type Source struct {
	// ID is the vector ID, "<documentID>_chunk_<index>".
	ID string

	// DocumentID is the document the chunk came from.
	DocumentID string

	// Content is the chunk text.
	Content string

	// Score is the normalized similarity, in the higher-is-better frame.
	Score float64

	// Distance is the metric-native distance, smaller-is-closer.
	Distance float64

	// Metadata is the chunk's stored payload.
	Metadata map[string]any
}
