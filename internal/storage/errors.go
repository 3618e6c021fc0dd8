package storage

import "errors"

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrQueryNotFound     = errors.New("query not found")
	ErrConfigNotFound    = errors.New("tenant config not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
)
