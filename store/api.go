package store

//go:generate mockgen -destination=mock/mock_api.go -package=store_mock github.com/mqy/minichat/store IDocStore

import (
	"context"
	"errors"
)

// Bucket groups documents of one kind. Keys are unique within a bucket.
type Bucket string

const (
	BucketUsers         Bucket = "users"
	BucketConversations Bucket = "conversations"
)

// Buckets lists every bucket a backend must provision on open.
var Buckets = []Bucket{BucketUsers, BucketConversations}

var (
	ErrNotFound = errors.New("store: document not found")

	// ErrSkipWrite is returned by an UpdateFunc to leave the document
	// untouched; Update then returns nil.
	ErrSkipWrite = errors.New("store: skip write")
)

// UpdateFunc receives the current document and returns its replacement.
// Any error other than ErrSkipWrite aborts the update and is returned
// from Update unchanged.
type UpdateFunc func(doc []byte) ([]byte, error)

// IDocStore is a keyed document store with per-key atomic read-modify-write.
type IDocStore interface {
	// Get returns the document stored under key, or ErrNotFound.
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, error)

	// Create stores doc under key if the key is absent.
	// Returns false without writing if the key already exists.
	Create(ctx context.Context, bucket Bucket, key string, doc []byte) (bool, error)

	// Update runs fn on the document under key and stores the result.
	// Concurrent updates of the same key are serialized.
	// Returns ErrNotFound if the key is absent.
	Update(ctx context.Context, bucket Bucket, key string, fn UpdateFunc) error

	Close() error
}
