// Package docstore defines the document store contract the vault consumes.
// The store is untrusted: it only ever sees ciphertext, ids and tree links.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by CreateDocument for a duplicate id.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrBackend wraps every failure of the underlying database.
	ErrBackend = errors.New("document store failure")
)

// Filter is a set of attribute equality conditions, all of which must hold.
type Filter map[string]any

// Update is a partial update: each attribute is replaced with the given value.
type Update map[string]any

// Store is the document store contract.
//
// Documents are Go structs carrying dynamodbav and json tags with identical
// attribute names. out arguments are pointers to a struct (GetDocument) or to
// a slice of structs (GetDocuments).
type Store interface {
	CreateDocument(ctx context.Context, collection, id string, doc any) error
	GetDocument(ctx context.Context, collection, id string, out any) error
	GetDocuments(ctx context.Context, collection string, filter Filter, out any) error
	// UpdateDocument applies all attributes of update in a single atomic write.
	UpdateDocument(ctx context.Context, collection, id string, update Update) error
	DeleteDocument(ctx context.Context, collection, id string) error
}
