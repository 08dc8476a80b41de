// Package memory is an in-process docstore.Store used in DEV_MODE and tests.
// Documents are kept as DynamoDB attribute maps so that encoding behaves the
// same as the DynamoDB driver.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/gophvault/internal/docstore"
)

type item = map[string]types.AttributeValue

// Store implements docstore.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]item
}

func NewStore() *Store {
	return &Store{collections: make(map[string]map[string]item)}
}

func (s *Store) CreateDocument(_ context.Context, collection, id string, doc any) error {
	av, err := docstore.MarshalItem(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	av[docstore.KeyAttribute] = &types.AttributeValueMemberS{Value: id}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]item)
		s.collections[collection] = c
	}
	if _, exists := c[id]; exists {
		return docstore.ErrAlreadyExists
	}
	c[id] = av
	return nil
}

func (s *Store) GetDocument(_ context.Context, collection, id string, out any) error {
	s.mu.RLock()
	av, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return docstore.ErrNotFound
	}
	return docstore.UnmarshalItem(av, out)
}

func (s *Store) GetDocuments(_ context.Context, collection string, filter docstore.Filter, out any) error {
	want, err := docstore.MarshalUpdate(docstore.Update(filter))
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.collections[collection]))
	for id, av := range s.collections[collection] {
		if matches(av, want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		items = append(items, s.collections[collection][id])
	}
	s.mu.RUnlock()

	return docstore.UnmarshalItems(items, out)
}

func (s *Store) UpdateDocument(_ context.Context, collection, id string, update docstore.Update) error {
	values, err := docstore.MarshalUpdate(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	av, ok := s.collections[collection][id]
	if !ok {
		return docstore.ErrNotFound
	}
	next := make(item, len(av)+len(values))
	for k, v := range av {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	s.collections[collection][id] = next
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}

// Len reports the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func matches(av, want item) bool {
	for k, v := range want {
		got, ok := av[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}
