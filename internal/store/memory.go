package store

import (
	"context"
	"sort"
	"sync"

	"rate-reconciliation-service/internal/models"
	rerrors "rate-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
)

type docKey struct {
	docType models.DocumentType
	id      string
}

// MemoryStore keeps documents in process memory. Documents are copied on the
// way in and out so callers never share line slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[docKey]*models.Document
	counters map[models.DocumentType]int

	saves int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[docKey]*models.Document),
		counters: make(map[models.DocumentType]int),
	}
}

func (m *MemoryStore) Load(ctx context.Context, docType models.DocumentType, id string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[docKey{docType, id}]
	if !ok {
		return nil, rerrors.DocumentNotFoundError(string(docType), id)
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, doc *models.Document, opts SaveOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[docKey{doc.Type, doc.ID}]
	if !ok {
		return "", rerrors.DocumentNotFoundError(string(doc.Type), doc.ID)
	}

	next, err := prepareSave(stored, doc, opts)
	if err != nil {
		return "", err
	}
	m.docs[docKey{doc.Type, doc.ID}] = next
	doc.Revision = next.Revision
	m.saves++
	return doc.ID, nil
}

func (m *MemoryStore) Create(ctx context.Context, doc *models.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if _, exists := m.docs[docKey{doc.Type, doc.ID}]; exists {
		return "", rerrors.ValidationError(rerrors.CodeInvalidData, "id", doc.ID, nil).
			WithContext("reason", "duplicate document id")
	}
	if err := prepareCreate(doc); err != nil {
		return "", err
	}
	if doc.Number == "" {
		m.counters[doc.Type]++
		doc.Number = FormatNumber(doc.Type, m.counters[doc.Type])
	}

	m.docs[docKey{doc.Type, doc.ID}] = doc.Clone()
	return doc.ID, nil
}

func (m *MemoryStore) List(ctx context.Context, docType models.DocumentType) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Document
	for key, doc := range m.docs {
		if key.docType == docType {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put inserts or replaces a document as-is
func (m *MemoryStore) Put(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return rerrors.ValidationError(rerrors.CodeInvalidData, "document", doc.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := doc.Clone()
	if c.Revision == 0 {
		c.Revision = 1
	}
	m.docs[docKey{doc.Type, doc.ID}] = c
	return nil
}

// SaveCount returns how many saves succeeded; used by tests
func (m *MemoryStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
