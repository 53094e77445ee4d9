package store

import (
	"context"
	"encoding/json"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/armadaproject/condor-spider/internal/spider/model"
)

const (
	documentsTable = "documents"
	idIndex        = "id"    // index for looking up a document by index name and id
	indexIndex     = "index" // index for listing the documents in one index
)

// StoredDocument is a document as held by the MemoryStore.
type StoredDocument struct {
	Index      string
	Id         string
	Source     string
	Kind       model.Kind
	Attributes map[string]interface{}
}

// MemoryStore is an IndexStore held in process, built on go-memdb. Documents whose attributes cannot be
// encoded as json are refused, as a real store would refuse them.
type MemoryStore struct {
	db *memdb.MemDB
}

func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memoryStoreSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) BulkUpsert(_ context.Context, index string, docs []*model.Document) (*BulkResult, error) {
	result := &BulkResult{}
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, doc := range docs {
		if _, err := json.Marshal(doc.Attributes); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Id: doc.Id, Reason: err.Error()})
			continue
		}
		err := txn.Insert(documentsTable, &StoredDocument{
			Index:      index,
			Id:         doc.Id,
			Source:     doc.Source,
			Kind:       doc.Kind,
			Attributes: maps.Clone(doc.Attributes),
		})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result.Indexed++
	}
	txn.Commit()
	return result, nil
}

// Get returns the document stored under id in index, or nil if there is none.
func (s *MemoryStore) Get(index string, id string) (*StoredDocument, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(documentsTable, idIndex, index, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*StoredDocument), nil
}

// List returns every document in index ordered by id.
func (s *MemoryStore) List(index string) ([]*StoredDocument, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(documentsTable, indexIndex, index)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	docs := make([]*StoredDocument, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		docs = append(docs, obj.(*StoredDocument))
	}
	return docs, nil
}

// Indexes returns the names of all indexes holding at least one document, in order.
func (s *MemoryStore) Indexes() ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(documentsTable, indexIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	indexes := make([]string, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		index := obj.(*StoredDocument).Index
		if len(indexes) == 0 || indexes[len(indexes)-1] != index {
			indexes = append(indexes, index)
		}
	}
	return indexes, nil
}

func (s *MemoryStore) Check() error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func memoryStoreSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:   idIndex,
		Unique: true,
		Indexer: &memdb.CompoundIndex{
			Indexes: []memdb.Indexer{
				&memdb.StringFieldIndex{Field: "Index"},
				&memdb.StringFieldIndex{Field: "Id"},
			},
		},
	}
	indexes[indexIndex] = &memdb.IndexSchema{
		Name:    indexIndex,
		Unique:  false,
		Indexer: &memdb.StringFieldIndex{Field: "Index"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			documentsTable: {
				Name:    documentsTable,
				Indexes: indexes,
			},
		},
	}
}
