package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/armadaproject/condor-spider/internal/spider/model"
)

const documentsPrefix = "Documents:"

// RedisStore keeps each index as a hash from document id to the zstd compressed json of its attributes.
// go-redis v6 takes no contexts, so cancellation is only observed between bulk writes.
type RedisStore struct {
	db      redis.UniversalClient
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewRedisStore(options *redis.UniversalOptions) *RedisStore {
	return NewRedisStoreFromClient(redis.NewUniversalClient(options))
}

func NewRedisStoreFromClient(db redis.UniversalClient) *RedisStore {
	// Neither can fail when created without options
	encoder, _ := zstd.NewWriter(nil)
	decoder, _ := zstd.NewReader(nil)
	return &RedisStore{db: db, encoder: encoder, decoder: decoder}
}

func (s *RedisStore) BulkUpsert(_ context.Context, index string, docs []*model.Document) (*BulkResult, error) {
	result := &BulkResult{}
	if len(docs) == 0 {
		return result, nil
	}
	key := getIndexKey(index)

	ids := make([]string, 0, len(docs))
	pipe := s.db.Pipeline()
	for _, doc := range docs {
		data, err := json.Marshal(doc.Attributes)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Id: doc.Id, Reason: err.Error()})
			continue
		}
		pipe.HSet(key, doc.Id, s.encoder.EncodeAll(data, nil))
		ids = append(ids, doc.Id)
	}
	if len(ids) == 0 {
		return result, nil
	}

	// Every command writes the same hash, so an error from one (auth, connection, wrong key type) fails them all
	if _, err := pipe.Exec(); err != nil {
		return nil, errors.WithStack(&TransportError{Message: err.Error(), Retryable: isRetryableRedisWriteError(err)})
	}
	result.Indexed = len(ids)
	return result, nil
}

// isRetryableRedisWriteError is false only for errors that no amount of waiting will fix.
func isRetryableRedisWriteError(err error) bool {
	return !strings.HasPrefix(err.Error(), "WRONGTYPE ")
}

// Get returns the attributes stored under id in index.
func (s *RedisStore) Get(index string, id string) (map[string]interface{}, error) {
	data, err := s.db.HGet(getIndexKey(index), id).Bytes()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	decompressed, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	attributes := make(map[string]interface{})
	if err := json.Unmarshal(decompressed, &attributes); err != nil {
		return nil, errors.WithStack(err)
	}
	return attributes, nil
}

// Count returns the number of documents in index.
func (s *RedisStore) Count(index string) (int64, error) {
	n, err := s.db.HLen(getIndexKey(index)).Result()
	return n, errors.WithStack(err)
}

func (s *RedisStore) Check() error {
	return s.db.Ping().Err()
}

func (s *RedisStore) Close() error {
	s.decoder.Close()
	if err := s.encoder.Close(); err != nil {
		return errors.WithStack(err)
	}
	return s.db.Close()
}

func getIndexKey(index string) string {
	return documentsPrefix + index
}
