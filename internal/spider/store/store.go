package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/armadaproject/condor-spider/internal/common/armadaerrors"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

// IndexStore writes documents into named indexes. Writing a document whose id is already present in the index
// replaces it.
type IndexStore interface {
	// BulkUpsert writes docs to index. Documents refused individually are listed in the result and do not fail the
	// call; an error means the write as a whole did not happen.
	BulkUpsert(ctx context.Context, index string, docs []*model.Document) (*BulkResult, error)
	// Check returns an error if the store cannot currently be reached.
	Check() error
	Close() error
}

type BulkResult struct {
	Indexed  int
	Failures []ItemFailure
}

// ItemFailure is a single document the store refused.
type ItemFailure struct {
	Id     string
	Reason string
}

// TransportError is a failure of a whole bulk write reported by the store.
type TransportError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("index store write failed: %s", e.Message)
	}
	return fmt.Sprintf("index store returned status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a failed bulk write may succeed if attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Retryable
	}
	return armadaerrors.IsNetworkError(err) || IsRetryableRedisError(err)
}

// IsRetryableRedisError is largely taken from https://github.com/go-redis/redis/blob/master/error.go#L28
func IsRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	if strings.HasPrefix(s, "LOADING ") {
		return true
	}
	if strings.HasPrefix(s, "READONLY ") {
		return true
	}
	if strings.HasPrefix(s, "CLUSTERDOWN ") {
		return true
	}
	if strings.HasPrefix(s, "TRYAGAIN ") {
		return true
	}
	return false
}

// New creates the store selected by config.
func New(config configuration.IndexStoreConfig) (IndexStore, error) {
	switch config.Type {
	case "elasticsearch":
		return NewElasticStore(config.Elasticsearch)
	case "redis":
		if config.Redis == nil {
			return nil, errors.WithStack(&armadaerrors.ErrInvalidArgument{
				Name:    "IndexStore.Redis",
				Value:   nil,
				Message: "redis configuration is required when the index store type is redis",
			})
		}
		return NewRedisStore(config.Redis.AsUniversalOptions()), nil
	case "memory":
		return NewMemoryStore()
	default:
		return nil, errors.WithStack(&armadaerrors.ErrInvalidArgument{
			Name:    "IndexStore.Type",
			Value:   config.Type,
			Message: "expected one of elasticsearch, redis or memory",
		})
	}
}
