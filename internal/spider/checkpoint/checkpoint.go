package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/condor-spider/internal/common/armadaerrors"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
)

// Store remembers, per schedd, the latest completion time whose history has been fully indexed.
// Save never moves a schedd's checkpoint backwards.
type Store interface {
	// Load returns the checkpoint of every schedd that has one.
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, schedd string, completion time.Time) error
	Close() error
}

// New creates the checkpoint store selected by config.
func New(ctx context.Context, config configuration.CheckpointConfig) (Store, error) {
	switch config.Type {
	case "", "none":
		return &noopStore{}, nil
	case "blob":
		return NewBlobStore(ctx, config.BucketUrl)
	case "postgres":
		return NewPostgresStore(ctx, config.Postgres)
	default:
		return nil, errors.WithStack(&armadaerrors.ErrInvalidArgument{
			Name:    "Checkpoint.Type",
			Value:   config.Type,
			Message: "expected one of none, blob or postgres",
		})
	}
}

// noopStore is used when checkpointing is disabled. Every run reads the full history.
type noopStore struct{}

func (s *noopStore) Load(_ context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (s *noopStore) Save(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (s *noopStore) Close() error {
	return nil
}
