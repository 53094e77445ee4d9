package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/condor-spider/internal/common/armadaerrors"
	"github.com/armadaproject/condor-spider/internal/common/database"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
)

const defaultTableName = "spider_checkpoints"

// PostgresStore keeps checkpoints in a postgres table keyed by schedd name.
type PostgresStore struct {
	db        *pgxpool.Pool
	tableName string
	// Used to set updated time
	clock clock.Clock
}

func NewPostgresStore(ctx context.Context, config configuration.PostgresConfig) (*PostgresStore, error) {
	db, err := database.OpenPgxPool(ctx, config.Connection)
	if err != nil {
		return nil, errors.WithMessage(err, "cannot connect to checkpoint database")
	}
	tableName := config.Table
	if tableName == "" {
		tableName = defaultTableName
	}
	s, err := NewPostgresStoreFromPool(ctx, db, tableName)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStoreFromPool(ctx context.Context, db *pgxpool.Pool, tableName string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.WithStack(&armadaerrors.ErrInvalidArgument{
			Name:    "db",
			Value:   db,
			Message: "db must be non-nil",
		})
	}
	if tableName == "" {
		return nil, errors.WithStack(&armadaerrors.ErrInvalidArgument{
			Name:    "TableName",
			Value:   tableName,
			Message: "TableName must be non-empty",
		})
	}
	if err := createTableIfNotExists(ctx, db, tableName); err != nil {
		return nil, errors.WithStack(err)
	}
	return &PostgresStore{
		db:        db,
		tableName: tableName,
		clock:     clock.RealClock{},
	}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT schedd, completion FROM %s", s.tableName))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	checkpoints := make(map[string]time.Time)
	for rows.Next() {
		var schedd string
		var completion int64
		if err := rows.Scan(&schedd, &completion); err != nil {
			return nil, errors.WithStack(err)
		}
		checkpoints[schedd] = time.Unix(completion, 0)
	}
	return checkpoints, errors.WithStack(rows.Err())
}

func (s *PostgresStore) Save(ctx context.Context, schedd string, completion time.Time) error {
	sql := fmt.Sprintf(`
		INSERT INTO %[1]s (schedd, completion, updated) VALUES ($1, $2, $3)
		ON CONFLICT (schedd) DO UPDATE
		SET completion = GREATEST(%[1]s.completion, EXCLUDED.completion), updated = EXCLUDED.updated;`, s.tableName)
	_, err := s.db.Exec(ctx, sql, schedd, completion.Unix(), s.clock.Now())
	return errors.WithStack(err)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func createTableIfNotExists(ctx context.Context, db *pgxpool.Pool, tableName string) error {
	_, err := db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    schedd TEXT PRIMARY KEY,
		    completion BIGINT NOT NULL,
		    updated TIMESTAMP NOT NULL
	);`, tableName))
	return err
}
