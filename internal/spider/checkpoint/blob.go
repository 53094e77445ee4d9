package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

const checkpointKey = "checkpoint.json"

// BlobStore keeps every checkpoint in a single json object, mapping schedd name to epoch seconds, in a bucket.
type BlobStore struct {
	mu     sync.Mutex
	bucket *blob.Bucket
}

func NewBlobStore(ctx context.Context, bucketUrl string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketUrl)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot open checkpoint bucket %s", bucketUrl)
	}
	return &BlobStore{bucket: bucket}, nil
}

func (s *BlobStore) Load(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	checkpoints := make(map[string]time.Time, len(raw))
	for name, seconds := range raw {
		checkpoints[name] = time.Unix(seconds, 0)
	}
	return checkpoints, nil
}

// Save reads the whole object, updates one entry and writes it back. Concurrent saves through one BlobStore are
// serialised; saves from separate processes are not.
func (s *BlobStore) Save(ctx context.Context, schedd string, completion time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.read(ctx)
	if err != nil {
		return err
	}
	if completion.Unix() <= raw[schedd] {
		return nil
	}
	raw[schedd] = completion.Unix()
	data, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := s.bucket.WriteAll(ctx, checkpointKey, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return errors.WithMessage(err, "cannot write checkpoint")
	}
	return nil
}

func (s *BlobStore) read(ctx context.Context) (map[string]int64, error) {
	data, err := s.bucket.ReadAll(ctx, checkpointKey)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, errors.WithMessage(err, "cannot read checkpoint")
	}
	raw := make(map[string]int64)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "cannot decode checkpoint")
	}
	return raw, nil
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}
