package condor

import (
	"context"
	"time"

	"github.com/armadaproject/condor-spider/internal/spider/model"
)

// CollectorClient lists the schedds a collector knows about.
type CollectorClient interface {
	LocateSchedds(ctx context.Context, collector string) ([]model.SourceAddress, error)
}

// ScheddClient queries a schedd for job ads. Limit caps the ads returned; zero means no cap.
type ScheddClient interface {
	// History returns completed job ads that entered their current status at or after since.
	History(ctx context.Context, schedd model.SourceAddress, since time.Time, limit int) (RecordIterator, error)
	// Queue returns the ads of jobs still in the queue.
	Queue(ctx context.Context, schedd model.SourceAddress, limit int) (RecordIterator, error)
}

// RecordIterator is a single pass over ads streamed from a schedd.
// Next returns false once the stream is exhausted or has failed; Err tells the two apart.
type RecordIterator interface {
	Next() (model.RawRecord, bool)
	Err() error
	Close() error
}
