package sink

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/condor-spider/internal/common/logging"
	"github.com/armadaproject/condor-spider/internal/common/util"
	"github.com/armadaproject/condor-spider/internal/spider/metrics"
	"github.com/armadaproject/condor-spider/internal/spider/model"
	"github.com/armadaproject/condor-spider/internal/spider/store"
)

const indexDateFormat = "2006-01-02"

// DeliveryStats counts what happened to the documents submitted for one (source, kind).
type DeliveryStats struct {
	Submitted int
	Indexed   int
	Rejected  int
	Lost      int
}

// shard buffers the documents bound for one index. Its lock is held for the whole of a delivery, so batches for
// the same index are written in the order their documents were submitted.
type shard struct {
	mu     sync.Mutex
	index  string
	buffer []*model.Document
}

// IndexSink buffers documents per index and writes them to the store in batches of at most bunchSize.
// It is safe for concurrent use.
type IndexSink struct {
	store       store.IndexStore
	indexPrefix string
	bunchSize   int
	backoff     util.Backoff
	// if set, documents are counted but never written
	discard bool
	metrics *metrics.Metrics

	mu     sync.Mutex
	shards map[string]*shard
	stats  map[model.ReportKey]*DeliveryStats
}

func NewIndexSink(
	indexStore store.IndexStore,
	indexPrefix string,
	bunchSize int,
	backoff util.Backoff,
	discard bool,
	m *metrics.Metrics,
) *IndexSink {
	if bunchSize < 1 {
		bunchSize = 1
	}
	return &IndexSink{
		store:       indexStore,
		indexPrefix: indexPrefix,
		bunchSize:   bunchSize,
		backoff:     backoff,
		discard:     discard,
		metrics:     m,
		shards:      make(map[string]*shard),
		stats:       make(map[model.ReportKey]*DeliveryStats),
	}
}

// IndexName returns the name of the index documents dated shardDate are written to.
func (s *IndexSink) IndexName(shardDate time.Time) string {
	return s.indexPrefix + "-" + shardDate.UTC().Format(indexDateFormat)
}

// Submit buffers doc, writing out its shard's buffer once it holds bunchSize documents.
// The returned *model.DeliveryError means that batch was dropped; the sink remains usable.
func (s *IndexSink) Submit(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	s.statsFor(doc).Submitted++
	s.mu.Unlock()
	if s.discard {
		return nil
	}

	sh := s.shard(s.IndexName(doc.ShardDate))
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.buffer = append(sh.buffer, doc)
	if len(sh.buffer) < s.bunchSize {
		return nil
	}
	batch := sh.buffer
	sh.buffer = nil
	return s.deliver(ctx, sh.index, batch)
}

// Flush writes out every non-empty shard buffer, in index name order.
func (s *IndexSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	shards := make([]*shard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, sh)
	}
	s.mu.Unlock()
	slices.SortFunc(shards, func(a, b *shard) bool { return a.index < b.index })

	var result *multierror.Error
	for _, sh := range shards {
		sh.mu.Lock()
		batch := sh.buffer
		sh.buffer = nil
		if len(batch) > 0 {
			if err := s.deliver(ctx, sh.index, batch); err != nil {
				result = multierror.Append(result, err)
			}
		}
		sh.mu.Unlock()
	}
	return result.ErrorOrNil()
}

// Stats returns a copy of the delivery counts so far.
func (s *IndexSink) Stats() map[model.ReportKey]DeliveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[model.ReportKey]DeliveryStats, len(s.stats))
	for k, v := range s.stats {
		stats[k] = *v
	}
	return stats
}

func (s *IndexSink) shard(index string) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[index]
	if !ok {
		sh = &shard{index: index, buffer: make([]*model.Document, 0, s.bunchSize)}
		s.shards[index] = sh
	}
	return sh
}

// deliver writes batch, retrying failures of the write as a whole with exponential backoff.
func (s *IndexSink) deliver(ctx context.Context, index string, batch []*model.Document) error {
	logger := log.WithField("index", index)
	var result *store.BulkResult
	err := util.RetryWithBackoff(ctx, s.backoff, func() (error, bool) {
		start := time.Now()
		r, err := s.store.BulkUpsert(ctx, index, batch)
		taken := time.Since(start)
		if err != nil {
			s.metrics.RecordBulkAttempt(metrics.BulkOutcomeTransportError, taken.Seconds())
			return err, store.IsRetryable(err)
		}
		s.metrics.RecordBulkAttempt(metrics.BulkOutcomeSuccess, taken.Seconds())
		logger.Debugf("Wrote %d documents in %dms", len(batch), taken.Milliseconds())
		result = r
		return nil, false
	}, func(attempt int, wait time.Duration, err error) {
		logger.WithError(err).Warnf("Bulk write attempt %d failed, retrying in %s", attempt, wait)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logging.WithStacktrace(logger, err).
			WithField("alert", metrics.AlertDeliveryFailure).
			Errorf("Dropping batch of %d documents", len(batch))
		s.metrics.RecordBatchLost()
		s.metrics.Alert(metrics.AlertDeliveryFailure)
		for _, doc := range batch {
			s.statsFor(doc).Lost++
		}
		return &model.DeliveryError{Index: index, Documents: len(batch), Cause: err}
	}

	rejected := make(map[string]string, len(result.Failures))
	for _, failure := range result.Failures {
		rejected[failure.Id] = failure.Reason
	}
	rejectedDocs := 0
	for _, doc := range batch {
		stats := s.statsFor(doc)
		if reason, ok := rejected[doc.Id]; ok {
			stats.Rejected++
			rejectedDocs++
			logger.WithField("schedd", doc.Source).Warnf("Document %s rejected: %s", doc.Id, reason)
		} else {
			stats.Indexed++
			s.metrics.RecordsIndexed(doc.Kind, 1)
		}
	}
	if rejectedDocs > 0 {
		s.metrics.DocumentsRejected(rejectedDocs)
	}
	return nil
}

// statsFor must be called with s.mu held.
func (s *IndexSink) statsFor(doc *model.Document) *DeliveryStats {
	key := model.ReportKey{Source: doc.Source, Kind: doc.Kind}
	stats, ok := s.stats[key]
	if !ok {
		stats = &DeliveryStats{}
		s.stats[key] = stats
	}
	return stats
}
