package fetch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/condor-spider/internal/common/armadaerrors"
	"github.com/armadaproject/condor-spider/internal/spider/condor"
	"github.com/armadaproject/condor-spider/internal/spider/metrics"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

// Fetcher pulls records from schedds.
type Fetcher struct {
	client       condor.ScheddClient
	queryTimeout time.Duration
	metrics      *metrics.Metrics
}

func NewFetcher(client condor.ScheddClient, queryTimeout time.Duration, m *metrics.Metrics) *Fetcher {
	return &Fetcher{client: client, queryTimeout: queryTimeout, metrics: m}
}

// Record is a raw record together with the kind of query that produced it.
type Record struct {
	Kind model.Kind
	Raw  model.RawRecord
}

// kindResult holds the outcome of the query for one kind.
type kindResult struct {
	count    int
	err      error
	timedOut bool
}

// Stream is a single pass over the records requested from one source. The kinds are queried one after the other.
// The query timeout covers only the time spent waiting on the source, not the time the caller holds a record.
// Failures never escape Next: they stop the query for that kind and are reported through Err and TimedOut.
// A Stream must be closed and is not safe for concurrent use.
type Stream struct {
	ctx     context.Context
	fetcher *Fetcher
	request model.CollectionRequest
	logger  *log.Entry

	kindIdx int
	kind    model.Kind
	current condor.RecordIterator
	cancel  context.CancelCauseFunc
	// context of the query in progress
	queryCtx context.Context
	// time the query in progress may still spend waiting on the source
	remaining time.Duration
	results   map[model.Kind]*kindResult
}

// Fetch returns a lazy stream of the records described by request. No query is made until Next is called.
func (f *Fetcher) Fetch(ctx context.Context, request model.CollectionRequest) *Stream {
	results := make(map[model.Kind]*kindResult, len(request.Kinds))
	for _, kind := range request.Kinds {
		results[kind] = &kindResult{}
	}
	return &Stream{
		ctx:     ctx,
		fetcher: f,
		request: request,
		logger:  log.WithField("schedd", request.Source.Name),
		results: results,
	}
}

// Next returns the next record, or false once every requested kind has been exhausted, capped or has failed.
func (s *Stream) Next() (Record, bool) {
	for {
		if s.current == nil {
			if s.kindIdx >= len(s.request.Kinds) {
				return Record{}, false
			}
			s.kind = s.request.Kinds[s.kindIdx]
			s.kindIdx++
			s.open()
			continue
		}
		result := s.results[s.kind]
		if s.request.MaxRecords > 0 && result.count >= s.request.MaxRecords {
			s.logger.WithField("kind", s.kind).Infof("Stopping after %d records", result.count)
			s.finish(nil)
			continue
		}
		if err := s.queryCtx.Err(); err != nil {
			s.finish(err)
			continue
		}
		var raw model.RawRecord
		var ok bool
		s.waitOnSource(func() { raw, ok = s.current.Next() })
		if !ok {
			s.finish(s.current.Err())
			continue
		}
		result.count++
		s.fetcher.metrics.RecordFetched(s.kind)
		return Record{Kind: s.kind, Raw: raw}, true
	}
}

func (s *Stream) open() {
	s.queryCtx, s.cancel = s.queryContext()
	var it condor.RecordIterator
	var err error
	s.waitOnSource(func() {
		switch s.kind {
		case model.History:
			it, err = s.fetcher.client.History(s.queryCtx, s.request.Source, s.request.HistorySince, s.request.MaxRecords)
		case model.Queue:
			it, err = s.fetcher.client.Queue(s.queryCtx, s.request.Source, s.request.MaxRecords)
		default:
			err = errors.Errorf("unknown record kind %q", s.kind)
		}
	})
	if err != nil {
		s.finish(err)
		return
	}
	s.logger.WithField("kind", s.kind).Debug("Query started")
	s.current = it
}

func (s *Stream) queryContext() (context.Context, context.CancelCauseFunc) {
	s.remaining = s.fetcher.queryTimeout
	return context.WithCancelCause(s.ctx)
}

// waitOnSource runs call, which waits on the source, against the query timeout. The clock only runs while the
// source is being waited on, so time the caller spends between records does not count.
func (s *Stream) waitOnSource(call func()) {
	if s.fetcher.queryTimeout <= 0 {
		call()
		return
	}
	expired := errors.WithMessagef(context.DeadlineExceeded, "query took longer than %s", s.fetcher.queryTimeout)
	cancel := s.cancel
	start := time.Now()
	timer := time.AfterFunc(s.remaining, func() { cancel(expired) })
	call()
	timer.Stop()
	s.remaining -= time.Since(start)
	if s.remaining <= 0 {
		cancel(expired)
	}
}

// finish ends the query for the current kind, recording err against it.
func (s *Stream) finish(err error) {
	if s.current != nil {
		if closeErr := s.current.Close(); closeErr != nil {
			s.logger.WithError(closeErr).Debug("Failed to close query stream")
		}
		s.current = nil
	}
	result := s.results[s.kind]
	logger := s.logger.WithField("kind", s.kind)
	if err != nil {
		cause := context.Cause(s.queryCtx)
		result.timedOut = armadaerrors.IsDeadline(cause)
		if result.timedOut && !armadaerrors.IsDeadline(err) {
			err = errors.WithMessagef(cause, "stopped after %d records", result.count)
		}
		result.err = &model.FetchError{Source: s.request.Source.Name, Kind: s.kind, Cause: err}
		s.fetcher.metrics.RecordFetchError(s.kind)
		if result.timedOut {
			logger.Warnf("Query timed out after %d records", result.count)
		} else {
			logger.WithError(err).Warnf("Query failed after %d records", result.count)
		}
	} else {
		logger.Infof("Query returned %d records", result.count)
	}
	s.cancel(nil)
}

// Err returns the *model.FetchError that ended the query for kind, if any.
func (s *Stream) Err(kind model.Kind) error {
	if result, ok := s.results[kind]; ok {
		return result.err
	}
	return nil
}

// TimedOut reports whether the query for kind was cut short by a deadline.
func (s *Stream) TimedOut(kind model.Kind) bool {
	if result, ok := s.results[kind]; ok {
		return result.timedOut
	}
	return false
}

// Count returns the number of records of kind returned so far.
func (s *Stream) Count(kind model.Kind) int {
	if result, ok := s.results[kind]; ok {
		return result.count
	}
	return 0
}

// Close releases the query in progress, if any. Kinds not yet reached are never queried.
func (s *Stream) Close() {
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
		s.cancel(nil)
	}
	s.kindIdx = len(s.request.Kinds)
}
