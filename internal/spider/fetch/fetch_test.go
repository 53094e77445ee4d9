package fetch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/condor-spider/internal/spider/condor"
	"github.com/armadaproject/condor-spider/internal/spider/metrics"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

type sliceIterator struct {
	ctx     context.Context
	records []model.RawRecord
	// returned once records run out
	err error
	// if set, block after records run out until ctx is done
	block  bool
	closed bool
}

func (it *sliceIterator) Next() (model.RawRecord, bool) {
	if len(it.records) > 0 {
		r := it.records[0]
		it.records = it.records[1:]
		return r, true
	}
	if it.block {
		<-it.ctx.Done()
		it.err = it.ctx.Err()
	}
	return nil, false
}

func (it *sliceIterator) Err() error   { return it.err }
func (it *sliceIterator) Close() error { it.closed = true; return nil }

type fakeScheddClient struct {
	history    []model.RawRecord
	queue      []model.RawRecord
	historyErr error
	queueErr   error
	streamErr  error
	block      bool
	since      time.Time
	iterators  []*sliceIterator
}

func (f *fakeScheddClient) History(ctx context.Context, _ model.SourceAddress, since time.Time, _ int) (condor.RecordIterator, error) {
	f.since = since
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.iterator(ctx, f.history), nil
}

func (f *fakeScheddClient) Queue(ctx context.Context, _ model.SourceAddress, _ int) (condor.RecordIterator, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return f.iterator(ctx, f.queue), nil
}

func (f *fakeScheddClient) iterator(ctx context.Context, records []model.RawRecord) *sliceIterator {
	it := &sliceIterator{ctx: ctx, records: append([]model.RawRecord{}, records...), err: f.streamErr, block: f.block}
	f.iterators = append(f.iterators, it)
	return it
}

func records(prefix string, n int) []model.RawRecord {
	result := make([]model.RawRecord, n)
	for i := range result {
		result[i] = model.RawRecord{"GlobalJobId": fmt.Sprintf("%s#%d.0#1", prefix, i)}
	}
	return result
}

func collect(s *Stream) []Record {
	defer s.Close()
	var result []Record
	for {
		r, ok := s.Next()
		if !ok {
			return result
		}
		result = append(result, r)
	}
}

func request(maxRecords int, kinds ...model.Kind) model.CollectionRequest {
	return model.CollectionRequest{
		Source:     model.SourceAddress{Name: "schedd1"},
		Kinds:      kinds,
		MaxRecords: maxRecords,
	}
}

func TestFetch_AllKindsInOrder(t *testing.T) {
	client := &fakeScheddClient{history: records("h", 2), queue: records("q", 1)}
	fetcher := NewFetcher(client, 0, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(0, model.History, model.Queue))
	result := collect(stream)

	require.Len(t, result, 3)
	assert.Equal(t, model.History, result[0].Kind)
	assert.Equal(t, "h#0.0#1", result[0].Raw["GlobalJobId"])
	assert.Equal(t, model.History, result[1].Kind)
	assert.Equal(t, model.Queue, result[2].Kind)
	assert.NoError(t, stream.Err(model.History))
	assert.NoError(t, stream.Err(model.Queue))
	assert.Equal(t, 2, stream.Count(model.History))
	assert.Equal(t, 1, stream.Count(model.Queue))
	for _, it := range client.iterators {
		assert.True(t, it.closed)
	}
}

func TestFetch_MaxRecordsPerKind(t *testing.T) {
	client := &fakeScheddClient{history: records("h", 10), queue: records("q", 10)}
	fetcher := NewFetcher(client, 0, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(4, model.History, model.Queue))
	result := collect(stream)

	assert.Len(t, result, 8)
	assert.Equal(t, 4, stream.Count(model.History))
	assert.Equal(t, 4, stream.Count(model.Queue))
	assert.NoError(t, stream.Err(model.History))
}

func TestFetch_QueryErrorIsCaptured(t *testing.T) {
	client := &fakeScheddClient{historyErr: fmt.Errorf("connection refused"), queue: records("q", 2)}
	fetcher := NewFetcher(client, 0, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(0, model.History, model.Queue))
	result := collect(stream)

	assert.Len(t, result, 2)
	var fetchErr *model.FetchError
	require.True(t, errors.As(stream.Err(model.History), &fetchErr))
	assert.Equal(t, "schedd1", fetchErr.Source)
	assert.Equal(t, model.History, fetchErr.Kind)
	assert.False(t, stream.TimedOut(model.History))
	assert.NoError(t, stream.Err(model.Queue))
}

func TestFetch_StreamErrorKeepsPartialResults(t *testing.T) {
	client := &fakeScheddClient{queue: records("q", 3), streamErr: fmt.Errorf("unexpected EOF")}
	fetcher := NewFetcher(client, 0, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(0, model.Queue))
	result := collect(stream)

	assert.Len(t, result, 3)
	assert.ErrorContains(t, stream.Err(model.Queue), "unexpected EOF")
}

func TestFetch_QueryTimeout(t *testing.T) {
	client := &fakeScheddClient{history: records("h", 2), queue: records("q", 1), block: true}
	fetcher := NewFetcher(client, 50*time.Millisecond, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(0, model.History, model.Queue))
	result := collect(stream)

	assert.Len(t, result, 3)
	assert.True(t, stream.TimedOut(model.History))
	assert.True(t, stream.TimedOut(model.Queue))
	assert.ErrorIs(t, stream.Err(model.History), context.DeadlineExceeded)
}

func TestFetch_QueryTimeoutExcludesConsumerTime(t *testing.T) {
	client := &fakeScheddClient{history: records("h", 3)}
	fetcher := NewFetcher(client, 50*time.Millisecond, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(0, model.History))
	defer stream.Close()
	count := 0
	for {
		_, ok := stream.Next()
		if !ok {
			break
		}
		count++
		time.Sleep(30 * time.Millisecond)
	}

	assert.Equal(t, 3, count)
	assert.False(t, stream.TimedOut(model.History))
	assert.NoError(t, stream.Err(model.History))
}

func TestFetch_LazyAndClosable(t *testing.T) {
	client := &fakeScheddClient{history: records("h", 5), queue: records("q", 5)}
	fetcher := NewFetcher(client, 0, metrics.NewMetrics())

	stream := fetcher.Fetch(context.Background(), request(0, model.History, model.Queue))
	assert.Empty(t, client.iterators)

	_, ok := stream.Next()
	require.True(t, ok)
	stream.Close()

	_, ok = stream.Next()
	assert.False(t, ok)
	require.Len(t, client.iterators, 1)
	assert.True(t, client.iterators[0].closed)
}

func TestFetch_PassesHistorySince(t *testing.T) {
	since := time.Unix(1700000000, 0)
	client := &fakeScheddClient{}
	fetcher := NewFetcher(client, 0, metrics.NewMetrics())

	req := request(0, model.History)
	req.HistorySince = since
	collect(fetcher.Fetch(context.Background(), req))
	assert.Equal(t, since, client.since)
}
