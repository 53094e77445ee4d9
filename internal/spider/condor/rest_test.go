package condor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/condor-spider/internal/spider/model"
)

func newRestd(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func drain(t *testing.T, it RecordIterator) []model.RawRecord {
	defer func() { require.NoError(t, it.Close()) }()
	var records []model.RawRecord
	for {
		record, ok := it.Next()
		if !ok {
			return records
		}
		records = append(records, record)
	}
}

func TestLocateSchedds(t *testing.T) {
	server := newRestd(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		assert.Equal(t, "schedd", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(`[
			{"name": "schedd1.example.com", "type": "Scheduler", "classad": {}},
			{"type": "Scheduler", "classad": {"Name": "schedd2.example.com"}},
			{"type": "Scheduler", "classad": {}}
		]`))
	})

	client := NewRestClient(server.Client(), "")
	schedds, err := client.LocateSchedds(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []model.SourceAddress{
		{Name: "schedd1.example.com", Pool: server.URL},
		{Name: "schedd2.example.com", Pool: server.URL},
	}, schedds)
}

func TestLocateSchedds_ServerError(t *testing.T) {
	server := newRestd(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collector unavailable", http.StatusBadGateway)
	})

	client := NewRestClient(server.Client(), "")
	_, err := client.LocateSchedds(context.Background(), server.URL)
	assert.ErrorContains(t, err, "collector unavailable")
}

func TestHistory(t *testing.T) {
	since := time.Unix(1700000000, 0)
	server := newRestd(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/history/schedd1", r.URL.Path)
		assert.Equal(t, "EnteredCurrentStatus >= 1700000000", r.URL.Query().Get("constraint"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"jobid": "1.0", "classad": {"GlobalJobId": "schedd1#1.0#1", "CompletionDate": 1700000100}},
			{"jobid": "2.0", "classad": {"GlobalJobId": "schedd1#2.0#1", "ExitCode": 0}}
		]`))
	})

	client := NewRestClient(server.Client(), server.URL)
	it, err := client.History(context.Background(), model.SourceAddress{Name: "schedd1"}, since, 10)
	require.NoError(t, err)
	records := drain(t, it)
	require.NoError(t, it.Err())
	require.Len(t, records, 2)
	assert.Equal(t, "schedd1#1.0#1", records[0]["GlobalJobId"])
	assert.Equal(t, json.Number("1700000100"), records[0]["CompletionDate"])
}

func TestQueue_NoLimit(t *testing.T) {
	server := newRestd(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/schedd1", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"GlobalJobId": "schedd1#3.0#1", "JobStatus": 2}]`))
	})

	client := NewRestClient(server.Client(), "")
	it, err := client.Queue(context.Background(), model.SourceAddress{Name: "schedd1", Pool: server.URL}, 0)
	require.NoError(t, err)
	records := drain(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []model.RawRecord{{"GlobalJobId": "schedd1#3.0#1", "JobStatus": json.Number("2")}}, records)
}

func TestStream_TruncatedBody(t *testing.T) {
	server := newRestd(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"GlobalJobId": "a"}, {"GlobalJobId": `))
	})

	client := NewRestClient(server.Client(), server.URL)
	it, err := client.Queue(context.Background(), model.SourceAddress{Name: "schedd1"}, 0)
	require.NoError(t, err)
	records := drain(t, it)
	assert.Len(t, records, 1)
	assert.Error(t, it.Err())
}

func TestStream_NotAnArray(t *testing.T) {
	server := newRestd(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "no such schedd"}`))
	})

	client := NewRestClient(server.Client(), server.URL)
	it, err := client.Queue(context.Background(), model.SourceAddress{Name: "schedd1"}, 0)
	require.NoError(t, err)
	assert.Empty(t, drain(t, it))
	assert.ErrorContains(t, it.Err(), "expected a json array")
}

func TestStream_NoPool(t *testing.T) {
	client := NewRestClient(nil, "")
	_, err := client.Queue(context.Background(), model.SourceAddress{Name: "schedd1"}, 0)
	assert.Error(t, err)
}
