package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

// fakeElasticsearch keeps the latest source of every document written through the bulk api.
type fakeElasticsearch struct {
	documents map[string]map[string]json.RawMessage
	// documents with these ids are refused
	reject map[string]bool
	status int
	calls  int
}

func newFakeElasticsearch(t *testing.T) (*fakeElasticsearch, *httptest.Server) {
	fake := &fakeElasticsearch{documents: map[string]map[string]json.RawMessage{}, reject: map[string]bool{}}
	server := httptest.NewServer(http.HandlerFunc(fake.serveHTTP))
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeElasticsearch) serveHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/" {
		_, _ = w.Write([]byte(`{"version": {"number": "8.11.1"}}`))
		return
	}
	f.calls++
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error": "unavailable"}`))
		return
	}

	var items []string
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var action bulkAction
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scanner.Scan()
		id := action.Index.Id
		if f.reject[id] {
			items = append(items, fmt.Sprintf(`{"index": {"_id": %q, "status": 400, "error": {"type": "mapper_parsing_exception"}}}`, id))
			continue
		}
		if f.documents[action.Index.Index] == nil {
			f.documents[action.Index.Index] = map[string]json.RawMessage{}
		}
		f.documents[action.Index.Index][id] = append(json.RawMessage{}, scanner.Bytes()...)
		items = append(items, fmt.Sprintf(`{"index": {"_id": %q, "status": 201}}`, id))
	}
	_, _ = fmt.Fprintf(w, `{"took": 1, "errors": %t, "items": [%s]}`, len(f.reject) > 0, strings.Join(items, ","))
}

func newElasticStore(t *testing.T, server *httptest.Server) *ElasticStore {
	s, err := NewElasticStore(configuration.ElasticsearchConfig{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return s
}

func doc(id string, attributes map[string]interface{}) *model.Document {
	return &model.Document{Id: id, Kind: model.History, Source: "schedd1", Attributes: attributes}
}

func TestElasticStore_BulkUpsert(t *testing.T) {
	fake, server := newFakeElasticsearch(t)
	s := newElasticStore(t, server)

	result, err := s.BulkUpsert(context.Background(), "htcondor-2024-01-01", []*model.Document{
		doc("a", map[string]interface{}{"ExitCode": 0}),
		doc("b", map[string]interface{}{"ExitCode": 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Empty(t, result.Failures)
	assert.JSONEq(t, `{"ExitCode": 1}`, string(fake.documents["htcondor-2024-01-01"]["b"]))
}

func TestElasticStore_Idempotent(t *testing.T) {
	fake, server := newFakeElasticsearch(t)
	s := newElasticStore(t, server)
	ctx := context.Background()

	_, err := s.BulkUpsert(ctx, "htcondor-2024-01-01", []*model.Document{doc("a", map[string]interface{}{"JobStatus": 2})})
	require.NoError(t, err)
	_, err = s.BulkUpsert(ctx, "htcondor-2024-01-01", []*model.Document{doc("a", map[string]interface{}{"JobStatus": 4})})
	require.NoError(t, err)

	assert.Len(t, fake.documents["htcondor-2024-01-01"], 1)
	assert.JSONEq(t, `{"JobStatus": 4}`, string(fake.documents["htcondor-2024-01-01"]["a"]))
}

func TestElasticStore_ItemRejections(t *testing.T) {
	fake, server := newFakeElasticsearch(t)
	fake.reject["b"] = true
	s := newElasticStore(t, server)

	result, err := s.BulkUpsert(context.Background(), "htcondor-2024-01-01", []*model.Document{
		doc("a", map[string]interface{}{}),
		doc("b", map[string]interface{}{}),
		doc("c", map[string]interface{}{"Bad": make(chan int)}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	require.Len(t, result.Failures, 2)
	ids := []string{result.Failures[0].Id, result.Failures[1].Id}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestElasticStore_TransportError(t *testing.T) {
	tests := map[string]struct {
		status    int
		retryable bool
	}{
		"unavailable":  {status: http.StatusServiceUnavailable, retryable: true},
		"unauthorized": {status: http.StatusUnauthorized, retryable: true},
		"throttled":    {status: http.StatusTooManyRequests, retryable: true},
		"bad request":  {status: http.StatusBadRequest, retryable: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fake, server := newFakeElasticsearch(t)
			fake.status = tc.status
			s := newElasticStore(t, server)

			_, err := s.BulkUpsert(context.Background(), "htcondor-2024-01-01", []*model.Document{doc("a", nil)})
			require.Error(t, err)
			assert.Equal(t, tc.retryable, IsRetryable(err))
			assert.Equal(t, 1, fake.calls)
		})
	}
}

func TestElasticStore_Check(t *testing.T) {
	_, server := newFakeElasticsearch(t)
	s := newElasticStore(t, server)
	assert.NoError(t, s.Check())

	server.Close()
	assert.Error(t, s.Check())
}
