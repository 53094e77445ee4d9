package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/pkg/errors"

	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

const elasticCheckTimeout = 10 * time.Second

// ElasticStore writes documents to Elasticsearch using the bulk api. Each document is sent as an index action
// carrying its id, which Elasticsearch treats as an overwrite.
type ElasticStore struct {
	client *elasticsearch.Client
}

func NewElasticStore(config configuration.ElasticsearchConfig) (*ElasticStore, error) {
	var caCert []byte
	if config.CACertFile != "" {
		var err error
		caCert, err = os.ReadFile(config.CACertFile)
		if err != nil {
			return nil, errors.WithMessagef(err, "cannot read elasticsearch ca certificate %s", config.CACertFile)
		}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = config.RequestTimeout
	if config.InsecureSkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
		APIKey:    config.ApiKey,
		CACert:    caCert,
		Transport: transport,
		// retries are handled by the sink
		DisableRetry: true,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &ElasticStore{client: client}, nil
}

type bulkAction struct {
	Index bulkActionMeta `json:"index"`
}

type bulkActionMeta struct {
	Index string `json:"_index"`
	Id    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool                            `json:"errors"`
	Items  []map[string]bulkResponseResult `json:"items"`
}

type bulkResponseResult struct {
	Id     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

func (s *ElasticStore) BulkUpsert(ctx context.Context, index string, docs []*model.Document) (*BulkResult, error) {
	result := &BulkResult{}
	if len(docs) == 0 {
		return result, nil
	}

	var body bytes.Buffer
	sent := make([]*model.Document, 0, len(docs))
	for _, doc := range docs {
		source, err := json.Marshal(doc.Attributes)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Id: doc.Id, Reason: err.Error()})
			continue
		}
		action, err := json.Marshal(bulkAction{Index: bulkActionMeta{Index: index, Id: doc.Id}})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(source)
		body.WriteByte('\n')
		sent = append(sent, doc)
	}
	if len(sent) == 0 {
		return result, nil
	}

	res, err := s.client.Bulk(&body, s.client.Bulk.WithContext(ctx), s.client.Bulk.WithIndex(index))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &TransportError{
			StatusCode: res.StatusCode,
			Message:    string(msg),
			Retryable:  isRetryableStatus(res.StatusCode),
		}
	}

	var response bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, errors.WithMessage(err, "cannot decode bulk response")
	}
	for _, item := range response.Items {
		for _, r := range item {
			if r.Status >= 200 && r.Status < 300 {
				result.Indexed++
			} else {
				result.Failures = append(result.Failures, ItemFailure{Id: r.Id, Reason: string(r.Error)})
			}
		}
	}
	return result, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func (s *ElasticStore) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), elasticCheckTimeout)
	defer cancel()
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.WithStack(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}

func (s *ElasticStore) Close() error {
	return nil
}
