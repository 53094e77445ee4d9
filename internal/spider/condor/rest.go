package condor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/condor-spider/internal/spider/model"
)

const (
	statusPath  = "/v1/status"
	historyPath = "/v1/history/"
	jobsPath    = "/v1/jobs/"
)

// RestClient talks to schedds and collectors through htcondor-restd.
type RestClient struct {
	httpClient *http.Client
	// Used for schedds whose address carries no pool
	defaultPool string
}

func NewRestClient(httpClient *http.Client, defaultPool string) *RestClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RestClient{httpClient: httpClient, defaultPool: defaultPool}
}

type statusAd struct {
	Name    string                 `json:"name"`
	Type    string                 `json:"type"`
	ClassAd map[string]interface{} `json:"classad"`
}

func (c *RestClient) LocateSchedds(ctx context.Context, collector string) ([]model.SourceAddress, error) {
	query := url.Values{}
	query.Set("query", "schedd")
	body, err := c.get(ctx, collector, statusPath, query)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var ads []statusAd
	if err := json.NewDecoder(body).Decode(&ads); err != nil {
		return nil, errors.WithMessagef(err, "cannot decode schedd ads from collector %s", collector)
	}
	schedds := make([]model.SourceAddress, 0, len(ads))
	for _, ad := range ads {
		name := ad.Name
		if name == "" {
			name, _ = ad.ClassAd["Name"].(string)
		}
		if name == "" {
			log.Warnf("Ignoring schedd ad without a name from collector %s", collector)
			continue
		}
		schedds = append(schedds, model.SourceAddress{Name: name, Pool: collector})
	}
	return schedds, nil
}

func (c *RestClient) History(ctx context.Context, schedd model.SourceAddress, since time.Time, limit int) (RecordIterator, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("constraint", fmt.Sprintf("EnteredCurrentStatus >= %d", since.Unix()))
	}
	setLimit(query, limit)
	return c.stream(ctx, schedd, historyPath, query)
}

func (c *RestClient) Queue(ctx context.Context, schedd model.SourceAddress, limit int) (RecordIterator, error) {
	query := url.Values{}
	setLimit(query, limit)
	return c.stream(ctx, schedd, jobsPath, query)
}

func setLimit(query url.Values, limit int) {
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
}

func (c *RestClient) stream(ctx context.Context, schedd model.SourceAddress, path string, query url.Values) (RecordIterator, error) {
	pool := schedd.Pool
	if pool == "" {
		pool = c.defaultPool
	}
	if pool == "" {
		return nil, errors.Errorf("no restd address known for schedd %s", schedd.Name)
	}
	body, err := c.get(ctx, pool, path+url.PathEscape(schedd.Name), query)
	if err != nil {
		return nil, err
	}
	return newJsonRecordIterator(body), nil
}

func (c *RestClient) get(ctx context.Context, base string, path string, query url.Values) (io.ReadCloser, error) {
	u := strings.TrimSuffix(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, errors.Errorf("GET %s returned %s: %s", u, resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

// jsonRecordIterator decodes a json array of ads one element at a time.
type jsonRecordIterator struct {
	body    io.ReadCloser
	decoder *json.Decoder
	started bool
	done    bool
	err     error
}

func newJsonRecordIterator(body io.ReadCloser) *jsonRecordIterator {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	return &jsonRecordIterator{body: body, decoder: decoder}
}

func (it *jsonRecordIterator) Next() (model.RawRecord, bool) {
	if it.done {
		return nil, false
	}
	if !it.started {
		it.started = true
		token, err := it.decoder.Token()
		if err != nil {
			return it.fail(err)
		}
		if delim, ok := token.(json.Delim); !ok || delim != '[' {
			return it.fail(errors.Errorf("expected a json array of ads but got %v", token))
		}
	}
	if !it.decoder.More() {
		it.done = true
		return nil, false
	}
	var element map[string]interface{}
	if err := it.decoder.Decode(&element); err != nil {
		return it.fail(err)
	}
	// restd wraps each ad as {"classad": {...}, "jobid": "..."}
	if ad, ok := element["classad"].(map[string]interface{}); ok {
		return ad, true
	}
	return element, true
}

func (it *jsonRecordIterator) fail(err error) (model.RawRecord, bool) {
	it.done = true
	it.err = errors.WithStack(err)
	return nil, false
}

func (it *jsonRecordIterator) Err() error {
	return it.err
}

func (it *jsonRecordIterator) Close() error {
	return it.body.Close()
}
