package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

type fakeCollectorClient struct {
	schedds map[string][]string
	errors  map[string]error
	queried []string
}

func (f *fakeCollectorClient) LocateSchedds(_ context.Context, collector string) ([]model.SourceAddress, error) {
	f.queried = append(f.queried, collector)
	if err, ok := f.errors[collector]; ok {
		return nil, err
	}
	result := make([]model.SourceAddress, 0)
	for _, name := range f.schedds[collector] {
		result = append(result, model.SourceAddress{Name: name, Pool: collector})
	}
	return result, nil
}

func names(sources []model.SourceAddress) []string {
	result := make([]string, 0, len(sources))
	for _, s := range sources {
		result = append(result, s.Name)
	}
	return result
}

func TestResolve_ExplicitListIgnoresCollectors(t *testing.T) {
	client := &fakeCollectorClient{errors: map[string]error{"c1": fmt.Errorf("unreachable")}}
	d := NewDirectory(
		configuration.CollectorsConfig{Addresses: []string{"c1"}},
		configuration.ScheddsConfig{Addresses: []string{"s2", "s1", "s2", "s3", "s1"}},
		"http://restd",
		client,
	)

	sources, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.SourceAddress{
		{Name: "s2", Pool: "http://restd"},
		{Name: "s1", Pool: "http://restd"},
		{Name: "s3", Pool: "http://restd"},
	}, sources)
	assert.Empty(t, client.queried)
}

func TestResolve_UnionOfCollectors(t *testing.T) {
	client := &fakeCollectorClient{schedds: map[string][]string{
		"c1": {"s1", "s2"},
		"c2": {"s2", "s3"},
	}}
	d := NewDirectory(configuration.CollectorsConfig{Addresses: []string{"c1", "c2"}}, configuration.ScheddsConfig{}, "", client)

	sources, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, names(sources))
	assert.Equal(t, "c1", sources[1].Pool)
}

func TestResolve_PartialCollectorFailure(t *testing.T) {
	client := &fakeCollectorClient{
		schedds: map[string][]string{"c2": {"s3"}},
		errors:  map[string]error{"c1": fmt.Errorf("unreachable")},
	}
	d := NewDirectory(configuration.CollectorsConfig{Addresses: []string{"c1", "c2"}}, configuration.ScheddsConfig{}, "", client)

	sources, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, names(sources))
}

func TestResolve_AllCollectorsFail(t *testing.T) {
	client := &fakeCollectorClient{errors: map[string]error{
		"c1": fmt.Errorf("unreachable"),
		"c2": fmt.Errorf("timeout"),
	}}
	d := NewDirectory(configuration.CollectorsConfig{Addresses: []string{"c1", "c2"}}, configuration.ScheddsConfig{}, "", client)

	_, err := d.Resolve(context.Background())
	var discoveryErr *model.DiscoveryError
	require.True(t, errors.As(err, &discoveryErr))
	assert.Equal(t, []string{"c1", "c2"}, discoveryErr.Collectors)
	assert.ErrorContains(t, err, "unreachable")
	assert.ErrorContains(t, err, "timeout")
}

func TestResolve_NothingConfigured(t *testing.T) {
	d := NewDirectory(configuration.CollectorsConfig{}, configuration.ScheddsConfig{}, "", &fakeCollectorClient{})

	_, err := d.Resolve(context.Background())
	var configErr *model.ConfigurationError
	assert.True(t, errors.As(err, &configErr))
}

func TestResolve_Filter(t *testing.T) {
	client := &fakeCollectorClient{schedds: map[string][]string{"c1": {"s1", "s2", "s3"}}}
	d := NewDirectory(
		configuration.CollectorsConfig{Addresses: []string{"c1"}},
		configuration.ScheddsConfig{Filter: []string{"s3", "s1"}},
		"",
		client,
	)

	sources, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s3"}, names(sources))
}

func TestResolve_FilterDoesNotApplyToExplicitSchedds(t *testing.T) {
	client := &fakeCollectorClient{}
	d := NewDirectory(
		configuration.CollectorsConfig{Addresses: []string{"c1"}},
		configuration.ScheddsConfig{Addresses: []string{"a", "b", "a"}, Filter: []string{"z"}},
		"",
		client,
	)

	sources, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(sources))
	assert.Empty(t, client.queried)
}

func TestResolve_CollectorsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collectors.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pool-b": ["c3"], "pool-a": ["c2", "c1"]}`), 0o600))

	client := &fakeCollectorClient{schedds: map[string][]string{
		"c1": {"s1"},
		"c2": {"s2"},
		"c3": {"s3"},
	}}
	d := NewDirectory(configuration.CollectorsConfig{Addresses: []string{"c1"}, File: path}, configuration.ScheddsConfig{}, "", client)

	sources, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, client.queried)
	assert.Equal(t, []string{"s1", "s2", "s3"}, names(sources))
}

func TestResolve_MissingCollectorsFile(t *testing.T) {
	d := NewDirectory(
		configuration.CollectorsConfig{File: filepath.Join(t.TempDir(), "missing.json")},
		configuration.ScheddsConfig{},
		"",
		&fakeCollectorClient{},
	)

	_, err := d.Resolve(context.Background())
	var configErr *model.ConfigurationError
	assert.True(t, errors.As(err, &configErr))
}
