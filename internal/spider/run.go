package spider

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/condor-spider/internal/common"
	"github.com/armadaproject/condor-spider/internal/common/health"
	"github.com/armadaproject/condor-spider/internal/common/util"
	"github.com/armadaproject/condor-spider/internal/spider/checkpoint"
	"github.com/armadaproject/condor-spider/internal/spider/condor"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/convert"
	"github.com/armadaproject/condor-spider/internal/spider/discovery"
	"github.com/armadaproject/condor-spider/internal/spider/fetch"
	"github.com/armadaproject/condor-spider/internal/spider/metrics"
	"github.com/armadaproject/condor-spider/internal/spider/model"
	"github.com/armadaproject/condor-spider/internal/spider/sink"
	"github.com/armadaproject/condor-spider/internal/spider/store"
)

// Run performs one collection pass with the collaborators described by config and returns its report.
// Connections are opened here and closed before returning.
func Run(ctx context.Context, config configuration.SpiderConfiguration) *model.RunReport {
	m := metrics.NewMetrics()
	realClock := clock.RealClock{}
	client := newRestClient(config.Condor)

	// nothing is written in a dry or read only run, so no store is needed
	discard := config.Process.DryRun || config.Process.ReadOnly
	var indexStore store.IndexStore
	checker := health.NewMultiChecker()
	if !discard {
		var err error
		indexStore, err = store.New(config.IndexStore)
		if err != nil {
			return setupFailure(realClock, err)
		}
		defer util.CloseResource("index store", indexStore)
		checker.Add("index store", indexStore)
	}

	checkpoints, err := checkpoint.New(ctx, config.Checkpoint)
	if err != nil {
		return setupFailure(realClock, err)
	}
	defer util.CloseResource("checkpoint store", checkpoints)

	if config.Metrics.Port > 0 {
		shutdown := common.ServeMetrics(config.Metrics.Port, m.Registry(), checker)
		defer shutdown()
	}

	backoff := util.Backoff{
		Initial:  config.IndexStore.Retry.InitialBackoff,
		Max:      config.IndexStore.Retry.MaxBackoff,
		Attempts: config.IndexStore.Retry.MaxAttempts,
	}
	s := New(
		config,
		discovery.NewDirectory(config.Collectors, config.Schedds, config.Condor.RestdUrl, client),
		fetch.NewFetcher(client, config.Process.QueryTimeout, m),
		convert.NewTransformer(config.IndexStore, config.Process.KeepFullQueueData, realClock, Version),
		sink.NewIndexSink(indexStore, config.IndexStore.IndexName, config.IndexStore.BunchSize, backoff, discard, m),
		checkpoints,
		m,
		realClock,
	)
	return s.Run(ctx)
}

// ResolveSchedds returns the schedds a run with config would query.
func ResolveSchedds(ctx context.Context, config configuration.SpiderConfiguration) ([]model.SourceAddress, error) {
	client := newRestClient(config.Condor)
	return discovery.NewDirectory(config.Collectors, config.Schedds, config.Condor.RestdUrl, client).Resolve(ctx)
}

func newRestClient(config configuration.CondorConfig) *condor.RestClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Bounds the wait for a response to start; streaming the body is bounded by the query timeout
	transport.ResponseHeaderTimeout = config.RequestTimeout
	return condor.NewRestClient(&http.Client{Transport: transport}, config.RestdUrl)
}

func setupFailure(c clock.Clock, err error) *model.RunReport {
	log.WithError(err).Error("Cannot start run")
	now := c.Now()
	return &model.RunReport{
		Started:  now,
		Finished: now,
		Err:      &model.ConfigurationError{Message: err.Error()},
	}
}
