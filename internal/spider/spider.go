package spider

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/condor-spider/internal/common/logging"
	"github.com/armadaproject/condor-spider/internal/spider/checkpoint"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/convert"
	"github.com/armadaproject/condor-spider/internal/spider/fetch"
	"github.com/armadaproject/condor-spider/internal/spider/metrics"
	"github.com/armadaproject/condor-spider/internal/spider/model"
	"github.com/armadaproject/condor-spider/internal/spider/sink"
)

// Version is stamped on every document as spider_version. Overridden at build time.
var Version = "dev"

type State int

const (
	Init State = iota
	Discovering
	Fetching
	Draining
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Discovering:
		return "discovering"
	case Fetching:
		return "fetching"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SourceDirectory resolves the schedds a run should query.
type SourceDirectory interface {
	Resolve(ctx context.Context) ([]model.SourceAddress, error)
}

// Spider runs one collection pass: it resolves the schedds, queries them in parallel, turns their records into
// documents and delivers those to the index store.
type Spider struct {
	process     configuration.ProcessConfig
	feeds       map[model.Kind]bool
	directory   SourceDirectory
	fetcher     *fetch.Fetcher
	transformer *convert.Transformer
	sink        *sink.IndexSink
	checkpoints checkpoint.Store
	metrics     *metrics.Metrics
	clock       clock.Clock

	mu    sync.Mutex
	state State
}

func New(
	config configuration.SpiderConfiguration,
	directory SourceDirectory,
	fetcher *fetch.Fetcher,
	transformer *convert.Transformer,
	indexSink *sink.IndexSink,
	checkpoints checkpoint.Store,
	m *metrics.Metrics,
	clock clock.Clock,
) *Spider {
	return &Spider{
		process: config.Process,
		feeds: map[model.Kind]bool{
			model.History: config.IndexStore.FeedScheddHistory,
			model.Queue:   config.IndexStore.FeedScheddQueue,
		},
		directory:   directory,
		fetcher:     fetcher,
		transformer: transformer,
		sink:        indexSink,
		checkpoints: checkpoints,
		metrics:     m,
		clock:       clock,
		state:       Init,
	}
}

func (s *Spider) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Spider) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Debugf("Spider state %s -> %s", s.state, state)
	s.state = state
}

// kindResult is what a source task learnt about one kind of record.
type kindResult struct {
	seen            int
	transformErrors int
	err             error
	timedOut        bool
	// latest EnteredCurrentStatus seen on a history record
	latestCompletion time.Time
}

type sourceResult struct {
	request model.CollectionRequest
	kinds   map[model.Kind]*kindResult
}

// Run performs one pass. The returned report has Err set only if the run could not get past discovery.
func (s *Spider) Run(ctx context.Context) *model.RunReport {
	report := &model.RunReport{Started: s.clock.Now()}
	fail := func(err error) *model.RunReport {
		s.setState(Failed)
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Run failed")
		report.Err = err
		report.Finished = s.clock.Now()
		return report
	}

	kinds := s.kinds()
	if len(kinds) == 0 {
		return fail(&model.ConfigurationError{Message: "neither schedd history nor schedd queue processing is enabled"})
	}

	s.setState(Discovering)
	sources, err := s.directory.Resolve(ctx)
	if err != nil {
		return fail(err)
	}
	log.Infof("There are %d schedds to query", len(sources))
	since := s.loadCheckpoints(ctx, kinds)

	s.setState(Fetching)
	fetchCtx, cancel := s.fetchContext(ctx)
	defer cancel()
	drainCtx, cancelDrain := s.drainContext(ctx)
	defer cancelDrain()

	results := make([]*sourceResult, len(sources))
	g := errgroup.Group{}
	g.SetLimit(s.process.ParallelQueries)
	for i, source := range sources {
		i := i
		request := model.CollectionRequest{
			Source:       source,
			Kinds:        kinds,
			MaxRecords:   s.process.MaxDocuments,
			HistorySince: since[source.Name],
		}
		g.Go(func() error {
			results[i] = s.processSource(fetchCtx, drainCtx, request)
			return nil
		})
	}
	// Tasks report failures through their results and never return an error
	_ = g.Wait()
	cancel()

	s.setState(Draining)
	if err := s.sink.Flush(drainCtx); err != nil {
		log.WithError(err).Error("Some batches could not be delivered")
	}

	report.Sources = s.buildReports(results)
	s.saveCheckpoints(drainCtx, results)
	s.setState(Done)
	report.Finished = s.clock.Now()
	report.Sort()
	return report
}

func (s *Spider) kinds() []model.Kind {
	kinds := make([]model.Kind, 0, 2)
	if s.process.ScheddHistory {
		kinds = append(kinds, model.History)
	}
	if s.process.ScheddQueue {
		kinds = append(kinds, model.Queue)
	}
	return kinds
}

func (s *Spider) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.process.RunTimeout > 0 {
		return context.WithTimeout(ctx, s.process.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// drainContext outlives the run deadline, so that records fetched before it are still delivered.
func (s *Spider) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	drainCtx := context.WithoutCancel(ctx)
	if s.process.DrainTimeout > 0 {
		return context.WithTimeout(drainCtx, s.process.DrainTimeout)
	}
	return context.WithCancel(drainCtx)
}

// processSource pulls every requested kind from one source, feeding the resulting documents to the sink.
func (s *Spider) processSource(fetchCtx, drainCtx context.Context, request model.CollectionRequest) *sourceResult {
	result := &sourceResult{request: request, kinds: make(map[model.Kind]*kindResult, len(request.Kinds))}
	for _, kind := range request.Kinds {
		result.kinds[kind] = &kindResult{}
	}
	logger := log.WithField("schedd", request.Source.Name)
	if s.process.DryRun {
		logger.Info("Dry run, not querying")
		return result
	}

	s.metrics.QueryStarted()
	defer s.metrics.QueryFinished()
	start := s.clock.Now()

	stream := s.fetcher.Fetch(fetchCtx, request)
	defer stream.Close()
	for {
		record, ok := stream.Next()
		if !ok {
			break
		}
		kr := result.kinds[record.Kind]
		kr.seen++
		if record.Kind == model.History {
			if completion, ok := convert.EnteredCurrentStatus(record.Raw); ok && completion.After(kr.latestCompletion) {
				kr.latestCompletion = completion
			}
		}

		doc, err := s.transformer.Transform(record.Raw, request.Source, record.Kind)
		if err != nil {
			kr.transformErrors++
			s.metrics.RecordTransformError(record.Kind)
			logger.WithField("kind", record.Kind).WithError(err).Debug("Skipping record")
			continue
		}
		if !s.feeds[record.Kind] {
			continue
		}
		if err := s.sink.Submit(drainCtx, doc); err != nil {
			logger.WithField("kind", record.Kind).WithError(err).Warn("Batch lost")
		}
	}

	for kind, kr := range result.kinds {
		kr.err = stream.Err(kind)
		kr.timedOut = stream.TimedOut(kind)
		if kr.timedOut {
			s.metrics.Alert(metrics.AlertQueryTimeout)
			logger.WithFields(log.Fields{"kind": kind, "alert": metrics.AlertQueryTimeout}).
				Errorf("Query timed out after %d records; the rest will be picked up by a later run", kr.seen)
		}
	}
	logger.Infof("Processed %d records in %s", s.totalSeen(result), s.clock.Since(start))
	return result
}

func (s *Spider) totalSeen(result *sourceResult) int {
	total := 0
	for _, kr := range result.kinds {
		total += kr.seen
	}
	return total
}

func (s *Spider) buildReports(results []*sourceResult) []*model.SourceReport {
	stats := s.sink.Stats()
	reports := make([]*model.SourceReport, 0, len(results)*2)
	for _, result := range results {
		for kind, kr := range result.kinds {
			delivered := stats[model.ReportKey{Source: result.request.Source.Name, Kind: kind}]
			reports = append(reports, &model.SourceReport{
				Source:          result.request.Source.Name,
				Kind:            kind,
				RecordsSeen:     kr.seen,
				RecordsIndexed:  delivered.Indexed,
				TransformErrors: kr.transformErrors,
				Rejected:        delivered.Rejected,
				Lost:            delivered.Lost,
				Err:             kr.err,
				TimedOut:        kr.timedOut,
			})
		}
	}
	return reports
}

// loadCheckpoints returns the time from which each schedd's history should be read. A store that cannot be read
// means reading all history.
func (s *Spider) loadCheckpoints(ctx context.Context, kinds []model.Kind) map[string]time.Time {
	if !slices.Contains(kinds, model.History) {
		return map[string]time.Time{}
	}
	checkpoints, err := s.checkpoints.Load(ctx)
	if err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Warn("Failed to load checkpoints, reading all history")
		return map[string]time.Time{}
	}
	return checkpoints
}

// saveCheckpoints advances the checkpoint of every schedd whose history was read completely and delivered without
// losing a batch.
func (s *Spider) saveCheckpoints(ctx context.Context, results []*sourceResult) {
	if s.process.DryRun || s.process.ReadOnly {
		return
	}
	stats := s.sink.Stats()
	for _, result := range results {
		kr, ok := result.kinds[model.History]
		if !ok || kr.err != nil || kr.timedOut || kr.latestCompletion.IsZero() {
			continue
		}
		name := result.request.Source.Name
		if stats[model.ReportKey{Source: name, Kind: model.History}].Lost > 0 {
			log.WithField("schedd", name).Warn("Not advancing checkpoint as documents were lost")
			continue
		}
		if !kr.latestCompletion.After(result.request.HistorySince) {
			continue
		}
		if err := s.checkpoints.Save(ctx, name, kr.latestCompletion); err != nil {
			log.WithField("schedd", name).WithError(err).Warn("Failed to save checkpoint")
		}
	}
}
