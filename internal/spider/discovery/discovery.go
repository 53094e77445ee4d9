package discovery

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/condor-spider/internal/common/util"
	"github.com/armadaproject/condor-spider/internal/spider/condor"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

// Directory resolves the set of schedds a run should query.
type Directory struct {
	schedds        []string
	filter         []string
	collectors     []string
	collectorsFile string
	// restd serving the explicitly listed schedds
	defaultPool string
	client      condor.CollectorClient
}

func NewDirectory(
	collectorsConfig configuration.CollectorsConfig,
	scheddsConfig configuration.ScheddsConfig,
	defaultPool string,
	client condor.CollectorClient,
) *Directory {
	return &Directory{
		schedds:        scheddsConfig.Addresses,
		filter:         scheddsConfig.Filter,
		collectors:     collectorsConfig.Addresses,
		collectorsFile: collectorsConfig.File,
		defaultPool:    defaultPool,
		client:         client,
	}
}

// Resolve returns the explicitly configured schedds if there are any, and otherwise the union of the schedds known
// to every reachable collector, narrowed by the schedd filter. A failure to reach some collectors is logged; a
// failure to reach all of them is a *model.DiscoveryError.
func (d *Directory) Resolve(ctx context.Context) ([]model.SourceAddress, error) {
	if schedds := util.Deduplicate(d.schedds); len(schedds) > 0 {
		if len(d.filter) > 0 {
			log.Warn("Ignoring the schedd filter as schedds are listed explicitly")
		}
		sources := make([]model.SourceAddress, 0, len(schedds))
		for _, name := range schedds {
			sources = append(sources, model.SourceAddress{Name: name, Pool: d.defaultPool})
		}
		return sources, nil
	}

	collectors, err := d.collectorAddresses()
	if err != nil {
		return nil, err
	}
	if len(collectors) == 0 {
		return nil, &model.ConfigurationError{Message: "neither schedds nor collectors are configured"}
	}
	sources, err := d.querySchedds(ctx, collectors)
	if err != nil {
		return nil, err
	}
	return d.applyFilter(sources), nil
}

func (d *Directory) querySchedds(ctx context.Context, collectors []string) ([]model.SourceAddress, error) {
	var result *multierror.Error
	seen := make(map[string]bool)
	sources := make([]model.SourceAddress, 0)
	for _, collector := range collectors {
		schedds, err := d.client.LocateSchedds(ctx, collector)
		if err != nil {
			log.WithError(err).Warnf("Failed to query collector %s for schedds", collector)
			result = multierror.Append(result, errors.WithMessagef(err, "collector %s", collector))
			continue
		}
		for _, schedd := range schedds {
			if seen[schedd.Name] {
				continue
			}
			seen[schedd.Name] = true
			sources = append(sources, schedd)
		}
	}
	if result != nil && len(result.Errors) == len(collectors) {
		return nil, &model.DiscoveryError{Collectors: collectors, Cause: result.ErrorOrNil()}
	}
	log.Infof("Discovered %d schedds from %d collectors", len(sources), len(collectors))
	return sources, nil
}

// collectorAddresses returns the configured collectors together with those listed in the collectors file.
func (d *Directory) collectorAddresses() ([]string, error) {
	collectors := slices.Clone(d.collectors)
	if d.collectorsFile != "" {
		fromFile, err := readCollectorsFile(d.collectorsFile)
		if err != nil {
			return nil, &model.ConfigurationError{Message: err.Error()}
		}
		collectors = append(collectors, fromFile...)
	}
	return util.Deduplicate(collectors), nil
}

// readCollectorsFile reads a file mapping pool name to collector addresses. Pools are read in name order.
func readCollectorsFile(path string) ([]string, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithMessagef(err, "cannot read collectors file %s", path)
	}
	pools := make(map[string][]string)
	if err := v.Unmarshal(&pools); err != nil {
		return nil, errors.WithMessagef(err, "collectors file %s must map pool names to lists of collectors", path)
	}
	names := maps.Keys(pools)
	slices.Sort(names)
	collectors := make([]string, 0)
	for _, name := range names {
		collectors = append(collectors, pools[name]...)
	}
	return collectors, nil
}

func (d *Directory) applyFilter(sources []model.SourceAddress) []model.SourceAddress {
	if len(d.filter) == 0 {
		return sources
	}
	allowed := make(map[string]bool, len(d.filter))
	for _, name := range d.filter {
		allowed[name] = true
	}
	filtered := make([]model.SourceAddress, 0, len(sources))
	for _, source := range sources {
		if allowed[source.Name] {
			filtered = append(filtered, source)
		}
	}
	log.Infof("Schedd filter kept %d of %d schedds", len(filtered), len(sources))
	return filtered
}
