package configuration

import (
	"time"

	commonconfig "github.com/armadaproject/condor-spider/internal/common/config"
	"github.com/armadaproject/condor-spider/internal/common/logging"
)

type SpiderConfiguration struct {
	Logging    logging.Config
	Collectors CollectorsConfig
	Schedds    ScheddsConfig
	Process    ProcessConfig
	IndexStore IndexStoreConfig
	Checkpoint CheckpointConfig
	Condor     CondorConfig
	Metrics    MetricsConfig
}

type CollectorsConfig struct {
	// Collector addresses, each the base URL of an htcondor-restd serving that pool
	Addresses []string
	// Optional JSON or YAML file mapping pool name to a list of collector addresses
	File string
}

type ScheddsConfig struct {
	// If non-empty, these schedds are queried and the collectors are not consulted
	Addresses []string
	// If non-empty, only schedds discovered from the collectors with these names are queried. Ignored when
	// Addresses is set
	Filter []string
}

type ProcessConfig struct {
	ScheddHistory bool
	ScheddQueue   bool
	// Maximum records pulled per schedd and kind. Zero means no limit
	MaxDocuments int `validate:"gte=0"`
	// Maximum number of schedds queried at once
	ParallelQueries int `validate:"gte=1"`
	// Bounds each schedd query. Zero means no limit
	QueryTimeout time.Duration `validate:"gte=0"`
	// Bounds the whole fetch phase. Zero means no limit
	RunTimeout time.Duration `validate:"gte=0"`
	// Time allowed to deliver everything buffered once fetching has stopped
	DrainTimeout time.Duration `validate:"gte=0"`
	// Resolve schedds but don't query them
	DryRun bool
	// Query and transform but don't deliver anything
	ReadOnly bool
	// Keep every attribute of queue records rather than the standard subset
	KeepFullQueueData bool
}

type IndexStoreConfig struct {
	// One of elasticsearch, redis or memory
	Type              string `validate:"oneof=elasticsearch redis memory"`
	Elasticsearch     ElasticsearchConfig
	Redis             *commonconfig.RedisConfig `validate:"required_if=Type redis"`
	BunchSize         int                       `validate:"gte=1"`
	FeedScheddHistory bool
	FeedScheddQueue   bool
	IndexName         string `validate:"required"`
	IndexDateAttr     string `validate:"required"`
	// Attributes tried in order when IndexDateAttr is missing or unusable
	IndexDateFallbacks []string
	// Shard records that carry no usable date under the time the run started
	FallbackToLaunchTime bool
	Retry                RetryConfig
}

type ElasticsearchConfig struct {
	Addresses             []string
	Username              string
	Password              string
	ApiKey                string
	CACertFile            string
	InsecureSkipTLSVerify bool
	RequestTimeout        time.Duration
}

type RetryConfig struct {
	InitialBackoff time.Duration `validate:"gt=0"`
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`
	MaxAttempts    int           `validate:"gte=1"`
}

type CheckpointConfig struct {
	// One of none, blob or postgres
	Type string `validate:"oneof=none blob postgres"`
	// gocloud bucket url, e.g. file:///var/lib/condor-spider or s3://bucket?region=eu-west-1
	BucketUrl string `validate:"required_if=Type blob"`
	Postgres  PostgresConfig
}

type PostgresConfig struct {
	Connection map[string]string
	Table      string
}

type CondorConfig struct {
	// Base URL of the htcondor-restd used to reach schedds given explicitly in Schedds.Addresses
	RestdUrl       string
	RequestTimeout time.Duration
}

type MetricsConfig struct {
	// Port serving /metrics and /health while a run is in progress. Zero disables the server
	Port uint16
}
