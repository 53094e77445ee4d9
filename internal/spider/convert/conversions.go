package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/armadaproject/condor-spider/internal/spider/configuration"
	"github.com/armadaproject/condor-spider/internal/spider/model"
)

const (
	GlobalJobIdAttr          = "GlobalJobId"
	ClusterIdAttr            = "ClusterId"
	ProcIdAttr               = "ProcId"
	QDateAttr                = "QDate"
	EnteredCurrentStatusAttr = "EnteredCurrentStatus"

	SpiderSourceAttr  = "spider_source"
	SpiderScheddAttr  = "spider_schedd"
	SpiderVersionAttr = "spider_version"
)

var documentNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("condor-spider.armadaproject.io"))

// queueAttributes are kept on queue documents unless full queue data is requested.
var queueAttributes = map[string]bool{
	"AcctGroup":            true,
	"AcctGroupUser":        true,
	"ClusterId":            true,
	"CompletionDate":       true,
	"CumulativeSlotTime":   true,
	"EnteredCurrentStatus": true,
	"GlobalJobId":          true,
	"HoldReason":           true,
	"HoldReasonCode":       true,
	"JobCurrentStartDate":  true,
	"JobPrio":              true,
	"JobStartDate":         true,
	"JobStatus":            true,
	"JobUniverse":          true,
	"LastRemoteHost":       true,
	"NumJobStarts":         true,
	"NumRestarts":          true,
	"Owner":                true,
	"ProcId":               true,
	"QDate":                true,
	"RemoteHost":           true,
	"RemoteUserCpu":        true,
	"RemoteWallClockTime":  true,
	"RequestCpus":          true,
	"RequestDisk":          true,
	"RequestGPUs":          true,
	"RequestMemory":        true,
}

// Transformer turns raw records into documents.
type Transformer struct {
	dateAttr             string
	dateFallbacks        []string
	fallbackToLaunchTime bool
	launchTime           time.Time
	keepFullQueueData    bool
	version              string
	keep                 map[string]bool
}

func NewTransformer(config configuration.IndexStoreConfig, keepFullQueueData bool, clock clock.Clock, version string) *Transformer {
	keep := make(map[string]bool, len(queueAttributes)+len(config.IndexDateFallbacks)+1)
	for attr := range queueAttributes {
		keep[attr] = true
	}
	keep[config.IndexDateAttr] = true
	for _, attr := range config.IndexDateFallbacks {
		keep[attr] = true
	}
	return &Transformer{
		dateAttr:             config.IndexDateAttr,
		dateFallbacks:        config.IndexDateFallbacks,
		fallbackToLaunchTime: config.FallbackToLaunchTime,
		launchTime:           clock.Now(),
		keepFullQueueData:    keepFullQueueData,
		version:              version,
		keep:                 keep,
	}
}

// Transform builds the document for raw, which was returned by a query of kind against source.
// It returns a *model.TransformError if the record has no usable date or identity.
func (t *Transformer) Transform(raw model.RawRecord, source model.SourceAddress, kind model.Kind) (*model.Document, error) {
	timestamp, err := t.indexTime(raw)
	if err != nil {
		return nil, &model.TransformError{Source: source.Name, Kind: kind, Reason: err.Error()}
	}
	identity, err := RecordIdentity(raw)
	if err != nil {
		return nil, &model.TransformError{Source: source.Name, Kind: kind, Reason: err.Error()}
	}

	attributes := make(map[string]interface{}, len(raw)+3)
	for k, v := range raw {
		if kind == model.Queue && !t.keepFullQueueData && !t.keep[k] {
			continue
		}
		attributes[k] = coerce(v)
	}
	attributes[SpiderSourceAttr] = kind.SourceName()
	attributes[SpiderScheddAttr] = source.Name
	attributes[SpiderVersionAttr] = t.version

	return &model.Document{
		Id:         DocumentId(source.Name, kind, identity),
		ShardDate:  ShardDate(timestamp),
		Source:     source.Name,
		Kind:       kind,
		Attributes: attributes,
	}, nil
}

// indexTime returns the time the record is sharded under: the configured date attribute, then each fallback
// attribute, then optionally the time the run started.
func (t *Transformer) indexTime(raw model.RawRecord) (time.Time, error) {
	if ts, ok := parseTimestamp(raw[t.dateAttr]); ok {
		return ts, nil
	}
	for _, attr := range t.dateFallbacks {
		if ts, ok := parseTimestamp(raw[attr]); ok {
			return ts, nil
		}
	}
	if t.fallbackToLaunchTime {
		return t.launchTime, nil
	}
	if _, present := raw[t.dateAttr]; present {
		return time.Time{}, fmt.Errorf("attribute %s has unusable date %v", t.dateAttr, raw[t.dateAttr])
	}
	return time.Time{}, fmt.Errorf("attribute %s is missing", t.dateAttr)
}

// DocumentId derives the id a record is stored under. It depends only on its arguments.
func DocumentId(source string, kind model.Kind, identity string) string {
	name := strings.Join([]string{source, string(kind), identity}, "\x00")
	return uuid.NewSHA1(documentNamespace, []byte(name)).String()
}

// RecordIdentity returns the GlobalJobId of the record, or failing that an identity built from its cluster id,
// proc id and submission time.
func RecordIdentity(raw model.RawRecord) (string, error) {
	if id, ok := raw[GlobalJobIdAttr].(string); ok && id != "" {
		return id, nil
	}
	cluster, hasCluster := raw[ClusterIdAttr]
	proc, hasProc := raw[ProcIdAttr]
	qdate, hasQDate := raw[QDateAttr]
	if hasCluster && hasProc && hasQDate {
		return fmt.Sprintf("%v.%v#%v", cluster, proc, qdate), nil
	}
	return "", fmt.Errorf("record has no %s and cannot be identified by %s, %s and %s",
		GlobalJobIdAttr, ClusterIdAttr, ProcIdAttr, QDateAttr)
}

// ShardDate truncates t to midnight UTC.
func ShardDate(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// EnteredCurrentStatus returns the time the record entered its current status, if it has one.
func EnteredCurrentStatus(raw model.RawRecord) (time.Time, bool) {
	return parseTimestamp(raw[EnteredCurrentStatusAttr])
}

// parseTimestamp accepts positive epoch seconds, as a number or numeric string, or an RFC3339 string.
func parseTimestamp(v interface{}) (time.Time, bool) {
	var seconds float64
	switch value := v.(type) {
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return time.Time{}, false
		}
		seconds = f
	case float64:
		seconds = value
	case int64:
		seconds = float64(value)
	case int:
		seconds = float64(value)
	case string:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			seconds = f
		} else if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts, true
		} else {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}
	if seconds <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(seconds), 0), true
}

// coerce normalises numbers and boolean strings, recursing into lists and nested ads. Anything else is kept as is.
func coerce(v interface{}) interface{} {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case string:
		switch strings.ToLower(value) {
		case "true":
			return true
		case "false":
			return false
		}
		return value
	case []interface{}:
		result := make([]interface{}, len(value))
		for i, e := range value {
			result[i] = coerce(e)
		}
		return result
	case map[string]interface{}:
		result := make(map[string]interface{}, len(value))
		for k, e := range value {
			result[k] = coerce(e)
		}
		return result
	default:
		return value
	}
}
