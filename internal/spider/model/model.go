package model

import (
	"fmt"
	"time"
)

// Kind identifies which set of records is read from a schedd.
type Kind string

const (
	History Kind = "history"
	Queue   Kind = "queue"
)

// SourceName is the value of the spider_source attribute stamped on documents of this kind.
func (k Kind) SourceName() string {
	return "condor_" + string(k)
}

// SourceAddress identifies a single schedd. Pool is the base URL of the restd that answers for it.
type SourceAddress struct {
	Name string
	Pool string
}

func (s SourceAddress) String() string {
	if s.Pool == "" {
		return s.Name
	}
	return fmt.Sprintf("%s@%s", s.Name, s.Pool)
}

// CollectionRequest describes everything to be pulled from one source during a run.
type CollectionRequest struct {
	Source SourceAddress
	Kinds  []Kind
	// Maximum records per kind. Zero means no limit
	MaxRecords int
	// History records that entered their current status before this time are not requested
	HistorySince time.Time
}

// RawRecord is a job ad as returned by a schedd.
type RawRecord map[string]interface{}

// Document is a record ready to be written to the index store.
type Document struct {
	// Stable across runs for the same underlying record
	Id string
	// Midnight UTC of the day the document is sharded under
	ShardDate  time.Time
	Source     string
	Kind       Kind
	Attributes map[string]interface{}
}

// ReportKey identifies a single SourceReport.
type ReportKey struct {
	Source string
	Kind   Kind
}
