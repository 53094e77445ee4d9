package model

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/armadaproject/condor-spider/internal/common/util"
)

// SourceReport holds the outcome of pulling one kind of record from one source.
type SourceReport struct {
	Source          string
	Kind            Kind
	RecordsSeen     int
	RecordsIndexed  int
	TransformErrors int
	// Documents the index store refused individually
	Rejected int
	// Documents dropped because their batch could not be delivered
	Lost int
	// Set if the fetch did not run to completion
	Err      error
	TimedOut bool
}

func (r *SourceReport) Key() ReportKey {
	return ReportKey{Source: r.Source, Kind: r.Kind}
}

// RunReport is the outcome of a whole run.
type RunReport struct {
	Started  time.Time
	Finished time.Time
	// Set if the run could not proceed past discovery
	Err     error
	Sources []*SourceReport
}

// Success is true when discovery succeeded and no batch was lost.
func (r *RunReport) Success() bool {
	return r.Err == nil && r.LostDocuments() == 0
}

func (r *RunReport) LostDocuments() int {
	lost := 0
	for _, s := range r.Sources {
		lost += s.Lost
	}
	return lost
}

// FailedSources returns the number of (source, kind) pairs whose fetch did not complete.
func (r *RunReport) FailedSources() int {
	failed := 0
	for _, s := range r.Sources {
		if s.Err != nil {
			failed++
		}
	}
	return failed
}

// Sort orders the source reports by source then kind.
func (r *RunReport) Sort() {
	slices.SortFunc(r.Sources, func(a, b *SourceReport) bool {
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Kind < b.Kind
	})
}

func (r *RunReport) String() string {
	sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	sb.Writef("SCHEDD\tKIND\tSEEN\tINDEXED\tTRANSFORM ERRORS\tREJECTED\tLOST\tERROR\n")
	for _, s := range r.Sources {
		errString := ""
		if s.Err != nil {
			errString = s.Err.Error()
		}
		sb.Writef("%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Source, s.Kind, s.RecordsSeen, s.RecordsIndexed, s.TransformErrors, s.Rejected, s.Lost, errString)
	}
	return sb.String()
}
