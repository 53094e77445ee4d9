package model

import (
	"fmt"
)

// ConfigurationError means the run cannot start with the configuration it was given.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// DiscoveryError means no collector could be reached.
type DiscoveryError struct {
	Collectors []string
	Cause      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover schedds from any of %d collectors: %v", len(e.Collectors), e.Cause)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// FetchError means records could not be pulled from a source. Records already pulled are kept.
type FetchError struct {
	Source string
	Kind   Kind
	Cause  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s records from %s: %v", e.Kind, e.Source, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// TransformError means a single record could not be turned into a document.
type TransformError struct {
	Source string
	Kind   Kind
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("failed to transform %s record from %s: %s", e.Kind, e.Source, e.Reason)
}

// DeliveryError means a batch could not be written to the index store and its documents were dropped.
type DeliveryError struct {
	Index     string
	Documents int
	Cause     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver %d documents to index %s: %v", e.Documents, e.Index, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}
