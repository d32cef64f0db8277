// Package streamclient defines the abstract port the core uses to reach the
// stream service (component A of SPEC_FULL.md) and a concrete AWS Kinesis
// adapter.
package streamclient

import (
	"context"
	"errors"
)

// IteratorType mirrors the Kinesis ShardIteratorType enumeration, kept
// service-agnostic so the core never imports an AWS package directly.
type IteratorType int

const (
	AtSequenceNumber IteratorType = iota
	AfterSequenceNumber
	TrimHorizon
	Latest
)

// ErrorClass subdivides every error a Client method can return, per
// SPEC_FULL.md §4.A. The partition worker's retry/backoff taxonomy switches
// on this, never on a concrete SDK error type.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassThrottled
	ClassIteratorExpired
	ClassNotFound
	ClassInvalidArgument
	ClassRecoverableTransport
	ClassUnrecoverable
)

// ServiceError wraps an upstream failure with its taxonomy class.
type ServiceError struct {
	Class ErrorClass
	Err   error
}

func (e *ServiceError) Error() string {
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError builds a ServiceError. Passing a nil err is a programmer
// error and will panic, matching the strictness of the teacher's own
// awserr.Error wrapping.
func NewServiceError(class ErrorClass, err error) *ServiceError {
	if err == nil {
		panic("streamclient: NewServiceError called with nil err")
	}
	return &ServiceError{Class: class, Err: err}
}

// ClassOf extracts the ErrorClass from err, defaulting to ClassUnrecoverable
// for any error that didn't come from this package (a defensive default; in
// practice every error returned by a Client implementation is a
// *ServiceError).
func ClassOf(err error) ErrorClass {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Class
	}
	if err == nil {
		return ClassNone
	}
	return ClassUnrecoverable
}

// GetRecordsResult is the result of a GetRecords call. NextIterator is empty
// iff the shard is closed (split or merged upstream); Records may be empty
// without implying closure.
type GetRecordsResult struct {
	Records      []RawRecord
	NextIterator string
}

// RawRecord is one record as handed back by the stream service, prior to
// decoding.
type RawRecord struct {
	SequenceNumber string
	Data           []byte
}

// Client is the abstract stream service port (SPEC_FULL.md §4.A).
type Client interface {
	// GetShardIterator resolves an iterator for partition on stream. sequence
	// is required iff iterType is AtSequenceNumber or AfterSequenceNumber.
	GetShardIterator(ctx context.Context, stream, partition string, iterType IteratorType, sequence string) (string, error)

	// GetRecords fetches up to limit records starting at iterator.
	GetRecords(ctx context.Context, iterator string, limit int) (GetRecordsResult, error)

	// ListPartitions returns the current partition ids of stream.
	ListPartitions(ctx context.Context, stream string) ([]string, error)
}
