package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery           = errors.New("invalid query")
	ErrInvalidMotif           = errors.New("invalid motif")
	ErrVersionUnavailable     = errors.New("dataset version unavailable")
	ErrSnapshotSchemaMismatch = errors.New("snapshot schema does not match compiled neuron schema")
	ErrSnapshotCorrupt        = errors.New("snapshot corrupt")
	ErrTableSchemaMismatch    = errors.New("table header does not match schema")
	ErrInvalidRow             = errors.New("invalid table row")
	ErrDuplicateRootID        = errors.New("duplicate root id")
	ErrUnknownRootID          = errors.New("unknown root id")
	ErrInvalidCellID          = errors.New("invalid cell id")
)

// QueryErrorKind classifies a rejected search query.
type QueryErrorKind int

const (
	MalformedSyntax QueryErrorKind = iota
	UnknownAttribute
	InvalidValue
	UnknownOperator
)

func (k QueryErrorKind) String() string {
	switch k {
	case MalformedSyntax:
		return "malformed-syntax"
	case UnknownAttribute:
		return "unknown-attribute"
	case InvalidValue:
		return "invalid-value"
	case UnknownOperator:
		return "unknown-operator"
	}
	return "unknown"
}

// QueryGuidance is appended to every query error shown to users.
const QueryGuidance = "You can click the advanced search button to build structured search queries, " +
	"or read about the query format on the FAQ page. If you are not trying to run structured search " +
	"just wrap your query in double quotes."

// QueryError is a user-facing problem with a search query.
type QueryError struct {
	Kind    QueryErrorKind
	Message string
}

func (e *QueryError) Error() string {
	return e.Message + "\n" + QueryGuidance
}

func (e *QueryError) Unwrap() error { return ErrInvalidQuery }

// NewQueryError builds a QueryError with a formatted message.
func NewQueryError(kind QueryErrorKind, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// MotifError reports a motif that cannot be built.
type MotifError struct {
	Message string
}

func (e *MotifError) Error() string { return e.Message }

func (e *MotifError) Unwrap() error { return ErrInvalidMotif }

// NewMotifError builds a MotifError with a formatted message.
func NewMotifError(format string, args ...any) *MotifError {
	return &MotifError{Message: fmt.Sprintf(format, args...)}
}
