package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrNormalization      = errors.New("normalization error")
	ErrValidationRejected = errors.New("validation rejected")
	ErrStorageBusy        = errors.New("storage busy")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCredentialMissing  = errors.New("credential missing")
)

// kindNames is ordered so that the outermost meaningful kind wins in KindOf:
// an unavailable store usually wraps a busy one.
var kindNames = []struct {
	kind error
	name string
}{
	{ErrCredentialMissing, "CredentialMissing"},
	{ErrSourceUnavailable, "SourceUnavailable"},
	{ErrStorageUnavailable, "StorageUnavailable"},
	{ErrStorageBusy, "StorageBusy"},
	{ErrNormalization, "NormalizationError"},
	{ErrValidationRejected, "ValidationRejected"},
}

// Error attaches a kind and the failing operation to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// E builds an *Error.
func E(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf names the error kind carried by err, or "Unknown".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "Unknown"
}
