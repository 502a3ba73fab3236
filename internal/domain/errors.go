package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy of the sync engines.
type ErrorKind string

const (
	KindTransient    ErrorKind = "transient"
	KindMediaRelay   ErrorKind = "media_relay"
	KindIdentity     ErrorKind = "identity"
	KindStoreWrite   ErrorKind = "store_write"
	KindFatalStartup ErrorKind = "fatal_startup"
)

// SyncError tags an error with its kind and the operation that failed.
type SyncError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise a *SyncError.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err. Untagged errors are transient.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatalStartup
}
