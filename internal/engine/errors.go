package engine

import (
	"errors"
	"fmt"
)

// Code classifies engine failures. Codes are stable identifiers carried
// into job results, the operation log, and API responses.
type Code string

const (
	CodeInvalidDestination    Code = "InvalidDestination"
	CodeDestinationDisabled   Code = "DestinationDisabled"
	CodeDirectoryCreateFailed Code = "DirectoryCreateFailed"
	CodeArchiveToolFailed     Code = "ArchiveToolFailed"
	CodeArtifactMissing       Code = "ArtifactMissing"
	CodeRenameFailed          Code = "RenameFailed"
	CodeDatabaseBackupFailed  Code = "DatabaseBackupFailed"
	CodeTransportFailed       Code = "TransportFailed"
	CodeUnparsableFilename    Code = "UnparsableFilename"
	CodeRetrievalFailed       Code = "RetrievalFailed"
	CodeVerificationFailed    Code = "VerificationFailed"
	CodeRestoreToolFailed     Code = "RestoreToolFailed"
	CodeDatabaseRestoreFailed Code = "DatabaseRestoreFailed"
	CodeProcessSpawnFailed    Code = "ProcessSpawnFailed"
	CodeCancelled             Code = "Cancelled"
)

// Error is a classified engine failure. ExitCode is meaningful only for
// CodeRestoreToolFailed, where the external tool's status is preserved.
type Error struct {
	Code     Code
	Account  string
	Message  string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Account != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Account, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the failure code from an error chain; unclassified
// errors report an empty code.
func CodeOf(err error) Code {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}
