package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sync Error Taxonomy
//
// Every failure on the sync path is classified into one of five kinds, and
// the kind — not the message — decides what happens to the queued task:
//
//   NetworkUnavailable    no attempt was made; the task stays PENDING
//   RemoteRejected        4xx/validation; task marked FAILED, no auto-retry
//   RemoteTransient       5xx/timeout; retried with backoff, bounded attempts
//   ReconciliationConflict a local edit landed mid-flight; task re-snapshotted
//   StorageFailure        local transaction could not commit; aborted in full
//
// SyncError values are wrapped with serr at call sites for context, so
// callers classify with ErrorKindOf (errors.As walks the wrap chain).
// ============================================================================

// ErrorKind identifies the failure class of a sync operation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetworkUnavailable
	KindRemoteRejected
	KindRemoteTransient
	KindReconciliationConflict
	KindStorageFailure
)

// String returns the kind name used in logs and the queue's last_error column.
func (k ErrorKind) String() string {
	switch k {
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindRemoteTransient:
		return "remote_transient"
	case KindReconciliationConflict:
		return "reconciliation_conflict"
	case KindStorageFailure:
		return "storage_failure"
	}
	return "unknown"
}

// SyncError carries a failure class alongside the underlying cause.
// Status holds the HTTP status for remote failures, zero otherwise.
type SyncError struct {
	Kind   ErrorKind
	Status int
	Msg    string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ErrorKindOf extracts the failure class from anywhere in err's wrap chain.
func ErrorKindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// StatusOf extracts the HTTP status of a remote failure, zero when the
// error did not come from an HTTP response.
func StatusOf(err error) int {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsRetryable reports whether the failure should be retried automatically.
// Rejections are presumed permanently invalid until the user acts.
func IsRetryable(err error) bool {
	switch ErrorKindOf(err) {
	case KindNetworkUnavailable, KindRemoteTransient, KindReconciliationConflict:
		return true
	}
	return false
}

// ValidationError marks input the caller can correct: out-of-range values,
// missing required fields, unknown enum members. The HTTP layer maps it to
// a 400 rather than reporting a storage failure.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErr(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

// IsValidation reports whether err is (or wraps) a caller-input failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func networkUnavailable(msg string) *SyncError {
	return &SyncError{Kind: KindNetworkUnavailable, Msg: msg}
}

func storageFailure(err error, msg string) *SyncError {
	return &SyncError{Kind: KindStorageFailure, Msg: msg, Err: err}
}

func reconciliationConflict(msg string) *SyncError {
	return &SyncError{Kind: KindReconciliationConflict, Msg: msg}
}

// classifyStatus maps a remote HTTP response code to a failure class.
// Timeouts and 5xx are transient; everything else in 4xx is a rejection —
// the payload won't become valid by resending it.
func classifyStatus(status int, msg string) *SyncError {
	kind := KindRemoteRejected
	switch {
	case status >= 500,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		kind = KindRemoteTransient
	}
	return &SyncError{Kind: kind, Status: status, Msg: msg}
}

// classifyTransport maps a transport-level error (dial failure, timeout,
// closed connection) to a transient failure. A timeout is always a failure,
// never an implicit success — success is only ever inferred from a confirmed
// response carrying a server id.
func classifyTransport(err error, msg string) *SyncError {
	return &SyncError{Kind: KindRemoteTransient, Msg: msg, Err: err}
}
