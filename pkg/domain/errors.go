package domain

import (
	"errors"
	"fmt"
)

// Kind buckets engine errors so API layers can map them to precise responses.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindAuthorization  Kind = "authorization"
	KindAssembly       Kind = "assembly"
	KindTransientStore Kind = "transient_store"
)

// Error is the engine's domain error. Code is stable and machine-readable;
// Message is for humans. Only KindTransientStore is retried by the engine,
// everything else propagates to the caller unmodified.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors sharing the same code, so callers can compare against
// the exported sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// KindOf extracts the taxonomy kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransient reports whether the engine may retry the operation.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientStore
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons. Call sites build richer instances via
// the constructors below; Is matches on code.
var (
	ErrPolicyNotFound    = &Error{Kind: KindNotFound, Code: "policy_not_found", Message: "policy not found"}
	ErrRequestNotFound   = &Error{Kind: KindNotFound, Code: "request_not_found", Message: "request not found"}
	ErrPathNotCovered    = &Error{Kind: KindValidation, Code: "path_not_covered", Message: "secret path not covered by policy"}
	ErrInvalidPolicy     = &Error{Kind: KindValidation, Code: "invalid_policy", Message: "invalid policy configuration"}
	ErrRequestNotPending = &Error{Kind: KindConflict, Code: "request_not_pending", Message: "request is no longer pending"}
	ErrDuplicateDecision = &Error{Kind: KindConflict, Code: "duplicate_decision", Message: "approver already decided"}
	ErrNotAnApprover     = &Error{Kind: KindAuthorization, Code: "not_an_approver", Message: "caller is not a designated approver"}
)

// PolicyNotFound builds a not-found error for the given policy id.
func PolicyNotFound(id fmt.Stringer) *Error {
	return newError(KindNotFound, "policy_not_found", "policy %s not found", id)
}

// RequestNotFound builds a not-found error for the given request id.
func RequestNotFound(id fmt.Stringer) *Error {
	return newError(KindNotFound, "request_not_found", "request %s not found", id)
}

// PathNotCovered reports a secret path outside the policy's pattern.
func PathNotCovered(path, pattern string) *Error {
	return newError(KindValidation, "path_not_covered", "secret path %q does not match pattern %q", path, pattern)
}

// InvalidPolicy reports a rejected policy configuration.
func InvalidPolicy(format string, args ...any) *Error {
	return newError(KindValidation, "invalid_policy", format, args...)
}

// InvalidDecision reports a decision value outside approve/reject.
func InvalidDecision(value string) *Error {
	return newError(KindValidation, "invalid_decision", "unknown decision %q", value)
}

// RequestNotPending reports a decision against a terminal request.
func RequestNotPending(status string) *Error {
	return newError(KindConflict, "request_not_pending", "request status is %s", status)
}

// DuplicateDecision reports a second decision by the same approver.
func DuplicateDecision(approverID fmt.Stringer) *Error {
	return newError(KindConflict, "duplicate_decision", "approver %s already decided", approverID)
}

// NotAnApprover reports a decision from outside the snapshotted approver set.
func NotAnApprover(approverID fmt.Stringer) *Error {
	return newError(KindAuthorization, "not_an_approver", "approver %s is not part of the approver set", approverID)
}

// AssemblyError wraps a malformed join result. It indicates the store broke
// its query contract, not a caller mistake.
func AssemblyError(format string, args ...any) *Error {
	return newError(KindAssembly, "assembly_failed", format, args...)
}

// TransientStoreError wraps lock contention or deadlock failures that are
// safe to retry with backoff.
func TransientStoreError(cause error) *Error {
	return &Error{Kind: KindTransientStore, Code: "transient_store", Message: "store contention", Cause: cause}
}
