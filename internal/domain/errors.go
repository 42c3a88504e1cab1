package domain

import "errors"

var (
	ErrNoActiveWindow  = errors.New("no active window")
	ErrMalformedWindow = errors.New("malformed window")
	ErrBookUnavailable = errors.New("order book unavailable")
	ErrSigningFailed   = errors.New("signing failed")
	ErrRejected        = errors.New("order rejected by venue")
	ErrNetwork         = errors.New("network failure")
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidOrder    = errors.New("invalid order parameters")
)

// ErrorKind labels a pipeline failure so callers can choose between retry and abort.
type ErrorKind string

const (
	KindNoActiveWindow  ErrorKind = "NoActiveWindow"
	KindMalformedWindow ErrorKind = "MalformedWindow"
	KindBookUnavailable ErrorKind = "BookUnavailable"
	KindSigning         ErrorKind = "SigningError"
	KindRejected        ErrorKind = "RejectedError"
	KindNetwork         ErrorKind = "NetworkError"
	KindNotFound        ErrorKind = "NotFound"
	KindInvalidOrder    ErrorKind = "InvalidOrder"
	KindUnknown         ErrorKind = "Unknown"
)

// kindOrder is checked front to back; the first matching sentinel decides the kind.
var kindOrder = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNoActiveWindow, KindNoActiveWindow},
	{ErrMalformedWindow, KindMalformedWindow},
	{ErrBookUnavailable, KindBookUnavailable},
	{ErrSigningFailed, KindSigning},
	{ErrRejected, KindRejected},
	{ErrNotFound, KindNotFound},
	{ErrInvalidOrder, KindInvalidOrder},
	{ErrNetwork, KindNetwork},
	{ErrRateLimited, KindNetwork},
	{ErrUnauthorized, KindRejected},
}

// Kind maps err onto exactly one ErrorKind.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the caller should wait and run the pipeline again.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindNoActiveWindow, KindBookUnavailable:
		return true
	}
	return false
}
