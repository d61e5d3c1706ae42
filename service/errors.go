package service

import "fmt"

type RejectionCode string

const (
	CodeInvalidPath         RejectionCode = "invalid_path"
	CodeInvalidCredential   RejectionCode = "invalid_credential"
	CodeIdentityUnavailable RejectionCode = "identity_unavailable"
	CodeRateLimited         RejectionCode = "rate_limited"
	CodeOverCapacity        RejectionCode = "over_capacity"
	CodeStoreUnavailable    RejectionCode = "store_unavailable"
	CodeSessionNotFound     RejectionCode = "session_not_found"
	CodeStreamAlreadyLive   RejectionCode = "stream_already_live"
	CodeInternal            RejectionCode = "internal_error"
)

// RejectionError is returned by the gateway when a publish must be refused.
type RejectionError struct {
	Code   RejectionCode
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func reject(code RejectionCode, format string, args ...any) *RejectionError {
	return &RejectionError{Code: code, Reason: fmt.Sprintf(format, args...)}
}
