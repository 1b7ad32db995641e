package inspector

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed inspection
type Kind string

const (
	// KindRateLimited means the service asked us to slow down; the request is retried after a cooldown.
	KindRateLimited Kind = "rate_limited"
	// KindTransport is a secure-channel or connection failure; the row is skipped.
	KindTransport Kind = "transport"
	// KindRemote is any other failed response; the row is skipped.
	KindRemote Kind = "remote"
)

// Error is returned for every failed inspection call
type Error struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inspection of %s failed (%s, status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inspection of %s failed (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request should be sent again
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited
}

// KindOf returns the kind of an inspection error, or "" for other errors
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// IsRetryable reports whether err asks the caller to retry the same request
func IsRetryable(err error) bool {
	var ie *Error
	return errors.As(err, &ie) && ie.Retryable()
}

// IsTransportError reports whether err came from TLS negotiation or certificate checks
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

// googleErrorBody is the error envelope returned by Google APIs
type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// rateLimited reports whether a Google error envelope signals throttling
func (b googleErrorBody) rateLimited() bool {
	if b.Error.Status == "RESOURCE_EXHAUSTED" {
		return true
	}
	for _, e := range b.Error.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}
