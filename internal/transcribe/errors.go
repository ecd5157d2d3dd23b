package transcribe

import (
	"errors"
	"strings"
)

// RetryReasonInsufficientQuota marks a message blocked on provider
// quota. Quota-blocked messages stay retryable past the hard attempt
// cap: the failure is on the billing side, not the data.
const RetryReasonInsufficientQuota = "insufficient_quota"

// ProviderError is a transcription provider failure with enough
// context to classify it.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

var quotaMarkers = []string{"insufficient", "quota", "billing", "payment"}

// IsQuotaError reports whether the failure is a provider quota/billing
// rejection: HTTP 429 with a code or message naming quota exhaustion.
// Plain rate limiting without a quota marker is not a quota error.
func IsQuotaError(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode != 429 {
		return false
	}
	haystack := strings.ToLower(pe.Code + " " + pe.Message)
	for _, marker := range quotaMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// errorCode resolves the stored error code for a failure.
func errorCode(err error, fallback string) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return fallback
}
