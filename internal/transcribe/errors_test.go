package transcribe

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIsQuotaError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"quota code", &ProviderError{StatusCode: 429, Code: "insufficient_quota"}, true},
		{"billing message", &ProviderError{StatusCode: 429, Message: "billing hard limit reached"}, true},
		{"payment message", &ProviderError{StatusCode: 429, Message: "payment required"}, true},
		{"plain rate limit", &ProviderError{StatusCode: 429, Message: "too many requests"}, false},
		{"quota text but not 429", &ProviderError{StatusCode: 500, Code: "insufficient_quota"}, false},
		{"wrapped", fmt.Errorf("call: %w", &ProviderError{StatusCode: 429, Code: "quota_exceeded"}), true},
		{"plain error", errors.New("quota"), false},
		{"nil-ish", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsQuotaError(tc.err); got != tc.want {
				t.Errorf("IsQuotaError = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessageErrorUpdateQuota(t *testing.T) {
	now := time.Now().UTC()
	update := messageErrorUpdate(markErrorParams{
		code:       RetryReasonInsufficientQuota,
		message:    "quota",
		attempts:   3,
		quotaRetry: true,
	}, now)

	set := update["$set"].(bson.M)
	if set["to_transcribe"] != true {
		t.Error("quota block must keep the message retryable")
	}
	if set["transcription_retry_reason"] != RetryReasonInsufficientQuota {
		t.Errorf("retry reason = %v", set["transcription_retry_reason"])
	}
	if _, ok := set["next_transcribe_attempt_at"]; !ok {
		t.Error("quota block still schedules the next attempt")
	}
	if _, ok := update["$unset"]; ok {
		t.Errorf("quota update should not unset retry state: %#v", update["$unset"])
	}
}

func TestMessageErrorUpdateTerminal(t *testing.T) {
	now := time.Now().UTC()
	update := messageErrorUpdate(markErrorParams{
		code:              "max_attempts_exceeded",
		attempts:          11,
		skipRetrySchedule: true,
	}, now)

	set := update["$set"].(bson.M)
	if set["to_transcribe"] != false {
		t.Error("terminal failure clears the transcription trigger")
	}
	unset := update["$unset"].(bson.M)
	if unset["next_transcribe_attempt_at"] != 1 || unset["transcription_retry_reason"] != 1 {
		t.Errorf("unset = %#v", unset)
	}
}

func TestSessionErrorUpdateCorruptionFlag(t *testing.T) {
	now := time.Now().UTC()

	quota := sessionErrorUpdate(markErrorParams{code: RetryReasonInsufficientQuota, quotaRetry: true}, primitive.ObjectID{1}, now)
	if quota["$set"].(bson.M)["is_corrupted"] != false {
		t.Error("quota block must not corrupt the session")
	}

	hard := sessionErrorUpdate(markErrorParams{code: "transcription_failed", message: "boom"}, primitive.ObjectID{1}, now)
	set := hard["$set"].(bson.M)
	if set["is_corrupted"] != true {
		t.Error("non-quota failure corrupts the session")
	}
	if set["error_source"] != "transcription" || set["error_message"] != "boom" {
		t.Errorf("set = %#v", set)
	}
}
