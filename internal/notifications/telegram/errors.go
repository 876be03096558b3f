package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError is returned when Telegram answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable always returns true.
func (e *RateLimitError) IsRetryable() bool { return true }

// RetryDelay returns how long the provider asked us to wait.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

// PermanentError is a provider rejection that will not succeed on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable always returns false.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError is a transient failure: network, 5xx or a broken response.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable always returns true.
func (e *RetryableError) IsRetryable() bool { return true }

// MediaError means Telegram could not fetch or process an attached photo.
type MediaError struct {
	Code    int
	Message string
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("telegram media error %d: %s", e.Code, e.Message)
}

// IsRetryable always returns false.
func (e *MediaError) IsRetryable() bool { return false }

// mediaErrorMarkers are description fragments Telegram uses for unusable media.
var mediaErrorMarkers = []string{
	"wrong file identifier/http url specified",
	"failed to get http url content",
	"webpage_media_empty",
	"webpage_curl_failed",
	"wrong type of the web page content",
	"media_empty",
	"image_process_failed",
}

func isMediaDescription(description string) bool {
	d := strings.ToLower(description)
	for _, marker := range mediaErrorMarkers {
		if strings.Contains(d, marker) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is a retryable telegram error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns the provider back-off of a rate limit error, or zero.
func GetRetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

func isMediaError(err error) bool {
	var me *MediaError
	return errors.As(err, &me)
}

func isRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
