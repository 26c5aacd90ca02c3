package governor

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig bounds the retry behavior of one governed execution
type RetryConfig struct {
	MaxAttempts           int           `json:"max_attempts"`
	BaseDelay             time.Duration `json:"base_delay"`
	MaxDelay              time.Duration `json:"max_delay"`
	JitterFactor          float64       `json:"jitter_factor"`
	UseExponentialBackoff bool          `json:"use_exponential_backoff"`
}

// DefaultRetryConfig returns the default retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:           3,
		BaseDelay:             time.Second,
		MaxDelay:              30 * time.Second,
		JitterFactor:          0.2,
		UseExponentialBackoff: true,
	}
}

// Validate checks retry config invariants
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("jitter factor must be between 0 and 1, got %v", c.JitterFactor)
	}
	return nil
}

// delayBeforeRetry computes the backoff delay preceding the given retry.
// retry is 1-based: the first retry waits base, the second 2*base, and so on
// when exponential backoff is enabled, capped at MaxDelay plus random jitter
// in [0, capped*JitterFactor).
func (c RetryConfig) delayBeforeRetry(retry int) time.Duration {
	base := float64(c.BaseDelay)
	if c.UseExponentialBackoff && retry > 1 {
		base = base * math.Pow(2, float64(retry-1))
	}

	capped := base
	if c.MaxDelay > 0 && capped > float64(c.MaxDelay) {
		capped = float64(c.MaxDelay)
	}

	jitter := 0.0
	if c.JitterFactor > 0 {
		jitter = rand.Float64() * c.JitterFactor * capped
	}

	return time.Duration(capped + jitter)
}

// nonRetryableClasses enumerates error classes that bypass remaining retries
var nonRetryableClasses = []string{
	"not found",
	"invalid api key",
	"unauthorized",
	"forbidden",
	"validation failed",
	"invalid input",
}

// IsNonRetryable reports whether the error belongs to an explicitly
// enumerated non-retryable class. Everything else is assumed transient and
// retried up to the configured attempt budget.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, class := range nonRetryableClasses {
		if strings.Contains(msg, class) {
			return true
		}
	}
	return false
}
