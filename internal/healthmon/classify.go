package healthmon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
)

// FailureClass buckets probe errors for logging and metrics. It never
// changes what gets recorded in a window.
type FailureClass string

const (
	ClassCommercial FailureClass = "commercial"
	ClassTimeout    FailureClass = "timeout"
	ClassCredential FailureClass = "credential"
	ClassNoResponse FailureClass = "no_response"
	ClassTechnical  FailureClass = "technical"
)

// ErrNoCompletion marks a reply that reached us without a usable completion.
var ErrNoCompletion = errors.New("no completion returned")

var commercialKeywords = []string{
	"negative balance", "insufficient balance", "insufficient_balance",
	"quota exceeded", "exceeded your current quota", "insufficient_user_quota",
	"rate limit", "rate_limit", "billing", "payment", "credit", "funds",
	"pre-payment", "prepayment", "subscription", "余额", "欠费",
}

var timeoutKeywords = []string{"timeout", "timed out", "deadline exceeded"}

var credentialKeywords = []string{
	"invalid api key", "invalid_api_key", "incorrect api key",
	"invalid authentication", "unauthorized", "status 401",
}

// Classify maps a probe error to a FailureClass. A nil error yields "".
func Classify(err error) FailureClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoCompletion) {
		return ClassNoResponse
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, commercialKeywords) {
		return ClassCommercial
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) || containsAny(msg, timeoutKeywords) {
		return ClassTimeout
	}
	if containsAny(msg, credentialKeywords) {
		return ClassCredential
	}
	return ClassTechnical
}

// Level is the log level a failure of this class deserves.
func (c FailureClass) Level() slog.Level {
	switch c {
	case ClassCredential, ClassTechnical:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
