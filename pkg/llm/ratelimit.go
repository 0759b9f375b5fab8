package llm

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultRateLimitWait is used when a provider says it is rate limiting
	// but gives no usable duration.
	DefaultRateLimitWait = 60 * time.Second

	// MaxRateLimitWait caps whatever the provider asks for, so a pathological
	// "retry after 86400 seconds" cannot park a loop for a day.
	MaxRateLimitWait = 15 * time.Minute
)

var rateLimitIndicators = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"quota exceeded",
	"limit exceeded",
	"retry after",
	"retry-after",
	"please try again",
}

var (
	combinedPattern   = regexp.MustCompile(`(\d+)m(\d+)s`)
	secondsPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*sec(?:ond)?s?`)
	minutesPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*min(?:ute)?s?`)
	hoursPattern      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*h(?:ou)?rs?`)
	retryAfterPattern = regexp.MustCompile(`retry[-_\s]?after[:\s]+(\d+)`)
)

// IsRateLimitError reports whether err looks like a provider rate limit,
// either by HTTP status or by message wording.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range rateLimitIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// RateLimitWait extracts how long a rate-limited request should wait before
// retrying. It adds a one second margin to whatever the provider stated and
// falls back to DefaultRateLimitWait when no duration is recoverable.
func RateLimitWait(err error) time.Duration {
	if err == nil {
		return DefaultRateLimitWait
	}

	wait, ok := extractWait(strings.ToLower(err.Error()))
	if !ok {
		return DefaultRateLimitWait
	}
	if wait > MaxRateLimitWait {
		return MaxRateLimitWait
	}
	return wait
}

func extractWait(msg string) (time.Duration, bool) {
	if m := secondsPattern.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(secs*float64(time.Second)) + time.Second, true
		}
	}
	if m := minutesPattern.FindStringSubmatch(msg); m != nil {
		if mins, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(mins*float64(time.Minute)) + time.Second, true
		}
	}
	if m := hoursPattern.FindStringSubmatch(msg); m != nil {
		if hours, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(hours*float64(time.Hour)) + time.Second, true
		}
	}
	if m := combinedPattern.FindStringSubmatch(msg); m != nil {
		mins, errM := strconv.Atoi(m[1])
		secs, errS := strconv.Atoi(m[2])
		if errM == nil && errS == nil {
			return time.Duration(mins)*time.Minute + time.Duration(secs+1)*time.Second, true
		}
	}
	if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(secs+1) * time.Second, true
		}
	}
	return 0, false
}
