package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	perrors "github.com/p-blackswan/issuemirror/internal/errors"
)

const service = "github"

// apiError maps a go-github failure onto the structured error taxonomy so
// retry.Do can tell transient failures from permanent ones. Context errors
// pass through unchanged.
func apiError(endpoint string, resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return &perrors.APIError{
			Service:    service,
			StatusCode: statusOf(resp),
			Message:    rateErr.Message,
			RetryAfter: time.Until(rateErr.Rate.Reset.Time),
			Err:        perrors.ErrRateLimit,
		}
	}

	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &perrors.APIError{
			Service:    service,
			StatusCode: statusOf(resp),
			Message:    abuseErr.Message,
			RetryAfter: abuseErr.GetRetryAfter(),
			Err:        perrors.ErrRateLimit,
		}
	}

	var respErr *gogithub.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return perrors.FromStatus(service, respErr.Response.StatusCode, respErr.Message)
	}

	// No HTTP response at all: connection refused, reset, DNS.
	return &perrors.APIError{
		Service:    service,
		StatusCode: statusOf(resp),
		Message:    endpoint,
		Err:        fmt.Errorf("%w: %v", perrors.ErrUnavailable, err),
	}
}

func statusOf(resp *gogithub.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// statusLabel is the metrics label for an upstream call outcome.
func statusLabel(resp *gogithub.Response, err error) string {
	if code := statusOf(resp); code != 0 {
		return strconv.Itoa(code)
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
