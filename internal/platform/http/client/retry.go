package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/cenkalti/backoff/v5"
)

var errRetryableStatus = errors.New("retryable status")

type reply struct {
	body   []byte
	status int
}

// retryable reports whether a failed GET may succeed on a second try.
// Policy rejections never change between attempts.
func retryable(err error) bool {
	return !IsSSRFError(err) && !IsRedirectError(err) &&
		!errors.Is(err, ErrInvalidURL) && !errors.Is(err, ErrResponseTooLarge) &&
		!errors.Is(err, context.Canceled)
}

func (c *Client) withRetry(ctx context.Context, call func() ([]byte, int, error)) ([]byte, int, error) {
	if c.cfg.GetRetries == 0 {
		return call()
	}

	var last reply
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBase
	eb.MaxInterval = 4 * c.retryBase

	_, err := backoff.Retry(ctx, func() (reply, error) {
		body, status, err := call()
		last = reply{body: body, status: status}
		switch {
		case err != nil && !retryable(err):
			return last, backoff.Permanent(err)
		case err != nil:
			return last, err
		case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
			return last, errRetryableStatus
		}
		return last, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(c.cfg.GetRetries)+1))

	if errors.Is(err, errRetryableStatus) {
		// Out of attempts: hand the last gateway error to the caller as a status.
		return last.body, last.status, nil
	}
	if err != nil {
		return nil, last.status, err
	}
	return last.body, last.status, nil
}
