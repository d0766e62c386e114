package fieldservice

import "errors"

// Sentinel errors surfaced by the client. Callers branch with [errors.Is].
var (
	// ErrNotFound reports that the downstream backend has no record of the
	// requested job. The reconciler uses it to trigger recreation.
	ErrNotFound = errors.New("fieldservice: not found")

	// ErrRateLimited reports a throttling response (HTTP 429). The limiter
	// retries on it; once the budget is exhausted it is returned as-is.
	ErrRateLimited = errors.New("fieldservice: rate limited")

	// ErrMalformedResponse reports that a create-job response carried no
	// extractable job id in any known shape.
	ErrMalformedResponse = errors.New("fieldservice: malformed response")
)
