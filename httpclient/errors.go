package httpclient

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an error response body is retained.
const maxErrorBody = 4096

// StatusError is returned when the server answered with a non-2xx status
// that was not (or could no longer be) retried. Callers distinguish it from
// transport failures with errors.As.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
