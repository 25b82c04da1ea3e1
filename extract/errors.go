package extract

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	OperationIntraday  = "intraday_stock_serie"
	OperationSentiment = "news_sentiment"
)

// UpstreamAPIError is returned for non-2xx responses, provider error payloads
// and responses missing the expected key. Failures without an HTTP response carry 500.
type UpstreamAPIError struct {
	StatusCode int
	Message    string
	Operation  string
}

func (e *UpstreamAPIError) Error() string {
	return fmt.Sprintf("HTTP error %d occurred in %s: %s", e.StatusCode, e.Operation, e.Message)
}

func newUpstreamError(status int, operation, format string, args ...any) *UpstreamAPIError {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &UpstreamAPIError{
		StatusCode: status,
		Message:    fmt.Sprintf(format, args...),
		Operation:  operation,
	}
}

// AsUpstreamError unwraps err into an *UpstreamAPIError when it carries one.
func AsUpstreamError(err error) (*UpstreamAPIError, bool) {
	var apiErr *UpstreamAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
