package matrix

import (
	"errors"
	"fmt"
	"net/http"
)

// RemoteError is a non-success response from the home server
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("home server returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request can succeed.
// Client errors are permanent, except for rate limiting.
func (e *RemoteError) Temporary() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// IsPermanent reports whether err is a RemoteError that retrying will not fix
func IsPermanent(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && !remoteErr.Temporary()
}
