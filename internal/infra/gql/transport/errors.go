package transport

import "fmt"

// ErrorKind identifies the failure mode of a transport attempt.
type ErrorKind int

const (
	// ErrNetwork covers connection refused, DNS and TLS failures, and any
	// other failure before an HTTP response arrived.
	ErrNetwork ErrorKind = iota

	// ErrTimeout means the enforced deadline expired and the call was
	// cancelled. No response was received.
	ErrTimeout

	// ErrHTTPStatus means the server answered with a non-2xx status.
	ErrHTTPStatus

	// ErrDecode means the response body could not be decoded.
	ErrDecode
)

// String returns the kind name for logging and metrics labels.
func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrHTTPStatus:
		return "http_status"
	case ErrDecode:
		return "decode"
	default:
		return "network"
	}
}

// Error is a typed transport failure. Status is set only for ErrHTTPStatus;
// Body holds a bounded response snippet and must never include credentials.
type Error struct {
	Kind   ErrorKind
	Status int
	Body   []byte
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrTimeout:
		return fmt.Sprintf("transport timeout: %v", e.Err)
	case ErrHTTPStatus:
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	case ErrDecode:
		return fmt.Sprintf("decode response: %v", e.Err)
	default:
		return fmt.Sprintf("network error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
