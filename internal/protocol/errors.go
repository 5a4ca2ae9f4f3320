package protocol

import (
	"errors"
	"fmt"
)

// TransportError reports a wire-level failure below the JSON-RPC layer:
// connect/response timeouts, stream parse failures, broken connections.
type TransportError struct {
	Op      string // "connect", "post", "await", "decode"
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport %s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}
