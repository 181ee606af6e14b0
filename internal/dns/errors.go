package dns

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds shared by the provider client and the IP observer.
var (
	// ErrNetwork means the remote endpoint could not be reached or answered
	// with a non-success transport status.
	ErrNetwork = errors.New("network error")
	// ErrProtocol means the remote answered but the body did not have the
	// expected shape.
	ErrProtocol = errors.New("protocol error")
	// ErrRejected means the provider parsed the request and reported
	// success=false.
	ErrRejected = errors.New("rejected by provider")
)

// ProviderError describes a failed remote call.
type ProviderError struct {
	Op         string // "list", "create", "update", "lookup"
	Kind       error  // one of ErrNetwork, ErrProtocol, ErrRejected
	StatusCode int    // 0 when no response was received
	Messages   []string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
