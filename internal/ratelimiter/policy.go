package ratelimiter

import "fmt"

// FailurePolicy decides what happens to a request whose check could not reach
// the counter store.
type FailurePolicy int

const (
	// FailClosed rejects the request.
	FailClosed FailurePolicy = iota
	// FailOpen admits the request without counting it.
	FailOpen
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "open"
	}
	return "closed"
}

// UnmarshalText accepts "open" or "closed".
func (p *FailurePolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*p = FailOpen
	case "closed", "":
		*p = FailClosed
	default:
		return fmt.Errorf("unknown rate limit failure policy %q (want open or closed)", text)
	}
	return nil
}
