package external

import "fmt"

// FetchErrorKind classifies why a fetch failed.
type FetchErrorKind int

const (
	// KindTransport covers connection failures and timeouts.
	KindTransport FetchErrorKind = iota + 1
	// KindDecode means the response body was not the expected envelope.
	KindDecode
	// KindUpstreamRejected means the provider answered with a non-2xx status.
	KindUpstreamRejected
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindUpstreamRejected:
		return "upstream rejected"
	default:
		return "unknown"
	}
}

type FetchError struct {
	Kind   FetchErrorKind
	Status int    // set for KindUpstreamRejected
	Body   string // truncated response body, set for KindUpstreamRejected
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == KindUpstreamRejected {
		return fmt.Sprintf("ree %s: status %d: %s", e.Kind, e.Status, e.Body)
	}
	return fmt.Sprintf("ree %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
