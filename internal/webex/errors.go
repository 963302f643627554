package webex

import "fmt"

// Vendor exception codes with local meaning. Everything else propagates
// unchanged inside a ServiceError.
const (
	// ExceptionNoRecordFound means the query matched nothing (e.g. no open
	// sessions). Treated as an empty success, not a failure.
	ExceptionNoRecordFound = "000015"
	// ExceptionInvalidLogon means the per-user credential is stale. Triggers
	// a single password refresh and retry.
	ExceptionInvalidLogon = "030002"
	// ExceptionUserExists means the remote username is already taken.
	ExceptionUserExists = "030004"
)

// TransportError is a network, TLS or timeout failure talking to the vendor
// endpoint. It is always surfaced, never swallowed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("webex transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError is a structured failure returned by the vendor envelope.
type ServiceError struct {
	Reason      string
	ExceptionID string
}

func (e *ServiceError) Error() string {
	if e.ExceptionID != "" {
		return fmt.Sprintf("webex service error %s: %s", e.ExceptionID, e.Reason)
	}
	return fmt.Sprintf("webex service error: %s", e.Reason)
}

// DownloadError is an artifact fetch failure after a successful service call.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("recording download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ConsistencyError means a required identifier is missing for the requested
// operation, e.g. querying a meeting that was never created remotely.
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string { return "webex: " + e.Msg }
