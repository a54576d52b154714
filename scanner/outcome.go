package scanner

import (
	"fmt"
)

// Status classifies the result of a single connect attempt.
type Status int

const (
	// StatusOpen means the TCP handshake completed.
	StatusOpen Status = iota
	// StatusClosed means the remote refused the connection, or another
	// I/O failure occurred while error reporting is disabled.
	StatusClosed
	// StatusTimeout means the connect attempt did not finish within the timeout.
	StatusTimeout
	// StatusError means the probe failed for a reason other than refusal or
	// timeout. Only produced when probe errors are reported or the scan was closed.
	StatusError
)

var statusNames = [...]string{
	StatusOpen:    "Open",
	StatusClosed:  "Closed",
	StatusTimeout: "Timeout",
	StatusError:   "Error",
}

// String returns the display name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name so JSON payloads stay readable.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText decodes a status name produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// Outcome is the classification of one probed port.
type Outcome struct {
	Port   int    `json:"port"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// IsOpen reports whether the port accepted the connection.
func (o Outcome) IsOpen() bool {
	return o.Status == StatusOpen
}

func openOutcome(port int) Outcome    { return Outcome{Port: port, Status: StatusOpen} }
func closedOutcome(port int) Outcome  { return Outcome{Port: port, Status: StatusClosed} }
func timeoutOutcome(port int) Outcome { return Outcome{Port: port, Status: StatusTimeout} }

func errorOutcome(port int, reason string) Outcome {
	return Outcome{Port: port, Status: StatusError, Reason: reason}
}
