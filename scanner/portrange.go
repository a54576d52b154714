package scanner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MinPort is the lowest scannable TCP port.
	MinPort = 1
	// MaxPort is the highest scannable TCP port.
	MaxPort = 65535
)

// ErrInvalidPortRange is returned for malformed or out-of-bounds ranges.
var ErrInvalidPortRange = errors.New("invalid port range")

// FullRange covers every TCP port.
var FullRange = PortRange{Low: MinPort, High: MaxPort}

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// NewPortRange validates and returns the range [low, high].
func NewPortRange(low, high int) (PortRange, error) {
	r := PortRange{Low: low, High: high}
	if err := r.Validate(); err != nil {
		return PortRange{}, err
	}
	return r, nil
}

// Validate checks that both bounds are within 1-65535 and low <= high.
func (r PortRange) Validate() error {
	if r.Low < MinPort || r.Low > MaxPort || r.High < MinPort || r.High > MaxPort {
		return fmt.Errorf("%w: ports must be within %d-%d", ErrInvalidPortRange, MinPort, MaxPort)
	}
	if r.Low > r.High {
		return fmt.Errorf("%w: start port must be less than or equal to end port", ErrInvalidPortRange)
	}
	return nil
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	return r.High - r.Low + 1
}

// Contains reports whether port lies inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Low && port <= r.High
}

// String formats the range as "low-high".
func (r PortRange) String() string {
	return strconv.Itoa(r.Low) + "-" + strconv.Itoa(r.High)
}

// ParsePortRange parses "start-end" or a single port "n".
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, fmt.Errorf("%w: empty expression", ErrInvalidPortRange)
	}

	parts := strings.Split(s, "-")
	if len(parts) > 2 {
		return PortRange{}, fmt.Errorf("%w: use startPort-endPort", ErrInvalidPortRange)
	}

	low, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: start port is not a number: %s", ErrInvalidPortRange, parts[0])
	}
	high := low
	if len(parts) == 2 {
		high, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return PortRange{}, fmt.Errorf("%w: end port is not a number: %s", ErrInvalidPortRange, parts[1])
		}
	}

	return NewPortRange(low, high)
}
