package scanner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultConnectTimeout bounds a single connect attempt.
const DefaultConnectTimeout = time.Second

// Prober performs one connection attempt against one port and classifies it.
// Implementations must not return before the attempt has finished and must
// release any socket they opened.
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) Outcome
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context, host string, port int, timeout time.Duration) Outcome

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, host string, port int, timeout time.Duration) Outcome {
	return f(ctx, host, port, timeout)
}

// ContextDialer is satisfied by *net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPProber classifies ports with a full TCP three-way handshake.
//   - Open: handshake completed
//   - Timeout: no answer within the timeout (dropped by a firewall, host down)
//   - Closed: connection actively refused (RST received)
//
// Any other failure (DNS, unreachable network) is Closed unless ReportErrors
// is set, in which case it becomes Error with the failure text as reason.
type TCPProber struct {
	// Dialer overrides the default net.Dialer.
	Dialer ContextDialer
	// ReportErrors keeps unexpected failures apart from refusals.
	ReportErrors bool
	// Logger receives debug diagnostics. Nil disables them.
	Logger *slog.Logger
}

// Probe dials host:port once.
func (p TCPProber) Probe(ctx context.Context, host string, port int, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	// Keep-alive probes are pointless on a socket closed right after connect.
	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout, KeepAlive: -1}
	}

	// The derived context enforces the timeout even for dialers that ignore it.
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		// The scan was closed under us; the port state is unknown.
		if ctx.Err() != nil {
			return errorOutcome(port, "scan canceled")
		}
		outcome := Classify(port, err, p.ReportErrors)
		if outcome.Status == StatusClosed && !isConnectionRefused(err) {
			p.debug("unexpected dial error folded into closed", "address", address, "error", err)
		}
		return outcome
	}
	// Handshake completed. Release the socket on the way out.
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			p.debug("close failed", "address", address, "error", cerr)
		}
	}()

	return openOutcome(port)
}

func (p TCPProber) debug(msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.Debug(msg, args...)
	}
}

// Classify maps a dial error to an outcome. A nil error is Open.
func Classify(port int, err error, reportErrors bool) Outcome {
	switch {
	case err == nil:
		return openOutcome(port)
	case errors.Is(err, context.Canceled):
		// Aborted by Close, not answered by the host.
		return errorOutcome(port, "scan canceled")
	case isTimeout(err):
		// No SYN-ACK and no RST: filtered, or the host is down.
		return timeoutOutcome(port)
	case isConnectionRefused(err):
		// RST: the host is up and nothing listens.
		return closedOutcome(port)
	case reportErrors:
		return errorOutcome(port, err.Error())
	default:
		// DNS, unreachable network and the like.
		return closedOutcome(port)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectionRefused checks if the error is a connection refused error.
func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Windows reports WSAECONNREFUSED, which only shows up in the message.
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "actively refused")
}
