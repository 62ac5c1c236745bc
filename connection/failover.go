package connection

import (
	"fmt"
	"net"
	"net/netip"
)

// bindWithFailover binds a fresh binding to desired. When that fails and
// allowPortFailover is set it retries exactly once on an OS-assigned port of
// the same address. A failed attempt releases everything it opened.
func bindWithFailover(desired netip.AddrPort, allowPortFailover bool, newBinding func() binding, log Logger) (binding, net.Addr, error) {
	b := newBinding()
	bound, err := b.bind(desired)
	if err == nil {
		return b, bound, nil
	}

	if !allowPortFailover {
		msg := fmt.Sprintf("It was not possible to open port #%d on %s. This endpoint may not support listening or possibly try again using a different port.",
			desired.Port(), hostAddr(desired))
		logError(log, "%s", msg)
		return nil, nil, newCommsError("listen", hostPort(desired), fmt.Errorf("%w: %s: %w", ErrSetupShutdown, msg, err))
	}

	random := netip.AddrPortFrom(desired.Addr(), 0)
	b = newBinding()
	bound, retryErr := b.bind(random)
	if retryErr != nil {
		msg := fmt.Sprintf("It was not possible to open a random port on %s. This endpoint may not support listening or possibly try again using a different port.",
			hostAddr(desired))
		logError(log, "%s", msg)
		return nil, nil, newCommsError("listen", hostPort(random), fmt.Errorf("%w: %s: %w", ErrSetupShutdown, msg, retryErr))
	}

	logInfo(log, "Port #%d on %s was unavailable (%v), listening on %s instead", desired.Port(), hostAddr(desired), err, bound)
	return b, bound, nil
}

func hostAddr(ap netip.AddrPort) string {
	if !ap.Addr().IsValid() {
		return netip.IPv4Unspecified().String()
	}
	return ap.Addr().String()
}
