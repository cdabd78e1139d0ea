// Package ssrfguard provides a net.Dialer that refuses to connect to
// non-globally-routable addresses, replacing the pattern of monkey-patching
// socket.getaddrinfo at process scope. The "allow local addresses" override
// is carried on a context.Context rather than goroutine-local state, so it
// can never leak into unrelated concurrent requests.
package ssrfguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

type contextKey int

const allowLocalKey contextKey = 0

// AllowLocal returns a context in which dials to non-global addresses are
// permitted. Intended for narrowly-scoped operations such as fetching a
// user's own site during local development.
func AllowLocal(ctx context.Context) context.Context {
	return context.WithValue(ctx, allowLocalKey, true)
}

func localAllowed(ctx context.Context) bool {
	v, _ := ctx.Value(allowLocalKey).(bool)
	return v
}

// ErrBlocked is wrapped into the error returned when a dial target resolves
// to a non-global address and no override is active.
type ErrBlocked struct {
	Address string
}

func (e *ErrBlocked) Error() string {
	return fmt.Sprintf("ssrfguard: refusing to connect to non-global address %s", e.Address)
}

// Guard builds dial functions that resolve the target host themselves and
// reject non-global addresses unless Force is true (a process-wide escape hatch, distinct
// from the context-scoped override, intended only for local development)
// or the dial's context carries AllowLocal.
type Guard struct {
	// Force disables the guard entirely, regardless of context. Wired from
	// config.Security.AllowPrivateNetworks.
	Force bool

	// OnBlocked, if set, is called once for every dial refused for
	// resolving to no globally-routable address. Wired to
	// metrics.Metrics.RecordSSRFBlocked by the caller that builds this
	// Guard, so the guard package itself never depends on metrics.
	OnBlocked func()
}

// DialContext returns the dial function an http.Transport expects,
// resolving addr and rejecting it (absent an override) before handing off
// to the standard dialer.
func (g *Guard) DialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("ssrfguard: no addresses found for %s", host)
		}

		allowed := g.Force || localAllowed(ctx)
		usable := ips
		if !allowed {
			usable = usable[:0]
			for _, ip := range ips {
				if isGlobal(ip) {
					usable = append(usable, ip)
				}
			}
			if len(usable) == 0 {
				if g.OnBlocked != nil {
					g.OnBlocked()
				}
				return nil, &ErrBlocked{Address: ips[0].String()}
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(usable[0].String(), port))
	}
}

// isGlobal reports whether ip is routable on the public internet: not
// loopback, link-local (unicast or multicast), private, multicast,
// unspecified, or otherwise reserved.
func isGlobal(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsPrivate(),
		addr.IsMulticast(),
		addr.IsUnspecified(),
		addr.IsInterfaceLocalMulticast():
		return false
	}
	for _, reserved := range []string{
		"0.0.0.0/8", "100.64.0.0/10", "192.0.0.0/24", "192.0.2.0/24",
		"198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24", "240.0.0.0/4",
		"2001:db8::/32",
	} {
		if netip.MustParsePrefix(reserved).Contains(addr) {
			return false
		}
	}
	return addr.IsGlobalUnicast()
}
