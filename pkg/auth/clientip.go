package auth

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/platinummonkey/hrauth/pkg/contextkeys"
)

// TrustedProxies holds the networks whose forwarding headers are believed.
// The zero value and nil trust nobody.
type TrustedProxies struct {
	nets []netip.Prefix
}

// ParseTrustedProxies accepts addresses and CIDR blocks.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
			}
			t.nets = append(t.nets, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		t.nets = append(t.nets, netip.PrefixFrom(a, a.BitLen()))
	}
	return t, nil
}

// Trusts reports whether addr belongs to a trusted network.
func (t *TrustedProxies) Trusts(addr netip.Addr) bool {
	if t == nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.nets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the client address of r without a port. Forwarding
// headers count only when the direct peer is trusted. X-Forwarded-For is
// read from the right, skipping trusted hops, so a client cannot choose its
// own address by prepending entries.
func (t *TrustedProxies) Resolve(r *http.Request) string {
	client := hostOnly(r.RemoteAddr)
	peer, err := netip.ParseAddr(client)
	if err != nil || !t.Trusts(peer) {
		return client
	}

	if fwd := r.Header.Values("X-Forwarded-For"); len(fwd) > 0 {
		hops := strings.Split(strings.Join(fwd, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = hop.Unmap().String()
			if !t.Trusts(hop) {
				break
			}
		}
		return client
	}

	if real, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return real.Unmap().String()
	}
	return client
}

func hostOnly(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// ClientIP returns the client address resolved for r, falling back to the
// peer address when no resolver ran.
func ClientIP(r *http.Request) string {
	if ip, ok := contextkeys.Lookup[string](r.Context(), contextkeys.ClientIPKey); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}
