// Package hostblock rejects page URLs whose host matches an operator supplied
// deny list. Fetchers apply it to every hop: the requested URL, each redirect
// target and the address a host name resolves to.
package hostblock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"

	whatwg "github.com/nlnwa/whatwg-url/url"
)

// ErrBlocked is wrapped by every refusal to contact a blocked host.
var ErrBlocked = errors.New("host is blocked")

// Blocklist matches hosts against exact names, "*.suffix" wildcards and IP
// prefixes. A nil Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
	prefixes []netip.Prefix
	lookup   func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// New compiles patterns. Accepted forms are "shop.example", "*.example" or
// ".example", a bare IP, and a CIDR such as "10.0.0.0/8". It returns nil when
// no usable pattern is given.
func New(patterns []string) *Blocklist {
	b := &Blocklist{
		exact:  make(map[string]struct{}),
		lookup: net.DefaultResolver.LookupNetIP,
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(value); err == nil {
			b.prefixes = append(b.prefixes, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(value); err == nil {
			b.prefixes = append(b.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 && len(b.prefixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// HostBlocked reports whether host matches the list.
func (b *Blocklist) HostBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return false
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return b.AddrBlocked(addr)
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AddrBlocked reports whether addr falls in a blocked prefix.
func (b *Blocklist) AddrBlocked(addr netip.Addr) bool {
	if b == nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range b.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ResolvesBlocked reports whether host matches the list by name or resolves
// to a blocked address. Lookup failures are not blocked; the fetch fails on
// its own.
func (b *Blocklist) ResolvesBlocked(ctx context.Context, host string) bool {
	if b == nil {
		return false
	}
	if b.HostBlocked(host) {
		return true
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if len(b.prefixes) == 0 || host == "" {
		return false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return false
	}
	addrs, err := b.lookup(ctx, "ip", host)
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if b.AddrBlocked(addr) {
			return true
		}
	}
	return false
}

// DialControl has the net.Dialer Control signature. It refuses connections to
// blocked addresses after name resolution, so a host name pointing into a
// blocked range is caught as well.
func (b *Blocklist) DialControl(_, address string, _ syscall.RawConn) error {
	if b == nil {
		return nil
	}
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil
	}
	if b.AddrBlocked(addrPort.Addr()) {
		return fmt.Errorf("dial %s: %w", address, ErrBlocked)
	}
	return nil
}

// Blocked reports whether the host of pageURL matches the list. Unparsable
// URLs are not blocked here; callers validate them separately.
func (b *Blocklist) Blocked(pageURL string) bool {
	if b == nil {
		return false
	}
	u, err := whatwg.Parse(pageURL)
	if err != nil {
		return false
	}
	return b.HostBlocked(u.Hostname())
}
