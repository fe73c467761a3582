package control

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"
)

// PortProvider supplies candidate ports to probe when reconnecting.
type PortProvider interface {
	Ports(current int) []int
}

// PortProviderFunc adapts a function to PortProvider.
type PortProviderFunc func(current int) []int

func (f PortProviderFunc) Ports(current int) []int { return f(current) }

// StaticPorts always offers the same list.
type StaticPorts []int

func (p StaticPorts) Ports(int) []int { return p }

// AdjacentPorts offers current+1 .. current+n.
type AdjacentPorts int

func (n AdjacentPorts) Ports(current int) []int {
	if current <= 0 {
		return nil
	}
	ports := make([]int, 0, int(n))
	for i := 1; i <= int(n); i++ {
		if p := current + i; p <= 65535 {
			ports = append(ports, p)
		}
	}
	return ports
}

// DefaultPortProviders is used when ClientOptions.PortProviders is nil.
func DefaultPortProviders() []PortProvider {
	return []PortProvider{StaticPorts{8765, 8080, 3000}, AdjacentPorts(5)}
}

// candidatePorts merges provider output, dropping the current port and duplicates.
func candidatePorts(providers []PortProvider, current int) []int {
	seen := map[int]bool{current: true}
	var ports []int
	for _, p := range providers {
		for _, port := range p.Ports(current) {
			if port <= 0 || port > 65535 || seen[port] {
				continue
			}
			seen[port] = true
			ports = append(ports, port)
		}
	}
	return ports
}

// probePort reports whether a TCP connection to host:port succeeds within timeout.
func probePort(ctx context.Context, host string, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// urlPort returns the explicit or scheme-default port of u.
func urlPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
	}
	switch u.Scheme {
	case "wss", "https":
		return 443
	default:
		return 80
	}
}

// withPort returns a copy of u pointing at port.
func withPort(u *url.URL, port int) *url.URL {
	next := *u
	next.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	return &next
}
