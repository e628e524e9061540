// Copyright (C) 2022 Alexander Sowitzki
//
// This program is free software: you can redistribute it and/or modify it under the terms of the
// GNU Affero General Public License as published by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Affero General Public License for more
// details.
//
// You should have received a copy of the GNU Affero General Public License along with this program.
// If not, see <https://www.gnu.org/licenses/>.

package peer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// SockaddrLen is the size of the sockaddr union the kernel uses for peer endpoints.
const SockaddrLen = unix.SizeofSockaddrInet6

// ErrInvalidEndpoint indicates that a textual endpoint is neither ipv4:port nor [ipv6]:port.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// DNSResolver is responsible for resolving a DNS record.
type DNSResolver interface {
	LookupIP(context.Context, string, string) ([]net.IP, error)
}

// Endpoint is the UDP address of a peer. The zero value is the unset (generic) endpoint,
// otherwise it is either an IPv4 or an IPv6 socket address.
type Endpoint struct {
	addr netip.AddrPort
}

// EndpointFrom creates an Endpoint from addr. IPv4-mapped IPv6 addresses are unmapped.
func EndpointFrom(addr netip.AddrPort) Endpoint {
	if !addr.IsValid() {
		return Endpoint{}
	}

	return Endpoint{netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())}
}

// ParseEndpoint parses s in the form ipv4:port or [ipv6]:port.
func ParseEndpoint(s string) (Endpoint, error) {
	addr, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	return Endpoint{addr}, nil
}

// ResolveEndpoint parses s like ParseEndpoint but also accepts a DNS name as host. Names are
// resolved with res and the first returned address is used.
func ResolveEndpoint(ctx context.Context, res DNSResolver, s string) (Endpoint, error) {
	if e, err := ParseEndpoint(s); err == nil {
		return e, nil
	}

	host, rawPort, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	port, err := strconv.ParseUint(rawPort, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q: %v", ErrInvalidEndpoint, rawPort, err)
	}

	ips, err := res.LookupIP(ctx, "ip", host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip); ok {
			return EndpointFrom(netip.AddrPortFrom(addr, uint16(port))), nil
		}
	}

	return Endpoint{}, fmt.Errorf("%w: %s resolves to no address", ErrInvalidEndpoint, host)
}

// EndpointFromUDP converts an endpoint as reported by wgctrl. nil yields the unset endpoint.
func EndpointFromUDP(addr *net.UDPAddr) Endpoint {
	if addr == nil {
		return Endpoint{}
	}

	return EndpointFrom(addr.AddrPort())
}

// IsValid reports if e is set.
func (e Endpoint) IsValid() bool {
	return e.addr.IsValid()
}

// Family returns the address family code of e: AF_INET, AF_INET6 or AF_UNSPEC if unset.
func (e Endpoint) Family() uint16 {
	switch {
	case !e.addr.IsValid():
		return unix.AF_UNSPEC
	case e.addr.Addr().Is4():
		return unix.AF_INET
	default:
		return unix.AF_INET6
	}
}

// AddrPort returns the address and port of e.
func (e Endpoint) AddrPort() netip.AddrPort {
	return e.addr
}

// Port returns the port of e in host byte order.
func (e Endpoint) Port() uint16 {
	return e.addr.Port()
}

// UDPAddr converts e for wgctrl. nil is returned if e is unset.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	if !e.addr.IsValid() {
		return nil
	}

	return net.UDPAddrFromAddrPort(e.addr)
}

func (e Endpoint) String() string {
	if !e.addr.IsValid() {
		return ""
	}

	return e.addr.String()
}

// MarshalBinary encodes e as the sockaddr union of the kernel ABI: family in host byte order,
// port in network byte order, followed by the address bytes. The result is always SockaddrLen long.
func (e Endpoint) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SockaddrLen)

	binary.NativeEndian.PutUint16(buf[0:2], e.Family())

	switch e.Family() {
	case unix.AF_INET:
		binary.BigEndian.PutUint16(buf[2:4], e.addr.Port())
		a := e.addr.Addr().As4()
		copy(buf[4:8], a[:])
	case unix.AF_INET6:
		binary.BigEndian.PutUint16(buf[2:4], e.addr.Port())
		// buf[4:8] is the flow info and stays zero.
		a := e.addr.Addr().As16()
		copy(buf[8:24], a[:])
		// Zones are not carried, scope id buf[24:28] stays zero.
	}

	return buf, nil
}

// UnmarshalBinary decodes the sockaddr union produced by MarshalBinary.
func (e *Endpoint) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: sockaddr of %d bytes", ErrInvalidEndpoint, len(data))
	}

	switch family := binary.NativeEndian.Uint16(data[0:2]); family {
	case unix.AF_UNSPEC:
		*e = Endpoint{}
	case unix.AF_INET:
		if len(data) < unix.SizeofSockaddrInet4 {
			return fmt.Errorf("%w: short sockaddr_in", ErrInvalidEndpoint)
		}

		addr := netip.AddrFrom4([4]byte(data[4:8]))
		*e = Endpoint{netip.AddrPortFrom(addr, binary.BigEndian.Uint16(data[2:4]))}
	case unix.AF_INET6:
		if len(data) < unix.SizeofSockaddrInet6 {
			return fmt.Errorf("%w: short sockaddr_in6", ErrInvalidEndpoint)
		}

		addr := netip.AddrFrom16([16]byte(data[8:24]))
		*e = Endpoint{netip.AddrPortFrom(addr, binary.BigEndian.Uint16(data[2:4]))}
	default:
		return fmt.Errorf("%w: address family %d", ErrInvalidEndpoint, family)
	}

	return nil
}
