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
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/sys/unix"
)

// AllowedIPLen is the size of an encoded allowed IP: family, padding, address union and cidr.
const AllowedIPLen = 21

// ErrInvalidAllowedIP indicates that a textual allowed IP is not in the form address/prefix.
var ErrInvalidAllowedIP = errors.New("invalid allowed ip")

// AllowedIP is an IP range a peer may send from and receive for.
type AllowedIP struct {
	prefix netip.Prefix
}

// ParseAllowedIP parses s in the form address/prefix. The prefix must be within 0-32 for IPv4
// and 0-128 for IPv6. Host bits are kept.
func ParseAllowedIP(s string) (AllowedIP, error) {
	if !strings.Contains(s, "/") {
		return AllowedIP{}, fmt.Errorf("%w: %q has no prefix length", ErrInvalidAllowedIP, s)
	}

	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return AllowedIP{}, fmt.Errorf("%w: %v", ErrInvalidAllowedIP, err)
	}

	return AllowedIP{prefix}, nil
}

// HostAllowedIP creates the single address range (/32 or /128) of addr.
func HostAllowedIP(addr netip.Addr) AllowedIP {
	addr = addr.Unmap()

	return AllowedIP{netip.PrefixFrom(addr, addr.BitLen())}
}

// AllowedIPFromNet converts an allowed IP as reported by wgctrl.
func AllowedIPFromNet(n net.IPNet) (AllowedIP, error) {
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return AllowedIP{}, fmt.Errorf("%w: address %v", ErrInvalidAllowedIP, n.IP)
	}

	ones, bits := n.Mask.Size()
	if n.IP.To4() != nil && bits == net.IPv4len*8 {
		addr = addr.Unmap()
	}

	prefix := netip.PrefixFrom(addr, ones)
	if !prefix.IsValid() {
		return AllowedIP{}, fmt.Errorf("%w: %s", ErrInvalidAllowedIP, n.String())
	}

	return AllowedIP{prefix}, nil
}

// Family returns AF_INET or AF_INET6.
func (a AllowedIP) Family() uint16 {
	if a.prefix.Addr().Is4() {
		return unix.AF_INET
	}

	return unix.AF_INET6
}

// Prefix returns the range as netip.Prefix.
func (a AllowedIP) Prefix() netip.Prefix {
	return a.prefix
}

// IPNet converts a for wgctrl.
func (a AllowedIP) IPNet() net.IPNet {
	addr := a.prefix.Addr()

	return net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(a.prefix.Bits(), addr.BitLen())}
}

func (a AllowedIP) String() string {
	return a.prefix.String()
}

// MarshalBinary encodes a in the layout of the kernel ABI allowed IP record: family in host byte
// order, two bytes padding, a 16 byte address union and the cidr byte.
func (a AllowedIP) MarshalBinary() ([]byte, error) {
	if !a.prefix.IsValid() {
		return nil, fmt.Errorf("%w: unset", ErrInvalidAllowedIP)
	}

	buf := make([]byte, AllowedIPLen)
	binary.NativeEndian.PutUint16(buf[0:2], a.Family())
	copy(buf[4:20], a.prefix.Addr().AsSlice())
	buf[20] = byte(a.prefix.Bits())

	return buf, nil
}

// UnmarshalBinary decodes the record produced by MarshalBinary.
func (a *AllowedIP) UnmarshalBinary(data []byte) error {
	if len(data) < AllowedIPLen {
		return fmt.Errorf("%w: record of %d bytes", ErrInvalidAllowedIP, len(data))
	}

	var addr netip.Addr

	switch family := binary.NativeEndian.Uint16(data[0:2]); family {
	case unix.AF_INET:
		addr = netip.AddrFrom4([4]byte(data[4:8]))
	case unix.AF_INET6:
		addr = netip.AddrFrom16([16]byte(data[4:20]))
	default:
		return fmt.Errorf("%w: address family %d", ErrInvalidAllowedIP, family)
	}

	prefix := netip.PrefixFrom(addr, int(data[20]))
	if !prefix.IsValid() {
		return fmt.Errorf("%w: cidr %d for %s", ErrInvalidAllowedIP, data[20], addr)
	}

	a.prefix = prefix

	return nil
}
