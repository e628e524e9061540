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

// Package netlink manages the lifecycle of the wireguard link through the generic linux netlink.
package netlink

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/go-logr/logr"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// LinkType is the netlink link kind of wireguard interfaces.
const LinkType = "wireguard"

var (
	// ErrInterfaceNotFound indicates that no link with the requested name exists.
	ErrInterfaceNotFound = errors.New("interface not found")
	// ErrForeignLink indicates that the requested name is taken by a link that is no wireguard link.
	ErrForeignLink = errors.New("interface is no wireguard link")
)

// CallError is returned when the kernel rejects a link request. Code is the raw errno reported
// for it or -1 if there was none.
type CallError struct {
	Op   string
	Code int
	Err  error
}

func newCallError(op string, err error) *CallError {
	code := -1

	var errno unix.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}

	return &CallError{op, code, err}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: link call failed with code %d: %v", e.Op, e.Code, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Handle is a netlink session. *netlink.Handle implements it.
type Handle interface {
	LinkAdd(netlink.Link) error
	LinkDel(netlink.Link) error
	LinkByName(string) (netlink.Link, error)
	LinkSetUp(netlink.Link) error
	AddrAdd(netlink.Link, *netlink.Addr) error
	Delete()
}

// Opener opens a new netlink session.
type Opener func() (Handle, error)

// Open opens a netlink session in the current network namespace.
func Open() (Handle, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, err
	}

	return h, nil
}

// Manager creates, addresses and activates wireguard links. Each call opens its own session,
// issues one request and closes the session again. Nothing is retried.
type Manager struct {
	open Opener
}

// NewManager creates a new manager that opens sessions with open.
func NewManager(open Opener) *Manager {
	return &Manager{open}
}

func (m *Manager) session(call func(Handle) error) error {
	h, err := m.open()
	if err != nil {
		return newCallError("open netlink", err)
	}
	defer h.Delete()

	return call(h)
}

// Create adds a wireguard link called name. An already existing wireguard link is not an error so
// setup can be run again against a provisioned host. ErrForeignLink is returned if the name belongs
// to a link of another type.
func (m *Manager) Create(log logr.Logger, name string) error {
	return m.session(func(h Handle) error {
		link := &netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Name: name}, LinkType: LinkType}

		err := h.LinkAdd(link)

		switch {
		case errors.Is(err, unix.EEXIST):
			existing, err := linkByName(h, name)
			if err != nil {
				return err
			}

			if kind := existing.Type(); kind != LinkType {
				log.Info("interface already exists with another type", "name", name, "type", kind)

				return fmt.Errorf("%w: %s has type %s", ErrForeignLink, name, kind)
			}

			log.Info("interface already exists", "name", name)

			return nil
		case err != nil:
			return newCallError("add link "+name, err)
		}

		return nil
	})
}

// AssignAddress adds prefix to the link name. The host bits of prefix are the local address.
// ErrInterfaceNotFound is returned if there is no such link.
func (m *Manager) AssignAddress(name string, prefix netip.Prefix) error {
	return m.session(func(h Handle) error {
		link, err := linkByName(h, name)
		if err != nil {
			return err
		}

		if err := h.AddrAdd(link, &netlink.Addr{IPNet: ipNet(prefix)}); err != nil {
			return newCallError(fmt.Sprintf("add address %s to %s", prefix, name), err)
		}

		return nil
	})
}

// Activate sets the link name administratively up. ErrInterfaceNotFound is returned if there is
// no such link.
func (m *Manager) Activate(name string) error {
	return m.session(func(h Handle) error {
		link, err := linkByName(h, name)
		if err != nil {
			return err
		}

		if err := h.LinkSetUp(link); err != nil {
			return newCallError("set link up "+name, err)
		}

		return nil
	})
}

// Delete removes the link name. A missing link is not an error.
func (m *Manager) Delete(log logr.Logger, name string) error {
	return m.session(func(h Handle) error {
		link, err := linkByName(h, name)

		switch {
		case errors.Is(err, ErrInterfaceNotFound):
			log.Info("interface already absent", "name", name)

			return nil
		case err != nil:
			return err
		}

		if err := h.LinkDel(link); err != nil {
			return newCallError("delete link "+name, err)
		}

		return nil
	})
}

func linkByName(h Handle, name string) (netlink.Link, error) {
	link, err := h.LinkByName(name)

	var notFound netlink.LinkNotFoundError

	switch {
	case errors.As(err, &notFound), errors.Is(err, unix.ENODEV):
		return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	case err != nil:
		return nil, newCallError("get link "+name, err)
	}

	return link, nil
}

func ipNet(prefix netip.Prefix) *net.IPNet {
	addr := prefix.Addr()

	return &net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(prefix.Bits(), addr.BitLen())}
}
