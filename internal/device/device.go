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

// Package device models a local wireguard device and configures it through wgctrl.
package device

import (
	"errors"
	"fmt"
	"strings"

	"dev.eqrx.net/wgup/internal/key"
	"dev.eqrx.net/wgup/internal/peer"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// NameMax is the maximum length of an interface name without terminator.
const NameMax = unix.IFNAMSIZ - 1

// ErrInvalidName indicates that a string can not be used as interface name.
var ErrInvalidName = errors.New("invalid interface name")

// ValidateName checks that name fits the name field of the kernel ABI and is usable as link name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > NameMax:
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, name, NameMax)
	case name == "." || name == "..", strings.ContainsAny(name, "/: \t\n\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

// Device is the local identity of a wireguard interface together with its peers. Optional fields
// are only changed through setters which also set the matching flag.
type Device struct {
	name       string
	index      int
	flags      Flags
	publicKey  key.Key
	privateKey key.Key
	fwmark     uint32
	listenPort uint16
	peers      []peer.Peer
}

// New creates an empty device description for the interface name.
func New(name string) (Device, error) {
	if err := ValidateName(name); err != nil {
		return Device{}, err
	}

	return Device{name: name}, nil
}

// SetPrivateKey sets the private key of d. The public key is derived locally, the control plane
// derives its own and does not need it transmitted.
func (d *Device) SetPrivateKey(k key.Key) {
	d.privateKey = k
	d.publicKey = k.PublicKey()
	d.flags |= HasPrivateKey
}

// SetListenPort sets the UDP port d listens on. 0 lets the kernel pick one.
func (d *Device) SetListenPort(port uint16) {
	d.listenPort = port
	d.flags |= HasListenPort
}

// SetFirewallMark sets the mark applied to outgoing packets of d. 0 removes it.
func (d *Device) SetFirewallMark(mark uint32) {
	d.fwmark = mark
	d.flags |= HasFwmark
}

// ReplacePeers makes peers the complete peer list of d. Peers the device has but that are not
// given are removed when d is applied.
func (d *Device) ReplacePeers(peers ...peer.Peer) {
	d.peers = append([]peer.Peer(nil), peers...)
	d.flags |= ReplacePeers
}

// AddPeer appends p to the peers of d.
func (d *Device) AddPeer(p peer.Peer) {
	d.peers = append(d.peers, p)
}

// Name returns the interface name of d.
func (d Device) Name() string { return d.name }

// Index returns the kernel interface index of d or 0 if unknown.
func (d Device) Index() int { return d.index }

// Flags returns the flag set of d.
func (d Device) Flags() Flags { return d.flags }

// PublicKey returns the public key of d.
func (d Device) PublicKey() key.Key { return d.publicKey }

// PrivateKey returns the private key of d.
func (d Device) PrivateKey() key.Key { return d.privateKey }

// FirewallMark returns the firewall mark of d.
func (d Device) FirewallMark() uint32 { return d.fwmark }

// ListenPort returns the listen port of d.
func (d Device) ListenPort() uint16 { return d.listenPort }

// Peers returns a copy of the peers of d in order.
func (d Device) Peers() []peer.Peer { return append([]peer.Peer(nil), d.peers...) }

// Config converts d into the wgctrl device configuration. Only fields whose flag is set are
// carried over.
func (d Device) Config() (wgtypes.Config, error) {
	cfg := wgtypes.Config{
		ReplacePeers: d.flags.Has(ReplacePeers),
		Peers:        make([]wgtypes.PeerConfig, 0, len(d.peers)),
	}

	if d.flags.Has(HasPrivateKey) {
		private := d.privateKey.WG()
		cfg.PrivateKey = &private
	}

	if d.flags.Has(HasListenPort) {
		port := int(d.listenPort)
		cfg.ListenPort = &port
	}

	if d.flags.Has(HasFwmark) {
		mark := int(d.fwmark)
		cfg.FirewallMark = &mark
	}

	for _, p := range d.peers {
		peerCfg, err := p.Config()
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("device %s: %w", d.name, err)
		}

		cfg.Peers = append(cfg.Peers, peerCfg)
	}

	return cfg, nil
}

// FromWG converts a device as reported by wgctrl. Flags are set for every optional field that
// carries a value. An error is returned if the device reports the same peer twice.
func FromWG(wg *wgtypes.Device) (Device, error) {
	d := Device{
		name:       wg.Name,
		publicKey:  key.FromWG(wg.PublicKey),
		privateKey: key.FromWG(wg.PrivateKey),
		fwmark:     uint32(wg.FirewallMark),
		listenPort: uint16(wg.ListenPort),
		peers:      make([]peer.Peer, 0, len(wg.Peers)),
	}

	if !d.privateKey.IsZero() {
		d.flags |= HasPrivateKey
	}

	if !d.publicKey.IsZero() {
		d.flags |= HasPublicKey
	}

	if d.listenPort != 0 {
		d.flags |= HasListenPort
	}

	if d.fwmark != 0 {
		d.flags |= HasFwmark
	}

	for _, wgPeer := range wg.Peers {
		p, err := peer.FromWG(wgPeer)
		if err != nil {
			return Device{}, fmt.Errorf("device %s: %w", wg.Name, err)
		}

		d.peers = append(d.peers, p)
	}

	if _, err := peer.ByPublic(d.peers); err != nil {
		return Device{}, fmt.Errorf("device %s: %w", wg.Name, err)
	}

	return d, nil
}
