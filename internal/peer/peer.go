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

// Package peer models the remote peers of a wireguard device as the control plane sees them.
package peer

import (
	"errors"
	"fmt"
	"time"

	"dev.eqrx.net/wgup/internal/key"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// errMismatch indicates that the device reports peers in a way we can not represent.
var errMismatch = errors.New("peer mismatch")

// Peer is a remote identity of a wireguard device. Optional fields are only changed through
// setters which also set the matching flag.
type Peer struct {
	flags         Flags
	publicKey     key.Key
	presharedKey  key.Key
	endpoint      Endpoint
	lastHandshake time.Time
	rxBytes       uint64
	txBytes       uint64
	keepalive     uint16
	allowedIPs    []AllowedIP
}

// New creates a peer identified by public that is reachable at endpoint and may use the given
// allowed IPs. The allowed IPs replace whatever the device had configured for that peer.
func New(public key.Key, endpoint Endpoint, allowedIPs ...AllowedIP) Peer {
	return Peer{
		flags:      HasPublicKey | ReplaceAllowedIPs,
		publicKey:  public,
		endpoint:   endpoint,
		allowedIPs: append([]AllowedIP(nil), allowedIPs...),
	}
}

// SetPresharedKey sets the preshared key of p.
func (p *Peer) SetPresharedKey(k key.Key) {
	p.presharedKey = k
	p.flags |= HasPresharedKey
}

// SetKeepalive sets the persistent keepalive interval in seconds. 0 disables it.
func (p *Peer) SetKeepalive(seconds uint16) {
	p.keepalive = seconds
	p.flags |= HasPersistentKeepaliveInterval
}

// SetRemove marks p for removal from the device.
func (p *Peer) SetRemove() {
	p.flags |= RemoveMe
}

// AddAllowedIP appends a to the allowed IPs of p.
func (p *Peer) AddAllowedIP(a AllowedIP) {
	p.allowedIPs = append(p.allowedIPs, a)
}

// Flags returns the flag set of p.
func (p Peer) Flags() Flags { return p.flags }

// PublicKey returns the public key of p.
func (p Peer) PublicKey() key.Key { return p.publicKey }

// PresharedKey returns the preshared key and if it is set.
func (p Peer) PresharedKey() (key.Key, bool) { return p.presharedKey, p.flags.Has(HasPresharedKey) }

// Keepalive returns the persistent keepalive interval and if it is set.
func (p Peer) Keepalive() (time.Duration, bool) {
	return time.Duration(p.keepalive) * time.Second, p.flags.Has(HasPersistentKeepaliveInterval)
}

// Endpoint returns the endpoint of p.
func (p Peer) Endpoint() Endpoint { return p.endpoint }

// AllowedIPs returns a copy of the allowed IPs of p in order.
func (p Peer) AllowedIPs() []AllowedIP { return append([]AllowedIP(nil), p.allowedIPs...) }

// LastHandshake returns the time of the last handshake. It is only set for peers read from a device.
func (p Peer) LastHandshake() time.Time { return p.lastHandshake }

// RxBytes returns the number of bytes received from p.
func (p Peer) RxBytes() uint64 { return p.rxBytes }

// TxBytes returns the number of bytes sent to p.
func (p Peer) TxBytes() uint64 { return p.txBytes }

// FromWG converts a peer as reported by wgctrl. Flags are set for every optional field that
// carries a value.
func FromWG(wg wgtypes.Peer) (Peer, error) {
	p := Peer{
		flags:         HasPublicKey,
		publicKey:     key.FromWG(wg.PublicKey),
		endpoint:      EndpointFromUDP(wg.Endpoint),
		lastHandshake: wg.LastHandshakeTime,
		rxBytes:       uint64(wg.ReceiveBytes),
		txBytes:       uint64(wg.TransmitBytes),
		allowedIPs:    make([]AllowedIP, 0, len(wg.AllowedIPs)),
	}

	if psk := key.FromWG(wg.PresharedKey); !psk.IsZero() {
		p.SetPresharedKey(psk)
	}

	if wg.PersistentKeepaliveInterval > 0 {
		p.SetKeepalive(uint16(wg.PersistentKeepaliveInterval / time.Second))
	}

	for _, n := range wg.AllowedIPs {
		a, err := AllowedIPFromNet(n)
		if err != nil {
			return Peer{}, fmt.Errorf("peer %s: %w", p.publicKey, err)
		}

		p.allowedIPs = append(p.allowedIPs, a)
	}

	return p, nil
}

// ByPublic creates a mapping of the public key of a peer to the peer. It returns an error if
// multiple peers share the same public key.
func ByPublic(peers []Peer) (map[key.Key]Peer, error) {
	byPublic := make(map[key.Key]Peer, len(peers))

	for _, p := range peers {
		if _, ok := byPublic[p.publicKey]; ok {
			return nil, fmt.Errorf("%w: duplicate peer %s", errMismatch, p.publicKey)
		}

		byPublic[p.publicKey] = p
	}

	return byPublic, nil
}
