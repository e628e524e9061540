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
	"errors"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// errNoPublicKey indicates that a peer can not be configured since it has no identity.
var errNoPublicKey = errors.New("peer has no public key")

// Config converts p into the wgctrl peer configuration. Only fields whose flag is set are carried
// over, everything else is left untouched by the device.
func (p Peer) Config() (wgtypes.PeerConfig, error) {
	if !p.flags.Has(HasPublicKey) {
		return wgtypes.PeerConfig{}, errNoPublicKey
	}

	cfg := wgtypes.PeerConfig{
		PublicKey:         p.publicKey.WG(),
		Remove:            p.flags.Has(RemoveMe),
		Endpoint:          p.endpoint.UDPAddr(),
		ReplaceAllowedIPs: p.flags.Has(ReplaceAllowedIPs),
		AllowedIPs:        make([]net.IPNet, 0, len(p.allowedIPs)),
	}

	if p.flags.Has(HasPresharedKey) {
		psk := p.presharedKey.WG()
		cfg.PresharedKey = &psk
	}

	if p.flags.Has(HasPersistentKeepaliveInterval) {
		interval := time.Duration(p.keepalive) * time.Second
		cfg.PersistentKeepaliveInterval = &interval
	}

	for _, a := range p.allowedIPs {
		cfg.AllowedIPs = append(cfg.AllowedIPs, a.IPNet())
	}

	return cfg, nil
}
