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

package service

import (
	"errors"
	"fmt"

	"dev.eqrx.net/wgup/internal/device"
	"dev.eqrx.net/wgup/internal/peer"
	"github.com/go-logr/logr"
)

// errVerify indicates that the device does not look like it was configured.
var errVerify = errors.New("verification failed")

// Show logs the state of all wireguard devices on this host.
func Show(log logr.Logger, devices *device.Client) error {
	names, err := devices.ListDeviceNames()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	if len(names) == 0 {
		log.Info("no wireguard devices")

		return nil
	}

	for _, name := range names {
		d, err := devices.GetDevice(name)
		if err != nil {
			return fmt.Errorf("get device: %w", err)
		}

		logDevice(log, d)
	}

	return nil
}

func logDevice(log logr.Logger, d device.Device) {
	log.Info("device", "name", d.Name(), "index", d.Index(), "public", d.PublicKey(),
		"port", d.ListenPort(), "flags", d.Flags(), "peers", len(d.Peers()))

	for _, p := range d.Peers() {
		logPeer(log.WithValues("iface", d.Name()), p)
	}
}

func logPeer(log logr.Logger, p peer.Peer) {
	keepalive, _ := p.Keepalive()

	allowed := make([]string, 0, len(p.AllowedIPs()))
	for _, a := range p.AllowedIPs() {
		allowed = append(allowed, a.String())
	}

	log.Info("peer", "public", p.PublicKey(), "endpoint", p.Endpoint(), "allowed", allowed,
		"handshake", p.LastHandshake(), "rx", p.RxBytes(), "tx", p.TxBytes(), "keepalive", keepalive)
}

// Verify reads the device of the service back and checks that the remote peer is configured on
// it exactly once.
func (s *Service) Verify(log logr.Logger) error {
	d, err := s.devices.GetDevice(s.conf.IfaceName)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	peers, err := peer.ByPublic(d.Peers())
	if err != nil {
		return fmt.Errorf("index peers: %w", err)
	}

	remote, ok := peers[s.conf.Peer.Public]
	if !ok {
		return fmt.Errorf("%w: peer %s not configured on %s", errVerify, s.conf.Peer.Public, d.Name())
	}

	logDevice(log, d)

	if len(peers) != 1 {
		return fmt.Errorf("%w: %s has %d peers", errVerify, d.Name(), len(peers))
	}

	log.V(1).Info("peer verified", "public", remote.PublicKey())

	return nil
}
