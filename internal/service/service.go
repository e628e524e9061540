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

// Package service bundles all the other packages.
package service

import (
	"context"
	"errors"
	"fmt"

	"dev.eqrx.net/wgup"
	"dev.eqrx.net/wgup/internal/device"
	"dev.eqrx.net/wgup/internal/key"
	"dev.eqrx.net/wgup/internal/netlink"
	"dev.eqrx.net/wgup/internal/peer"
	"github.com/go-logr/logr"
)

// Service is a helper struct that bundles all the common handles.
type Service struct {
	// resolver is the DNS resolver used for endpoints given by name.
	resolver peer.DNSResolver
	// conf contains the configuration of this node.
	conf wgup.Configuration
	// links creates and activates the interface.
	links *netlink.Manager
	// devices configures the wireguard side of the interface.
	devices *device.Client
}

// New creates a new service instance with the given handles.
func New(resolver peer.DNSResolver, conf wgup.Configuration, links *netlink.Manager, devices *device.Client) *Service {
	return &Service{resolver, conf, links, devices}
}

// Up provisions the interface and returns the state it reached.
//
// The interface is created first. If that fails nothing else is attempted since every other step
// needs the interface. Configuring the device, assigning the address and activating the link are
// then each tried once and report their own outcome; all failures are returned together.
func (s *Service) Up(ctx context.Context, log logr.Logger) (netlink.State, error) {
	name := s.conf.IfaceName
	log = log.WithValues("iface", name)

	if err := s.links.Create(log, name); err != nil {
		return netlink.Absent, fmt.Errorf("create interface: %w", err)
	}

	log.Info("interface present")

	var errs []error

	if err := s.configure(ctx, log); err != nil {
		log.Error(err, "configure device failed")
		errs = append(errs, fmt.Errorf("configure device: %w", err))
	} else {
		log.Info("device configured")
	}

	if err := ctx.Err(); err != nil {
		return netlink.Created, errors.Join(append(errs, err)...)
	}

	state := netlink.Created

	if err := s.links.AssignAddress(name, s.conf.Address); err != nil {
		log.Error(err, "assign address failed", "address", s.conf.Address)
		errs = append(errs, fmt.Errorf("assign address: %w", err))
	} else {
		log.Info("address assigned", "address", s.conf.Address)

		state = netlink.Addressed
	}

	if err := ctx.Err(); err != nil {
		return state, errors.Join(append(errs, err)...)
	}

	if err := s.links.Activate(name); err != nil {
		log.Error(err, "activate interface failed")
		errs = append(errs, fmt.Errorf("activate interface: %w", err))
	} else {
		log.Info("interface up")

		if state == netlink.Addressed && len(errs) == 0 {
			state = netlink.Active
		}
	}

	return state, errors.Join(errs...)
}

// Down removes the interface together with its wireguard configuration.
func (s *Service) Down(log logr.Logger) error {
	if err := s.links.Delete(log, s.conf.IfaceName); err != nil {
		return fmt.Errorf("delete interface: %w", err)
	}

	log.Info("interface removed", "iface", s.conf.IfaceName)

	return nil
}

// configure pushes the local identity and the remote peer into the device.
func (s *Service) configure(ctx context.Context, log logr.Logger) error {
	private, err := s.privateKey(log)
	if err != nil {
		return err
	}

	remote, err := s.remote(ctx)
	if err != nil {
		return err
	}

	log.V(1).Info("configuring device", "public", private.PublicKey(), "peer", remote.PublicKey(),
		"endpoint", remote.Endpoint(), "flags", remote.Flags())

	return s.devices.UpdateDevice(s.conf.IfaceName, private, s.conf.ListenPort, remote)
}

// privateKey returns the configured private key. If there is none it is loaded from or generated
// into the key file. Without key file a new one is generated for this run.
func (s *Service) privateKey(log logr.Logger) (key.Key, error) {
	if !s.conf.PrivateKey.IsZero() {
		return s.conf.PrivateKey, nil
	}

	var (
		private   key.Key
		generated = true
		err       error
	)

	if s.conf.KeyFile != "" {
		private, generated, err = key.LoadOrGenerate(s.conf.KeyFile)
	} else {
		private, err = key.Generate()
	}

	if err != nil {
		return key.Key{}, err
	}

	if generated {
		log.Info("generated private key", "public", private.PublicKey(), "keyfile", s.conf.KeyFile)
	}

	return private, nil
}

func (s *Service) remote(ctx context.Context) (peer.Peer, error) {
	endpoint, err := peer.ResolveEndpoint(ctx, s.resolver, s.conf.Peer.Endpoint)
	if err != nil {
		return peer.Peer{}, err
	}

	remote := peer.New(s.conf.Peer.Public, endpoint, peer.HostAllowedIP(s.conf.Peer.Address))

	if !s.conf.Peer.PresharedKey.IsZero() {
		remote.SetPresharedKey(s.conf.Peer.PresharedKey)
	}

	if s.conf.Peer.Keepalive != 0 {
		remote.SetKeepalive(s.conf.Peer.Keepalive)
	}

	return remote, nil
}
