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

// Package config reads the configuration of wgup from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"dev.eqrx.net/wgup"
	"dev.eqrx.net/wgup/internal/device"
	"dev.eqrx.net/wgup/internal/key"
	"github.com/joho/godotenv"
)

// Environment variables wgup reads.
const (
	EnvIfaceName    = "IFCNAME"
	EnvAddress      = "ADDR"
	EnvPrefix       = "CIDR"
	EnvPrivateKey   = "CLIENTPRIV"
	EnvKeyFile      = "KEYFILE"
	EnvListenPort   = "LISTENPORT"
	EnvPeerPublic   = "SERVERPUB"
	EnvPeerEndpoint = "SERVERENDPOINT"
	EnvPeerAddress  = "SERVERIP"
	EnvPresharedKey = "PRESHAREDKEY"
	EnvKeepalive    = "KEEPALIVE"
)

var (
	// ErrMissing indicates that a required variable is not set.
	ErrMissing = errors.New("missing required variable")
	// ErrInvalid indicates that a variable is set to a value that can not be used.
	ErrInvalid = errors.New("invalid variable")
)

// LoadEnvFile adds the variables of the dotenv file at path to the environment. Variables that
// are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

// IfaceName returns the configured interface name or the default one.
func IfaceName() (string, error) {
	name := lookup(EnvIfaceName)
	if name == "" {
		name = wgup.DefaultIfaceName
	}

	if err := device.ValidateName(name); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalid, EnvIfaceName, err)
	}

	return name, nil
}

// Load reads and validates the complete configuration. All problems are reported at once.
func Load() (wgup.Configuration, error) {
	var (
		conf wgup.Configuration
		errs []error
		err  error
	)

	if conf.IfaceName, err = IfaceName(); err != nil {
		errs = append(errs, err)
	}

	addr, err := ipv4(EnvAddress)
	if err != nil {
		errs = append(errs, err)
	}

	bits, err := number(EnvPrefix, 32, -1)
	if err != nil {
		errs = append(errs, err)
	}

	if addr.IsValid() && bits >= 0 {
		conf.Address = netip.PrefixFrom(addr, bits)
	}

	if raw := lookup(EnvPrivateKey); raw != "" {
		if conf.PrivateKey, err = key.Parse(raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, EnvPrivateKey, err))
		}
	}

	conf.KeyFile = lookup(EnvKeyFile)

	port, err := number(EnvListenPort, 65535, wgup.DefaultPort)
	if err != nil {
		errs = append(errs, err)
	}

	conf.ListenPort = uint16(port)

	if conf.Peer, err = loadPeer(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return wgup.Configuration{}, err
	}

	return conf, nil
}

func loadPeer() (wgup.Peer, error) {
	var (
		p    wgup.Peer
		errs []error
		err  error
	)

	switch raw := lookup(EnvPeerPublic); raw {
	case "":
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, EnvPeerPublic))
	default:
		if p.Public, err = key.Parse(raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, EnvPeerPublic, err))
		}
	}

	switch p.Endpoint = lookup(EnvPeerEndpoint); {
	case p.Endpoint == "":
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, EnvPeerEndpoint))
	default:
		if err = endpoint(p.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, EnvPeerEndpoint, err))
		}
	}

	if p.Address, err = ipv4(EnvPeerAddress); err != nil {
		errs = append(errs, err)
	}

	if raw := lookup(EnvPresharedKey); raw != "" {
		if p.PresharedKey, err = key.Parse(raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, EnvPresharedKey, err))
		}
	}

	if p.Keepalive, err = keepalive(); err != nil {
		errs = append(errs, err)
	}

	return p, errors.Join(errs...)
}

// endpoint checks that raw is host:port with a non empty host and a port that fits 16 bits.
// Host names are resolved later, when the peer is built.
func endpoint(raw string) error {
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return err
	}

	if host == "" {
		return fmt.Errorf("%q has no host", raw)
	}

	if _, err = strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("port %q: %w", port, err)
	}

	return nil
}

func lookup(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func ipv4(name string) (netip.Addr, error) {
	raw := lookup(name)
	if raw == "" {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrMissing, name)
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s: %q is no IPv4 address", ErrInvalid, name, raw)
	}

	return addr, nil
}

// number parses the variable name as integer in 0..upper. fallback is returned if the variable is
// unset, a negative fallback makes it required. upper is inclusive.
func number(name string, upper, fallback int) (int, error) {
	raw := lookup(name)

	switch {
	case raw == "" && fallback < 0:
		return -1, fmt.Errorf("%w: %s", ErrMissing, name)
	case raw == "":
		return fallback, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > upper {
		return -1, fmt.Errorf("%w: %s: %q is not within 0-%d", ErrInvalid, name, raw, upper)
	}

	return n, nil
}

// keepalive accepts a duration like 25s or a plain number of seconds.
func keepalive() (uint16, error) {
	raw := lookup(EnvKeepalive)
	if raw == "" {
		return 0, nil
	}

	if n, err := strconv.ParseUint(raw, 10, 16); err == nil {
		return uint16(n), nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 || d%time.Second != 0 || d > 65535*time.Second {
		return 0, fmt.Errorf("%w: %s: %q is no whole number of seconds up to 65535", ErrInvalid, EnvKeepalive, raw)
	}

	return uint16(d / time.Second), nil
}
