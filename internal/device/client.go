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

package device

import (
	"errors"
	"fmt"
	"net"
	"os"

	"dev.eqrx.net/wgup/internal/key"
	"dev.eqrx.net/wgup/internal/peer"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ErrDeviceNotFound indicates that no wireguard device with the requested name exists.
var ErrDeviceNotFound = errors.New("device not found")

// CallError is returned when the wireguard control plane rejects a request. Code is the raw
// errno reported for it or -1 if there was none.
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
	return fmt.Sprintf("%s: control call failed with code %d: %v", e.Op, e.Code, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// WGController allows quering and configuration WG devices.
type WGController interface {
	Devices() ([]*wgtypes.Device, error)
	Device(string) (*wgtypes.Device, error)
	ConfigureDevice(string, wgtypes.Config) error
	Close() error
}

// Opener opens a new session to the wireguard control plane.
type Opener func() (WGController, error)

// Open opens a wgctrl client.
func Open() (WGController, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Client queries and configures wireguard devices. Each call uses its own session that is closed
// before the call returns. Nothing is retried.
type Client struct {
	open Opener
}

// NewClient creates a new client that opens sessions with open.
func NewClient(open Opener) *Client {
	return &Client{open}
}

func (c *Client) session(op string, call func(WGController) error) error {
	ctrl, err := c.open()
	if err != nil {
		return newCallError("open wg ctrl", err)
	}

	err = call(ctrl)
	cErr := ctrl.Close()

	switch {
	case err != nil && cErr != nil:
		return fmt.Errorf("%s: %w. Also close wg ctrl: %v", op, err, cErr)
	case err != nil:
		return err
	case cErr != nil:
		return fmt.Errorf("close wg ctrl: %w", cErr)
	default:
		return nil
	}
}

// ListDeviceNames returns the names of all wireguard devices in the order the control plane
// reports them. The result is empty if there are none.
func (c *Client) ListDeviceNames() ([]string, error) {
	names := []string{}

	err := c.session("list devices", func(ctrl WGController) error {
		devices, err := ctrl.Devices()
		if err != nil {
			return newCallError("list devices", err)
		}

		seen := make(map[string]struct{}, len(devices))

		for _, d := range devices {
			if d == nil || d.Name == "" {
				continue
			}

			if _, ok := seen[d.Name]; ok {
				continue
			}

			seen[d.Name] = struct{}{}
			names = append(names, d.Name)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return names, nil
}

// GetDevice reads the current state of the device name. ErrDeviceNotFound is returned if
// there is no such wireguard device.
func (c *Client) GetDevice(name string) (Device, error) {
	var d Device

	err := c.session("get device "+name, func(ctrl WGController) error {
		wg, err := ctrl.Device(name)

		switch {
		case errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		case err != nil:
			return newCallError("get device "+name, err)
		}

		d, err = FromWG(wg)

		return err
	})
	if err != nil {
		return Device{}, err
	}

	if iface, err := net.InterfaceByName(name); err == nil {
		d.index = iface.Index
	}

	return d, nil
}

// SetDevice applies d to the wireguard device of the same name. Only flagged fields are changed.
func (c *Client) SetDevice(d Device) error {
	if err := ValidateName(d.name); err != nil {
		return err
	}

	cfg, err := d.Config()
	if err != nil {
		return err
	}

	return c.session("set device "+d.name, func(ctrl WGController) error {
		err := ctrl.ConfigureDevice(d.name, cfg)

		switch {
		case errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, d.name)
		case err != nil:
			return newCallError("set device "+d.name, err)
		}

		return nil
	})
}

// UpdateDevice gives the device name the private key and listen port and makes remote its only
// peer. ErrDeviceNotFound is returned if the device does not exist.
func (c *Client) UpdateDevice(name string, private key.Key, listenPort uint16, remote peer.Peer) error {
	d, err := c.GetDevice(name)
	if err != nil {
		return err
	}

	d.SetPrivateKey(private)
	d.SetListenPort(listenPort)
	d.ReplacePeers(remote)

	return c.SetDevice(d)
}
