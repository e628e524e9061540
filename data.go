// Package wgup defines the data structures that describe the tunnel this project provisions.
package wgup

import (
	"net/netip"

	"dev.eqrx.net/wgup/internal/key"
)

// DefaultIfaceName is used when no interface name is configured.
const DefaultIfaceName = "wg0"

// DefaultPort is the default wireguard port.
const DefaultPort = 51820

// Configuration is the validated form of the process configuration and contains all information
// of this node that are required for wgup.
type Configuration struct {
	// IfaceName is the wireguard interface we are managing.
	IfaceName string
	// Address is the local address of the interface together with the prefix length of the
	// tunnel network.
	Address netip.Prefix
	// PrivateKey is the local private key. The zero key means none is configured.
	PrivateKey key.Key
	// KeyFile is consulted if PrivateKey is not set. A key is generated and stored there if
	// the file does not exist.
	KeyFile string
	// ListenPort is the local UDP port.
	ListenPort uint16
	// Peer is the remote side of the tunnel.
	Peer Peer
}

// Peer defines the remote peer this node connects to via wireguard.
type Peer struct {
	// Public is the WG public key of the peer.
	Public key.Key
	// Endpoint is the host:port the peer is reachable at. Host may be a DNS name.
	Endpoint string
	// Address is the address of the peer inside the tunnel. It becomes its only allowed IP.
	Address netip.Addr
	// PresharedKey is mixed into the handshake if not zero.
	PresharedKey key.Key
	// Keepalive is the persistent keepalive interval in seconds. 0 disables it.
	Keepalive uint16
}
