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

import "strings"

// Flags marks which optional fields of a Device are applied by the wireguard control plane.
type Flags uint32

// Device flags. The values match the control ABI.
const (
	ReplacePeers Flags = 1 << iota
	HasPrivateKey
	HasPublicKey
	HasListenPort
	HasFwmark
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{ReplacePeers, "REPLACE_PEERS"},
	{HasPrivateKey, "HAS_PRIVATE_KEY"},
	{HasPublicKey, "HAS_PUBLIC_KEY"},
	{HasListenPort, "HAS_LISTEN_PORT"},
	{HasFwmark, "HAS_FWMARK"},
}

// Has reports if all bits of o are set in f.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) String() string {
	names := make([]string, 0, len(flagNames))

	for _, n := range flagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}

	return strings.Join(names, "|")
}
