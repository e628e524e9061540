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

// Package key handles wireguard key material and its textual form.
package key

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	// Len is the length of raw key material.
	Len = 32
	// TextLen is the capacity of a Text buffer: 44 base64 characters plus terminator.
	TextLen = 45

	encodedLen = 44
	blank      = ' '
)

// ErrInvalidEncoding indicates that a textual key is not the base64 form of 32 bytes.
var ErrInvalidEncoding = errors.New("invalid key encoding")

// Key is raw key material. It is either a Curve25519 private or public key or a preshared secret.
type Key [Len]byte

// Text is the base64 form of a Key as it is stored in the fixed size buffers of the wireguard
// control ABI.
type Text [TextLen]byte

// Generate creates a new clamped Curve25519 private key.
func Generate() (Key, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Key{}, fmt.Errorf("generate private key: %w", err)
	}

	return Key(k), nil
}

// PublicKey derives the public key of private key k by scalar multiplication with the base point.
func (k Key) PublicKey() Key {
	pub, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		// X25519 only fails for low order points which the base point is not.
		panic("derive public key: " + err.Error())
	}

	var out Key

	copy(out[:], pub)

	return out
}

// IsZero reports if all bytes of k are zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

// String returns the base64 form of k.
func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Text encodes k into a terminated 45 byte buffer.
func (k Key) Text() Text {
	var t Text

	base64.StdEncoding.Encode(t[:encodedLen], k[:])

	return t
}

// WG converts k into its wgctrl representation.
func (k Key) WG() wgtypes.Key {
	return wgtypes.Key(k)
}

// FromWG converts a wgctrl key.
func FromWG(k wgtypes.Key) Key {
	return Key(k)
}

// ParseText copies s into a Text buffer. Shorter input is padded with blanks. ErrInvalidEncoding
// is returned if s does not fit.
func ParseText(s string) (Text, error) {
	var t Text

	if len(s) > TextLen {
		return t, fmt.Errorf("%w: %d bytes do not fit into %d", ErrInvalidEncoding, len(s), TextLen)
	}

	for i := range t {
		t[i] = blank
	}

	copy(t[:], s)

	return t, nil
}

// String returns the meaningful characters of t without padding or terminator.
func (t Text) String() string {
	return strings.TrimRight(string(t[:]), " \x00")
}

// Key decodes t. ErrInvalidEncoding is returned if t does not hold the base64 form of 32 bytes.
func (t Text) Key() (Key, error) {
	return Parse(t.String())
}

// Parse decodes the base64 form of a key.
func Parse(s string) (Key, error) {
	k, err := wgtypes.ParseKey(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	return Key(k), nil
}
