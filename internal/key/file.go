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

package key

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Load reads a base64 encoded key from the file at path.
func Load(path string) (Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Key{}, fmt.Errorf("read key file: %w", err)
	}

	k, err := Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return Key{}, fmt.Errorf("parse key file %s: %w", path, err)
	}

	return k, nil
}

// LoadOrGenerate loads the private key at path. If the file does not exist a new private key is
// generated and written there with owner only permissions. The returned bool is true if the key
// was generated.
func LoadOrGenerate(path string) (Key, bool, error) {
	k, err := Load(path)

	switch {
	case err == nil:
		return k, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return Key{}, false, err
	}

	k, err = Generate()
	if err != nil {
		return Key{}, false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Key{}, false, fmt.Errorf("create key dir: %w", err)
	}

	if err := os.WriteFile(path, []byte(k.String()+"\n"), 0o600); err != nil {
		return Key{}, false, fmt.Errorf("write key file: %w", err)
	}

	return k, true, nil
}
