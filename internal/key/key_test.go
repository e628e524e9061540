package key_test

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"dev.eqrx.net/wgup/internal/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func randomKey(t *testing.T) key.Key {
	t.Helper()

	var k key.Key

	_, err := rand.Read(k[:])
	require.NoError(t, err)

	return k
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	for i := 0; i < 64; i++ {
		k := randomKey(t)

		text := k.Text()
		assert.Len(t, text.String(), 44)
		assert.Equal(t, byte(0), text[44])

		decoded, err := text.Key()
		require.NoError(t, err)
		assert.Equal(t, k, decoded)
	}
}

func TestZeroKeyRoundTrip(t *testing.T) {
	t.Parallel()

	decoded, err := key.Key{}.Text().Key()
	require.NoError(t, err)
	assert.True(t, decoded.IsZero())
}

func TestParseTextPadsWithBlanks(t *testing.T) {
	t.Parallel()

	text, err := key.ParseText("abc")
	require.NoError(t, err)
	assert.Equal(t, byte('a'), text[0])

	for _, b := range text[3:] {
		assert.Equal(t, byte(' '), b)
	}

	assert.Equal(t, "abc", text.String())
}

func TestParseTextKeepsValidKey(t *testing.T) {
	t.Parallel()

	k := randomKey(t)

	text, err := key.ParseText(k.String())
	require.NoError(t, err)

	decoded, err := text.Key()
	require.NoError(t, err)
	assert.Equal(t, k, decoded)
}

func TestParseTextRejectsOverlongInput(t *testing.T) {
	t.Parallel()

	k := randomKey(t)

	_, err := key.ParseText(k.String() + " junk")
	assert.ErrorIs(t, err, key.ErrInvalidEncoding)

	_, err = key.ParseText(k.String() + "\x00")
	assert.NoError(t, err)
}

func TestInvalidEncoding(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not base64!", "AAAA", key.Key{}.String()[:43]} {
		text, err := key.ParseText(in)
		require.NoError(t, err)

		_, err = text.Key()
		assert.ErrorIs(t, err, key.ErrInvalidEncoding, in)

		_, err = key.Parse(in)
		assert.ErrorIs(t, err, key.ErrInvalidEncoding, in)
	}
}

func TestPublicKeyMatchesWGCtrl(t *testing.T) {
	t.Parallel()

	priv, err := key.Generate()
	require.NoError(t, err)

	expected := wgtypes.Key(priv).PublicKey()
	assert.Equal(t, key.FromWG(expected), priv.PublicKey())
	assert.Equal(t, expected, priv.PublicKey().WG())
}

func TestGenerateIsClamped(t *testing.T) {
	t.Parallel()

	priv, err := key.Generate()
	require.NoError(t, err)
	assert.Zero(t, priv[0]&7)
	assert.Zero(t, priv[31]&128)
	assert.NotZero(t, priv[31]&64)
}

func TestLoadOrGenerate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys", "private.key")

	generated, created, err := key.LoadOrGenerate(path)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, created, err := key.LoadOrGenerate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, generated, loaded)
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "private.key")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o600))

	_, _, err := key.LoadOrGenerate(path)
	assert.ErrorIs(t, err, key.ErrInvalidEncoding)
}
