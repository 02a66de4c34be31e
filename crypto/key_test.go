package crypto

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromBytes(t *testing.T) {
	cases := []struct {
		name      string
		input     []byte
		wantError bool
	}{
		{name: "Valid 32 bytes", input: bytes.Repeat([]byte{0xAB}, 32), wantError: false},
		{name: "Too short", input: []byte("too_short"), wantError: true},
		{name: "Too long", input: make([]byte, 33), wantError: true},
		{name: "Empty", input: nil, wantError: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := KeyFromBytes(tc.input)
			if tc.wantError {
				require.ErrorIs(t, err, ErrKeySize)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.input, key[:])
		})
	}
}

func TestParseKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	parsed, err := ParseKey(key.Hex())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseKey("not hex at all")
	assert.Error(t, err)

	_, err = ParseKey("deadbeef")
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestGenerateKeyDistinct(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	if a == b {
		t.Error("consecutive GenerateKey() calls produced identical keys")
	}
	if a == (Key{}) {
		t.Error("GenerateKey() returned zero key")
	}
}

func TestSaveLoadKeyFile(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "shared_key.key")
	require.NoError(t, SaveKeyFile(path, key))

	loaded, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "key file must be owner-only")
	}
}

func TestLoadKeyFileMissing(t *testing.T) {
	_, err := LoadKeyFile(filepath.Join(t.TempDir(), "absent.key"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadKeyFileWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.key")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	_, err := LoadKeyFile(path)
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestZeroKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	ZeroKey(&key)
	assert.Equal(t, Key{}, key)

	// Must not panic on nil.
	ZeroKey(nil)
}
