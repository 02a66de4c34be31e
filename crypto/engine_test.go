package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) Key {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engine := NewEngine(testKey(t))

	large := make([]byte, 64*1024)
	if _, err := rand.Read(large); err != nil {
		t.Fatalf("rand.Read() error: %v", err)
	}

	cases := []struct {
		name      string
		plaintext []byte
	}{
		{name: "Empty", plaintext: []byte{}},
		{name: "Single byte", plaintext: []byte{0x00}},
		{name: "Text", plaintext: []byte("Hello, Cipherlink!")},
		{name: "All zeros", plaintext: make([]byte, 256)},
		{name: "Random 64KB", plaintext: large},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			box, err := engine.Encrypt(tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			if len(box) != NonceSize+Overhead+len(tc.plaintext) {
				t.Errorf("Encrypt() box length = %d, want %d", len(box), NonceSize+Overhead+len(tc.plaintext))
			}

			plaintext, err := engine.Decrypt(box)
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(plaintext, tc.plaintext) {
				t.Errorf("Decrypt() = %x, want %x", plaintext, tc.plaintext)
			}
		})
	}
}

func TestDecryptDetectsEveryBitFlip(t *testing.T) {
	engine := NewEngine(testKey(t))

	box, err := engine.Encrypt([]byte("tamper detection"))
	require.NoError(t, err)

	for i := 0; i < len(box); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := make([]byte, len(box))
			copy(tampered, box)
			tampered[i] ^= 1 << bit

			plaintext, err := engine.Decrypt(tampered)
			require.Error(t, err, "flipping byte %d bit %d must not decrypt", i, bit)
			require.ErrorIs(t, err, ErrAuthFailed)
			require.Nil(t, plaintext)
		}
	}
}

func TestDecryptTruncatedBox(t *testing.T) {
	engine := NewEngine(testKey(t))

	box, err := engine.Encrypt([]byte("truncate me"))
	require.NoError(t, err)

	for _, n := range []int{0, 1, NonceSize - 1, NonceSize, NonceSize + Overhead - 1, len(box) - 1} {
		_, err := engine.Decrypt(box[:n])
		assert.ErrorIs(t, err, ErrAuthFailed, "length %d", n)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	box, err := NewEngine(testKey(t)).Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = NewEngine(testKey(t)).Decrypt(box)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestNonceUniqueness(t *testing.T) {
	engine := NewEngine(testKey(t))
	plaintext := []byte("identical plaintext")

	const samples = 2000
	seen := make(map[Nonce]struct{}, samples)
	var prev []byte
	for i := 0; i < samples; i++ {
		box, err := engine.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error on sample %d: %v", i, err)
		}

		var nonce Nonce
		copy(nonce[:], box[:NonceSize])
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce reused after %d encryptions", i)
		}
		seen[nonce] = struct{}{}

		if prev != nil && bytes.Equal(prev, box) {
			t.Fatal("two encryptions of the same plaintext produced identical boxes")
		}
		prev = box
	}
}

func TestEncryptRejectsOversizedPlaintext(t *testing.T) {
	engine := NewEngine(testKey(t))

	_, err := engine.Encrypt(make([]byte, MaxMessageSize+1))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// The boundary itself is legal.
	_, err = engine.Encrypt(make([]byte, MaxMessageSize))
	assert.NoError(t, err)
}

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error: %v", err)
	}

	if nonce == (Nonce{}) {
		t.Error("GenerateNonce() returned zero nonce")
	}

	nonce2, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce() error: %v", err)
	}
	if nonce == nonce2 {
		t.Error("consecutive GenerateNonce() calls produced identical nonces")
	}
}

func TestEngineFromBytes(t *testing.T) {
	engine, err := EngineFromBytes(bytes.Repeat([]byte{7}, KeySize))
	require.NoError(t, err)
	require.NotNil(t, engine)

	_, err = EngineFromBytes([]byte("too short"))
	require.ErrorIs(t, err, ErrKeySize)
}

func TestConcurrentEncryptSharedEngine(t *testing.T) {
	engine := NewEngine(testKey(t))
	plaintext := []byte("shared engine, many goroutines")

	const workers = 8
	done := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			for j := 0; j < 200; j++ {
				box, err := engine.Encrypt(plaintext)
				if err != nil {
					done <- err
					return
				}
				if _, err := engine.Decrypt(box); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent encrypt/decrypt error: %v", err)
		}
	}
}
