// Package crypto implements the authenticated encryption layer of the
// cipherlink tunnel.
//
// All traffic protection is built on NaCl secretbox (XSalsa20-Poly1305)
// under a single 32-byte symmetric key shared out of band by both ends.
// Every encryption call draws a fresh random 24-byte nonce and prepends it
// to the sealed ciphertext, so the unit handled by the rest of the system
// is always nonce || ciphertext_with_tag.
//
// # Core Types
//
//   - [Key]: 32-byte symmetric key, loadable from a raw key file or hex
//   - [Nonce]: 24-byte random nonce, one per encryption
//   - [Engine]: stateless encrypt/decrypt under one fixed key
//   - [Ring]: the keys a live session decrypts with (the current key plus,
//     during the bounded rekey grace window, the previous one)
//
// # Usage
//
//	key, err := crypto.LoadKeyFile("keys/shared_key.key")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine := crypto.NewEngine(key)
//	box, _ := engine.Encrypt([]byte("payload"))
//	plaintext, err := engine.Decrypt(box)
//
// Decryption of anything tampered with (a flipped bit, truncation, a wrong
// key) fails with [ErrAuthFailed] and never yields altered plaintext. An
// Engine holds no state beyond its key and is safe for concurrent use; a
// Ring is likewise safe to share between a session's send and receive
// goroutines.
package crypto
