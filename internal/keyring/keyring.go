// Package keyring derives the subsystem's symmetric key material from device
// fingerprint signals. The material lives in process memory only and is never
// persisted.
//
// Known limitation: the derivation is deterministic for a fixed set of
// signals, but nothing guarantees the signals themselves are stable across
// sessions. If they change (locale, display, host upgrade), previously sealed
// records become unreadable and reads degrade to their defaults. There is no
// rotation or migration path.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize

// appSalt is fixed per application build. It separates this application's key
// space from any other consumer of the same device signals.
var appSalt = []byte("finvault.keyring.v1")

const signalSeparator = "|"

// Material is the derived symmetric key. Treat as secret; never log, never
// persist.
type Material [KeySize]byte

// Equal compares two keys in constant time.
func (m Material) Equal(other Material) bool {
	return subtle.ConstantTimeCompare(m[:], other[:]) == 1
}

// Derive turns ordered device signals into key material. Pure and
// deterministic; it cannot fail. Absent or empty signals degrade to a less
// diverse but still deterministic input.
func Derive(signals []string) Material {
	joined := strings.Join(signals, signalSeparator)
	first := sha256.Sum256([]byte(joined))

	salted := make([]byte, 0, len(first)+len(appSalt))
	salted = append(salted, first[:]...)
	salted = append(salted, appSalt...)
	second := sha256.Sum256(salted)

	var m Material
	copy(m[:], second[:])
	return m
}

// Argon2id parameters for passphrase-derived keys (portable backup blobs).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// FromPassphrase derives key material from a user passphrase and salt using
// argon2id. Used only by the backup codec; device-bound storage never sees a
// passphrase.
func FromPassphrase(passphrase string, salt []byte) Material {
	var m Material
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
	copy(m[:], key)
	for i := range key {
		key[i] = 0
	}
	return m
}

// Keyring holds the device key, derived exactly once per process.
type Keyring struct {
	material Material
}

// New derives and caches the device key from the given signals.
func New(signals []string) *Keyring {
	return &Keyring{material: Derive(signals)}
}

// Material returns the cached device key.
func (k *Keyring) Material() Material {
	return k.material
}

var errCiphertextTooShort = errors.New("ciphertext too short")

// Seal encrypts plaintext with XChaCha20-Poly1305 under key. The random
// nonce is prefixed to the ciphertext; aad binds the result to its context
// (storage key, blob framing).
func Seal(key Material, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, plaintext, aad)
	return out, nil
}

// Open reverses Seal. It fails on truncated input, a wrong key, a wrong aad,
// or any bit flip in the ciphertext.
func Open(key Material, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, errCiphertextTooShort
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	ct := ciphertext[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}
