// Package e2ee implements the client's end-to-end crypto channel: per-peer
// symmetric secrets for direct messages and a deterministic device key for
// the synchronized settings blob. All encryption is XChaCha20-Poly1305 with a
// fresh random nonce per message.
package e2ee

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNoPeerKey means the peer never published an agreement key; the
	// caller must fall back to an explicit plaintext-with-warning path.
	ErrNoPeerKey = errors.New("e2ee: no agreement key for peer")
	// ErrDecryptFailed covers wrong keys, corrupted payloads and legacy
	// plaintext that merely looks structured. It is always recoverable.
	ErrDecryptFailed = errors.New("e2ee: cannot decrypt")
	// ErrForeignData means a sync blob was written under a different
	// identity. The caller leaves it untouched instead of overwriting.
	ErrForeignData = errors.New("e2ee: sync blob belongs to a different identity")
	// ErrBadKey means key material of the wrong size was supplied.
	ErrBadKey = errors.New("e2ee: invalid key material")
)

const (
	hkdfInfoPeer  = "humanity/e2ee/peer/v1"
	deviceKeyInfo = "humanity/e2ee/device/v1|"
)

// Channel holds the local private key material needed for key agreement.
type Channel struct {
	agreementPriv []byte
	deviceKey     []byte
}

// NewChannel builds a channel from the local X25519 scalar and the signing
// seed. The device key is a one-way hash of the signing seed, so the same
// identity restored anywhere derives the same key, and no other identity can.
func NewChannel(agreementPriv, signingSeed []byte) (*Channel, error) {
	if len(agreementPriv) != curve25519.ScalarSize || len(signingSeed) == 0 {
		return nil, ErrBadKey
	}
	sum := blake2b.Sum256(append([]byte(deviceKeyInfo), signingSeed...))
	return &Channel{
		agreementPriv: append([]byte(nil), agreementPriv...),
		deviceKey:     sum[:],
	}, nil
}

// PeerKey derives the symmetric secret shared with a peer from their
// published agreement key (wire hex form).
func (c *Channel) PeerKey(peerAgreementPubHex string) ([]byte, error) {
	if peerAgreementPubHex == "" {
		return nil, ErrNoPeerKey
	}
	peerPub, err := hex.DecodeString(peerAgreementPubHex)
	if err != nil || len(peerPub) != curve25519.PointSize {
		return nil, ErrNoPeerKey
	}
	shared, err := curve25519.X25519(c.agreementPriv, peerPub)
	if err != nil {
		return nil, ErrNoPeerKey
	}
	return kdf32(shared, []byte(hkdfInfoPeer)), nil
}

// DeviceKey returns the settings-sync key for this identity.
func (c *Channel) DeviceKey() []byte {
	return append([]byte(nil), c.deviceKey...)
}

// Seal encrypts plaintext under a derived key with a fresh nonce.
func Seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, ErrBadKey
	}
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts a sealed payload. Failures are typed, never fatal.
func Open(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrBadKey
	}
	if len(nonce) != chacha20poly1305.NonceSizeX || len(ciphertext) == 0 {
		return nil, ErrDecryptFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// SealDM encrypts a direct message for a peer, returning the wire hex forms.
func (c *Channel) SealDM(peerAgreementPubHex, content string) (cipherHex, nonceHex string, err error) {
	key, err := c.PeerKey(peerAgreementPubHex)
	if err != nil {
		return "", "", err
	}
	ct, nonce, err := Seal(key, []byte(content))
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(ct), hex.EncodeToString(nonce), nil
}

// OpenDM decrypts a direct message from a peer.
func (c *Channel) OpenDM(peerAgreementPubHex, cipherHex, nonceHex string) (string, error) {
	key, err := c.PeerKey(peerAgreementPubHex)
	if err != nil {
		return "", err
	}
	ct, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", ErrDecryptFailed
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", ErrDecryptFailed
	}
	plaintext, err := Open(key, ct, nonce)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealSyncBlob encrypts the settings payload under the device key. The wire
// form is hex(nonce || ciphertext) in a single string field.
func (c *Channel) SealSyncBlob(payload []byte) (string, error) {
	ct, nonce, err := Seal(c.deviceKey, payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(append(nonce, ct...)), nil
}

// OpenSyncBlob decrypts a settings blob. A blob written by a different
// identity fails authentication and surfaces as ErrForeignData.
func (c *Channel) OpenSyncBlob(blob string) ([]byte, error) {
	raw, err := hex.DecodeString(blob)
	if err != nil || len(raw) <= chacha20poly1305.NonceSizeX {
		return nil, ErrForeignData
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := Open(c.deviceKey, ct, nonce)
	if err != nil {
		return nil, ErrForeignData
	}
	return plaintext, nil
}

func kdf32(input, info []byte) []byte {
	reader := hkdf.New(sha256.New, input, nil, info)
	out := make([]byte, chacha20poly1305.KeySize)
	_, _ = io.ReadFull(reader, out)
	return out
}
