package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic = errors.New("identity: invalid recovery phrase")
	ErrNoKeys          = errors.New("identity: key material is not loaded")
	ErrBadSignature    = errors.New("identity: signature verification failed")
)

// Provider owns the device's long-term key material and exposes the signing
// and key-agreement operations the rest of the client needs. It is created
// once at startup from the key store (or a fresh recovery phrase) and never
// regenerates keys on its own.
type Provider struct {
	identity Identity
	keys     *DerivedKeys
}

// Generate creates a brand-new identity and returns the recovery phrase that
// reproduces it. The phrase is shown to the user exactly once.
func Generate() (*Provider, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	p, err := FromPhrase(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return p, mnemonic, nil
}

// FromPhrase restores an identity from its recovery phrase.
func FromPhrase(mnemonic string) (*Provider, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	keys, err := DeriveKeys(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, err
	}
	return newProvider(keys)
}

func newProvider(keys *DerivedKeys) (*Provider, error) {
	if keys == nil || len(keys.SigningPublicKey) != ed25519.PublicKeySize {
		return nil, ErrNoKeys
	}
	return &Provider{
		identity: Identity{
			PublicID:           hex.EncodeToString(keys.SigningPublicKey),
			SigningPublicKey:   append([]byte(nil), keys.SigningPublicKey...),
			AgreementPublicKey: append([]byte(nil), keys.AgreementPublic...),
			CreatedAt:          time.Now().UTC(),
		},
		keys: keys,
	}, nil
}

// Identity returns a copy of the public identity.
func (p *Provider) Identity() Identity {
	return Identity{
		PublicID:           p.identity.PublicID,
		SigningPublicKey:   append([]byte(nil), p.identity.SigningPublicKey...),
		AgreementPublicKey: append([]byte(nil), p.identity.AgreementPublicKey...),
		CreatedAt:          p.identity.CreatedAt,
	}
}

// PublicID returns the stable hex identifier of this identity.
func (p *Provider) PublicID() string { return p.identity.PublicID }

// AgreementPublicHex returns the X25519 public key in the wire's hex form.
func (p *Provider) AgreementPublicHex() string {
	return hex.EncodeToString(p.identity.AgreementPublicKey)
}

// AgreementPrivateKey hands the X25519 scalar to the crypto channel.
func (p *Provider) AgreementPrivateKey() []byte {
	return append([]byte(nil), p.keys.AgreementPrivate...)
}

// SigningSeed exposes the Ed25519 seed for deterministic device-key
// derivation. It never leaves the process.
func (p *Provider) SigningSeed() []byte {
	return append([]byte(nil), ed25519.PrivateKey(p.keys.SigningPrivateKey).Seed()...)
}

// SignChat signs a chat payload the way the relay documents it: the hex
// Ed25519 signature over "{content}\n{timestamp}".
func (p *Provider) SignChat(content string, timestamp int64) string {
	msg := chatSigningBytes(content, timestamp)
	return hex.EncodeToString(ed25519.Sign(p.keys.SigningPrivateKey, msg))
}

// VerifyChat checks a peer's chat signature. Verification is advisory: a bad
// signature flags the message for the UI, it does not drop it.
func VerifyChat(senderPublicID, content string, timestamp int64, signatureHex string) error {
	pub, err := hex.DecodeString(senderPublicID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad sender key", ErrBadSignature)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad signature encoding", ErrBadSignature)
	}
	if !ed25519.Verify(pub, chatSigningBytes(content, timestamp), sig) {
		return ErrBadSignature
	}
	return nil
}

func chatSigningBytes(content string, timestamp int64) []byte {
	return fmt.Appendf(nil, "%s\n%d", content, timestamp)
}

// ValidateMnemonic reports whether a phrase could restore an identity.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}
