package identity

import "time"

// Identity is the public face of a device's long-term keys. PublicID is the
// hex form of the Ed25519 signing key and is the stable user-facing
// identifier across sessions and devices.
type Identity struct {
	PublicID           string
	SigningPublicKey   []byte
	AgreementPublicKey []byte
	CreatedAt          time.Time
}

// DerivedKeys is the full key material expanded from a recovery seed.
type DerivedKeys struct {
	SigningPrivateKey []byte // Ed25519 private key bytes (64)
	SigningPublicKey  []byte // Ed25519 public key bytes (32)
	AgreementPrivate  []byte // X25519 private scalar bytes (32)
	AgreementPublic   []byte // X25519 public key bytes (32)
}
