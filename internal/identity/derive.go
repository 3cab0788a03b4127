package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning   = "humanity/identity/signing/v1"
	hkdfInfoAgreement = "humanity/identity/agreement/v1"
)

// DeriveKeys expands a recovery seed into the signing and agreement keypairs.
// The same seed always yields the same keys, which is what makes the recovery
// phrase a full identity backup.
func DeriveKeys(seedBytes []byte) (*DerivedKeys, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	agreementPriv, err := hkdfExpand(seedBytes, hkdfInfoAgreement, curve25519.ScalarSize)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)
	agreementPub, err := curve25519.X25519(agreementPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	return &DerivedKeys{
		SigningPrivateKey: signingPriv,
		SigningPublicKey:  signingPub,
		AgreementPrivate:  agreementPriv,
		AgreementPublic:   agreementPub,
	}, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
