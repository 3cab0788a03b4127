package identity

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateAndRestoreSameIdentity(t *testing.T) {
	p1, mnemonic, err := Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !ValidateMnemonic(mnemonic) {
		t.Fatal("generated phrase must validate")
	}

	p2, err := FromPhrase(mnemonic)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if p1.PublicID() != p2.PublicID() {
		t.Fatal("same phrase must reproduce same public id")
	}
	if !bytes.Equal(p1.AgreementPrivateKey(), p2.AgreementPrivateKey()) {
		t.Fatal("same phrase must reproduce same agreement key")
	}
}

func TestFromPhraseRejectsGarbage(t *testing.T) {
	if _, err := FromPhrase("definitely not a phrase"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestChatSignatureRoundTrip(t *testing.T) {
	p, _, err := Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	sig := p.SignChat("hello", 1234)
	if err := VerifyChat(p.PublicID(), "hello", 1234, sig); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if err := VerifyChat(p.PublicID(), "hello!", 1234, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered content must fail, got %v", err)
	}
	if err := VerifyChat(p.PublicID(), "hello", 1235, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered timestamp must fail, got %v", err)
	}
}

func TestAgreementKeysAreDistinctPerIdentity(t *testing.T) {
	a, _, err := Generate()
	if err != nil {
		t.Fatalf("generate a failed: %v", err)
	}
	b, _, err := Generate()
	if err != nil {
		t.Fatalf("generate b failed: %v", err)
	}
	if a.PublicID() == b.PublicID() {
		t.Fatal("two fresh identities collided")
	}
	if a.AgreementPublicHex() == b.AgreementPublicHex() {
		t.Fatal("two fresh agreement keys collided")
	}
}
