package e2ee

import (
	"bytes"
	"errors"
	"testing"

	"humanity-chat/client-core/internal/identity"
)

func newTestPair(t *testing.T) (*Channel, *Channel, *identity.Provider, *identity.Provider) {
	t.Helper()
	a, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	chA, err := NewChannel(a.AgreementPrivateKey(), a.SigningSeed())
	if err != nil {
		t.Fatalf("channel a: %v", err)
	}
	chB, err := NewChannel(b.AgreementPrivateKey(), b.SigningSeed())
	if err != nil {
		t.Fatalf("channel b: %v", err)
	}
	return chA, chB, a, b
}

func TestPeerKeyAgreementIsSymmetric(t *testing.T) {
	chA, chB, a, b := newTestPair(t)
	keyAB, err := chA.PeerKey(b.AgreementPublicHex())
	if err != nil {
		t.Fatalf("a->b key: %v", err)
	}
	keyBA, err := chB.PeerKey(a.AgreementPublicHex())
	if err != nil {
		t.Fatalf("b->a key: %v", err)
	}
	if !bytes.Equal(keyAB, keyBA) {
		t.Fatal("both sides must derive the same secret")
	}
}

func TestPeerKeyMissing(t *testing.T) {
	chA, _, _, _ := newTestPair(t)
	for _, bad := range []string{"", "zz", "deadbeef"} {
		if _, err := chA.PeerKey(bad); !errors.Is(err, ErrNoPeerKey) {
			t.Fatalf("key %q: expected ErrNoPeerKey, got %v", bad, err)
		}
	}
}

func TestDMRoundTrip(t *testing.T) {
	chA, chB, a, b := newTestPair(t)
	ct, nonce, err := chA.SealDM(b.AgreementPublicHex(), "the message")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := chB.OpenDM(a.AgreementPublicHex(), ct, nonce)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "the message" {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestDMFreshNoncePerMessage(t *testing.T) {
	chA, _, _, b := newTestPair(t)
	_, n1, err := chA.SealDM(b.AgreementPublicHex(), "x")
	if err != nil {
		t.Fatalf("seal 1: %v", err)
	}
	_, n2, err := chA.SealDM(b.AgreementPublicHex(), "x")
	if err != nil {
		t.Fatalf("seal 2: %v", err)
	}
	if n1 == n2 {
		t.Fatal("nonce must be fresh per message")
	}
}

func TestDMTamperedCiphertext(t *testing.T) {
	chA, chB, a, b := newTestPair(t)
	ct, nonce, err := chA.SealDM(b.AgreementPublicHex(), "secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	tampered := "00" + ct[2:]
	if _, err := chB.OpenDM(a.AgreementPublicHex(), tampered, nonce); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
	if _, err := chB.OpenDM(a.AgreementPublicHex(), "not hex", nonce); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed on bad encoding, got %v", err)
	}
}

func TestDeviceKeyDeterministicPerIdentity(t *testing.T) {
	a, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ch1, err := NewChannel(a.AgreementPrivateKey(), a.SigningSeed())
	if err != nil {
		t.Fatalf("channel 1: %v", err)
	}
	ch2, err := NewChannel(a.AgreementPrivateKey(), a.SigningSeed())
	if err != nil {
		t.Fatalf("channel 2: %v", err)
	}
	if !bytes.Equal(ch1.DeviceKey(), ch2.DeviceKey()) {
		t.Fatal("same identity must derive same device key")
	}
}

func TestSyncBlobCrossIdentityIsForeign(t *testing.T) {
	chA, chB, _, _ := newTestPair(t)
	blob, err := chA.SealSyncBlob([]byte(`{"theme":"dark"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	out, err := chA.OpenSyncBlob(blob)
	if err != nil {
		t.Fatalf("own blob must open: %v", err)
	}
	if string(out) != `{"theme":"dark"}` {
		t.Fatalf("round trip mismatch: %s", out)
	}

	if _, err := chB.OpenSyncBlob(blob); !errors.Is(err, ErrForeignData) {
		t.Fatalf("expected ErrForeignData, got %v", err)
	}
	if _, err := chB.OpenSyncBlob("stray plaintext"); !errors.Is(err, ErrForeignData) {
		t.Fatalf("expected ErrForeignData on garbage, got %v", err)
	}
}
