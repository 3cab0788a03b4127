package securestore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"hello":"world"}`)
	blob, err := Encrypt("pass-1", plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	out, err := Decrypt("pass-1", blob)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(out) != string(plaintext) {
		t.Fatalf("round trip mismatch: %s", out)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	blob, err := Encrypt("pass-1", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt("pass-2", blob); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptLegacyPlaintext(t *testing.T) {
	if _, err := Decrypt("pass", []byte(`{"not":"an envelope"}`)); !errors.Is(err, ErrLegacyData) {
		t.Fatalf("expected ErrLegacyData, got %v", err)
	}
}

func TestDecryptCorruptedEnvelope(t *testing.T) {
	if _, err := Decrypt("pass", []byte(filePrefix+"not json")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestJSONFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "identity.enc")
	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	if err := WriteEncryptedJSON(path, "pw", payload{Name: "x", N: 7}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var got payload
	if err := ReadDecryptedJSON(path, "pw", &got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Name != "x" || got.N != 7 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
