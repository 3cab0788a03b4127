package identity

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"humanity-chat/client-core/internal/securestore"
)

// ErrStoreMissing means no key store exists yet; the caller should register a
// fresh identity and save it.
var ErrStoreMissing = errors.New("identity: key store not found")

const storeFileName = "identity.enc"

// Store persists the recovery phrase encrypted under a local passphrase.
// Losing the file (or the passphrase) loses the identity and forces
// re-registration under a new public ID.
type Store struct {
	dir        string
	passphrase string
}

type storeRecord struct {
	Mnemonic  string    `json:"mnemonic"`
	SavedAt   time.Time `json:"saved_at"`
	PublicID  string    `json:"public_id"`
	Generator string    `json:"generator,omitempty"`
}

func NewStore(dir, passphrase string) *Store {
	return &Store{dir: dir, passphrase: passphrase}
}

// Load reads and derives the stored identity.
func (s *Store) Load() (*Provider, error) {
	var rec storeRecord
	err := securestore.ReadDecryptedJSON(filepath.Join(s.dir, storeFileName), s.passphrase, &rec)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStoreMissing
		}
		return nil, err
	}
	p, err := FromPhrase(rec.Mnemonic)
	if err != nil {
		return nil, err
	}
	// A stored public_id that no longer matches the derived keys means the
	// file was copied between incompatible versions; treat it as corrupt.
	if rec.PublicID != "" && rec.PublicID != p.PublicID() {
		return nil, securestore.ErrInvalid
	}
	return p, nil
}

// Save writes the recovery phrase for an identity. Called only on first
// registration or an explicit re-import.
func (s *Store) Save(p *Provider, mnemonic string) error {
	if !ValidateMnemonic(mnemonic) {
		return ErrInvalidMnemonic
	}
	return securestore.WriteEncryptedJSON(filepath.Join(s.dir, storeFileName), s.passphrase, storeRecord{
		Mnemonic: mnemonic,
		SavedAt:  time.Now().UTC(),
		PublicID: p.PublicID(),
	})
}

// LoadOrCreate loads the stored identity, creating and persisting a new one
// when the store does not exist yet. The returned phrase is empty for an
// existing identity and set exactly once for a fresh one.
func (s *Store) LoadOrCreate() (*Provider, string, error) {
	p, err := s.Load()
	if err == nil {
		return p, "", nil
	}
	if !errors.Is(err, ErrStoreMissing) {
		return nil, "", err
	}
	p, mnemonic, err := Generate()
	if err != nil {
		return nil, "", err
	}
	if err := s.Save(p, mnemonic); err != nil {
		return nil, "", err
	}
	return p, mnemonic, nil
}

// Wipe removes the key store file. Used by explicit re-registration flows.
func (s *Store) Wipe() error {
	err := os.Remove(filepath.Join(s.dir, storeFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
