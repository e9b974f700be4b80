package vault

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a small encrypted-at-rest KV wrapper (Badger) holding delegated
// signing credentials and their approval records, keyed per trading address.
// Note: encryption is provided by Badger options (value log + key registry),
// not by this wrapper.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; if nil, DB is opened without encryption (not recommended)
	ReadOnly      bool
}

// Credential is a delegated signing identity. PrivateKeyHex is the raw hex
// key material exactly as generated; Label is the 1-16 char agent name
// registered on the exchange.
type Credential struct {
	Address       string `json:"address"`
	PrivateKeyHex string `json:"privateKeyHex"`
	Label         string `json:"label"`
}

// Approval records that a credential has been approved on-chain for the
// owning trading address.
type Approval struct {
	Approved  bool  `json:"approved"`
	Timestamp int64 `json:"timestamp"`
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("vault: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20) // 100MB
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored value byte-identical to what Set wrote.
func (s *Store) Get(key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("vault: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return nil, false, errors.New("vault: key is empty")
	}
	var out []byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

func (s *Store) Set(key string, val []byte) error {
	if s == nil || s.db == nil {
		return errors.New("vault: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return errors.New("vault: key is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, val)
	})
}

func (s *Store) Delete(key string) error {
	if s == nil || s.db == nil {
		return errors.New("vault: not opened")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(strings.TrimSpace(key)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func credentialKey(address string) string {
	return "agent:cred:" + strings.ToLower(address)
}

func approvalKey(address string) string {
	return "agent:approval:" + strings.ToLower(address)
}

// Credential loads the delegated credential stored for a trading address.
func (s *Store) Credential(address string) (*Credential, bool, error) {
	raw, found, err := s.Get(credentialKey(address))
	if err != nil || !found {
		return nil, false, err
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, false, fmt.Errorf("vault: corrupt credential record: %w", err)
	}
	return &cred, true, nil
}

func (s *Store) PutCredential(address string, cred *Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.Set(credentialKey(address), raw)
}

func (s *Store) DeleteCredential(address string) error {
	return s.Delete(credentialKey(address))
}

// Approval loads the approval record for a trading address. A missing
// record reads as not approved.
func (s *Store) Approval(address string) (*Approval, bool, error) {
	raw, found, err := s.Get(approvalKey(address))
	if err != nil || !found {
		return nil, false, err
	}
	var ap Approval
	if err := json.Unmarshal(raw, &ap); err != nil {
		return nil, false, fmt.Errorf("vault: corrupt approval record: %w", err)
	}
	return &ap, true, nil
}

func (s *Store) PutApproval(address string, ap *Approval) error {
	raw, err := json.Marshal(ap)
	if err != nil {
		return err
	}
	return s.Set(approvalKey(address), raw)
}

func (s *Store) DeleteApproval(address string) error {
	return s.Delete(approvalKey(address))
}

// ParseKey expects 32 bytes (base64 or hex). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) == 32 {
			return b, nil
		}
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
