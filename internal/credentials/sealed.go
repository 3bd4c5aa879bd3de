package credentials

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/crmsync/internal/cryptox"
)

// SealedStore encrypts values before they reach the wrapped store, so cached
// tokens are never kept in the clear in the bookkeeping table.
type SealedStore struct {
	inner Store
	key   []byte
}

// NewSealedStore derives the encryption key from passphrase and name.
func NewSealedStore(inner Store, passphrase, name string) *SealedStore {
	return &SealedStore{inner: inner, key: cryptox.DeriveKey([]byte(passphrase), cryptox.Salt(name))}
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil || raw == nil {
		return raw, err
	}
	plain, err := cryptox.Open(s.key, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plain, nil
}

func (s *SealedStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := cryptox.Seal(s.key, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}
