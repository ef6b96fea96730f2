package websession

import (
	"context"
	"time"

	"github.com/rcourtman/zbxreport/internal/logging"
)

// Sealer encrypts values bound to additional data.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(ciphertext, aad []byte) ([]byte, error)
}

// SealedStore encrypts jars before they reach the wrapped store. Each
// value is bound to its row key, so rows cannot be swapped.
type SealedStore struct {
	inner  Store
	sealer Sealer
}

// NewSealedStore wraps inner with sealer.
func NewSealedStore(inner Store, sealer Sealer) *SealedStore {
	return &SealedStore{inner: inner, sealer: sealer}
}

// Load opens the stored value. Values that fail to open are dropped and
// reported as missing so the broker logs in again.
func (s *SealedStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := s.sealer.Open(data, []byte(key))
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("Discarding stored web session that failed to decrypt")
		if delErr := s.inner.Delete(ctx, key); delErr != nil {
			logger.Debug().Err(delErr).Msg("Failed to delete undecryptable web session")
		}
		return nil, ErrNotFound
	}
	return plain, nil
}

func (s *SealedStore) Save(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(data, []byte(key))
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, key, sealed, expiresAt)
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
