package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/cache"
	"github.com/kodianteach/atlas-platform-sub001/internal/ids"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/signing"
	"github.com/kodianteach/atlas-platform-sub001/internal/vault"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/metrics"
)

const publicKeyCachePrefix = "signing:pubkey:"

// KeyStore owns the per-tenant Ed25519 signing keys. Private keys are sealed with the
// vault crypto helper and bound to their tenant and kid.
type KeyStore struct {
	db       *gorm.DB
	crypto   *vault.Crypto
	cache    cache.Store
	cacheTTL time.Duration
}

// KeyStoreOption customises a KeyStore.
type KeyStoreOption func(*KeyStore)

// WithPublicKeyCache caches verification keys by kid. Public keys never change for a kid,
// so entries only expire to bound memory.
func WithPublicKeyCache(store cache.Store, ttl time.Duration) KeyStoreOption {
	return func(s *KeyStore) {
		s.cache = store
		s.cacheTTL = ttl
	}
}

// NewKeyStore constructs a KeyStore.
func NewKeyStore(db *gorm.DB, crypto *vault.Crypto, opts ...KeyStoreOption) (*KeyStore, error) {
	if db == nil {
		return nil, errors.New("key store: db is required")
	}
	if crypto == nil {
		return nil, errors.New("key store: vault crypto is required")
	}
	store := &KeyStore{db: db, crypto: crypto}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// VerificationKey is the public half of a tenant key as used by validators.
type VerificationKey struct {
	KeyID          string
	OrganizationID string
	PublicKey      ed25519.PublicKey
	Active         bool
}

// GetActiveKey returns the tenant's active key or a KEY_NOT_FOUND error.
func (s *KeyStore) GetActiveKey(ctx context.Context, organizationID string) (*models.CryptoKey, error) {
	ctx = ensureContext(ctx)

	var key models.CryptoKey
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", organizationID, true).
		Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainError(ErrKindKeyNotFound, "organization has no signing key")
	}
	if err != nil {
		return nil, fmt.Errorf("key store: load active key: %w", err)
	}
	return &key, nil
}

// GetOrCreateActiveKey returns the tenant's active key, provisioning one on first use.
// Concurrent first use is settled by the unique active_organization_id index: the loser
// of the insert race re-reads and returns the winner's key.
func (s *KeyStore) GetOrCreateActiveKey(ctx context.Context, organizationID string) (*models.CryptoKey, error) {
	ctx = ensureContext(ctx)
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, errors.New("key store: organization id is required")
	}

	key, err := s.GetActiveKey(ctx, organizationID)
	if err == nil {
		return key, nil
	}
	if KindOf(err) != ErrKindKeyNotFound {
		return nil, err
	}

	candidate, err := s.newKey(organizationID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(candidate).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("key store: persist key: %w", err)
		}
		logger.WithTenant("keys", organizationID).Debug("lost key provisioning race, using existing key")
		return s.GetActiveKey(ctx, organizationID)
	}

	metrics.KeysProvisioned.Inc()
	logger.WithTenant("keys", organizationID).Info("provisioned signing key", zap.String("kid", candidate.KeyID))
	return candidate, nil
}

// GetVerificationKey resolves the key a token claims to be signed with. Retired keys remain
// verifiable. An empty kid falls back to the active key.
func (s *KeyStore) GetVerificationKey(ctx context.Context, organizationID, kid string) (*VerificationKey, error) {
	ctx = ensureContext(ctx)
	kid = strings.TrimSpace(kid)

	if kid != "" {
		if cached, ok := s.cachedKey(ctx, organizationID, kid); ok {
			return cached, nil
		}
	}

	var key models.CryptoKey
	query := s.db.WithContext(ctx).Where("organization_id = ?", organizationID)
	if kid == "" {
		query = query.Where("is_active = ?", true)
	} else {
		query = query.Where("key_id = ?", kid)
	}

	err := query.Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.CryptoKey{}).
			Where("organization_id = ?", organizationID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("key store: count keys: %w", err)
		}
		if count == 0 {
			return nil, domainError(ErrKindKeyNotFound, "organization has no signing key")
		}
		return nil, domainError(ErrKindUnknownKey, "signing key not recognised")
	}
	if err != nil {
		return nil, fmt.Errorf("key store: load key: %w", err)
	}

	verification, err := toVerificationKey(&key)
	if err != nil {
		return nil, err
	}
	s.storeCachedKey(ctx, &key)
	return verification, nil
}

// HasKeys reports whether the tenant has any signing key, active or retired.
func (s *KeyStore) HasKeys(ctx context.Context, organizationID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).Model(&models.CryptoKey{}).
		Where("organization_id = ?", organizationID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("key store: count keys: %w", err)
	}
	return count > 0, nil
}

// PublicKeys lists every key of a tenant, newest first, for provisioning gate devices.
func (s *KeyStore) PublicKeys(ctx context.Context, organizationID string) ([]models.CryptoKey, error) {
	var keys []models.CryptoKey
	err := s.db.WithContext(ensureContext(ctx)).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("key store: list keys: %w", err)
	}
	return keys, nil
}

// PrivateKey unseals the signing seed of key.
func (s *KeyStore) PrivateKey(key *models.CryptoKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("key store: key is nil")
	}
	seed, err := s.crypto.Decrypt(key.EncryptedPrivateKey, key.OrganizationID, key.KeyID)
	if err != nil {
		return nil, fmt.Errorf("key store: unseal %s: %w", key.KeyID, err)
	}
	return seed, nil
}

// CountActive returns the number of active keys across tenants; used for gauges.
func (s *KeyStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).Model(&models.CryptoKey{}).
		Where("is_active = ?", true).
		Count(&count).Error
	return count, err
}

func (s *KeyStore) newKey(organizationID string) (*models.CryptoKey, error) {
	pair, err := signing.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	publicPEM, err := signing.MarshalPublicKeyPEM(pair.PublicKey)
	if err != nil {
		return nil, err
	}

	kid := ids.NewKeyID()
	sealed, err := s.crypto.Encrypt(pair.Seed, organizationID, kid)
	if err != nil {
		return nil, fmt.Errorf("key store: seal private key: %w", err)
	}

	return &models.CryptoKey{
		OrganizationID:      organizationID,
		KeyID:               kid,
		Algorithm:           signing.Algorithm,
		PublicKey:           publicPEM,
		EncryptedPrivateKey: sealed,
		IsActive:            true,
	}, nil
}

func (s *KeyStore) cachedKey(ctx context.Context, organizationID, kid string) (*VerificationKey, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, publicKeyCachePrefix+organizationID+":"+kid)
	if err != nil || !ok {
		return nil, false
	}
	public, err := signing.ParsePublicKeyPEM(string(raw))
	if err != nil {
		return nil, false
	}
	// activity is not cached; validators only need the key material
	return &VerificationKey{KeyID: kid, OrganizationID: organizationID, PublicKey: public}, true
}

func (s *KeyStore) storeCachedKey(ctx context.Context, key *models.CryptoKey) {
	if s.cache == nil {
		return
	}
	cacheKey := publicKeyCachePrefix + key.OrganizationID + ":" + key.KeyID
	if err := s.cache.Set(ctx, cacheKey, []byte(key.PublicKey), s.cacheTTL); err != nil {
		logger.WithModule("keys").Warn("failed to cache public key", zap.String("kid", key.KeyID), zap.Error(err))
	}
}

func toVerificationKey(key *models.CryptoKey) (*VerificationKey, error) {
	public, err := signing.ParsePublicKeyPEM(key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("key store: parse public key %s: %w", key.KeyID, err)
	}
	return &VerificationKey{
		KeyID:          key.KeyID,
		OrganizationID: key.OrganizationID,
		PublicKey:      public,
		Active:         key.IsActive,
	}, nil
}
