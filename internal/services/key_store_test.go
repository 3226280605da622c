package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/cache"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/signing"
)

func TestGetOrCreateActiveKeyProvisionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.keys.GetActiveKey(ctx, testOrg)
	requireKind(t, err, ErrKindKeyNotFound)

	first, err := f.keys.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)
	require.True(t, first.IsActive)
	require.Equal(t, signing.Algorithm, first.Algorithm)
	require.NotEmpty(t, first.KeyID)
	require.NotContains(t, first.EncryptedPrivateKey, first.PublicKey)

	second, err := f.keys.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)
	require.Equal(t, first.KeyID, second.KeyID)

	other, err := f.keys.GetOrCreateActiveKey(ctx, "org-2")
	require.NoError(t, err)
	require.NotEqual(t, first.KeyID, other.KeyID)

	count, err := f.keys.CountActive(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestGetOrCreateActiveKeyConcurrentFirstUse(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	kids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			key, err := f.keys.GetOrCreateActiveKey(context.Background(), testOrg)
			errs[i] = err
			if key != nil {
				kids[i] = key.KeyID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, kids[0], kids[i])
	}

	var active int64
	require.NoError(t, f.db.Model(&models.CryptoKey{}).
		Where("organization_id = ? AND is_active = ?", testOrg, true).
		Count(&active).Error)
	require.EqualValues(t, 1, active)
}

func TestPrivateKeySignsForPublishedPublicKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key, err := f.keys.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)

	seed, err := f.keys.PrivateKey(key)
	require.NoError(t, err)

	signature, err := signing.Sign([]byte("payload"), seed)
	require.NoError(t, err)

	verification, err := f.keys.GetVerificationKey(ctx, testOrg, key.KeyID)
	require.NoError(t, err)
	require.True(t, verification.Active)
	require.True(t, signing.Verify([]byte("payload"), signature, verification.PublicKey))
}

func TestPrivateKeyIsBoundToTenant(t *testing.T) {
	f := newFixture(t)

	key, err := f.keys.GetOrCreateActiveKey(context.Background(), testOrg)
	require.NoError(t, err)

	moved := *key
	moved.OrganizationID = "org-2"
	_, err = f.keys.PrivateKey(&moved)
	require.Error(t, err)
}

func TestGetVerificationKeyLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.keys.GetVerificationKey(ctx, testOrg, "k-missing")
	requireKind(t, err, ErrKindKeyNotFound)

	key, err := f.keys.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)

	_, err = f.keys.GetVerificationKey(ctx, testOrg, "k-missing")
	requireKind(t, err, ErrKindUnknownKey)

	_, err = f.keys.GetVerificationKey(ctx, "org-2", key.KeyID)
	requireKind(t, err, ErrKindKeyNotFound)

	byActive, err := f.keys.GetVerificationKey(ctx, testOrg, "")
	require.NoError(t, err)
	require.Equal(t, key.KeyID, byActive.KeyID)
}

func TestRetiredKeysRemainVerifiable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.keys.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)
	old.Retire(f.clock.Now())
	require.NoError(t, f.db.Save(old).Error)

	current, err := f.keys.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)
	require.NotEqual(t, old.KeyID, current.KeyID)

	verification, err := f.keys.GetVerificationKey(ctx, testOrg, old.KeyID)
	require.NoError(t, err)
	require.False(t, verification.Active)

	keys, err := f.keys.PublicKeys(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestGetVerificationKeyUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := cache.NewDatabaseStore(f.db)
	cached, err := NewKeyStore(f.db, f.keys.crypto, WithPublicKeyCache(store, time.Hour))
	require.NoError(t, err)

	key, err := cached.GetOrCreateActiveKey(ctx, testOrg)
	require.NoError(t, err)

	_, err = cached.GetVerificationKey(ctx, testOrg, key.KeyID)
	require.NoError(t, err)

	raw, ok, err := store.Get(ctx, publicKeyCachePrefix+testOrg+":"+key.KeyID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key.PublicKey, string(raw))

	// served from cache even once the row is gone
	require.NoError(t, f.db.Unscoped().Delete(&models.CryptoKey{}, "key_id = ?", key.KeyID).Error)
	verification, err := cached.GetVerificationKey(ctx, testOrg, key.KeyID)
	require.NoError(t, err)
	require.Equal(t, key.KeyID, verification.KeyID)
}
