package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/blobstore"
	"github.com/kodianteach/atlas-platform-sub001/internal/database/testutil"
	"github.com/kodianteach/atlas-platform-sub001/internal/directory"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/notifications"
	"github.com/kodianteach/atlas-platform-sub001/internal/vault"
	"github.com/kodianteach/atlas-platform-sub001/pkg/crypto"
)

const testOrg = "org-1"

var fastArgon2 = crypto.Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

type memoryDocuments struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemoryDocuments() *memoryDocuments {
	return &memoryDocuments{objects: map[string][]byte{}}
}

func (m *memoryDocuments) Store(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memoryDocuments) Retrieve(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", blobstore.ErrNotFound
	}
	return data, "image/jpeg", nil
}

func (m *memoryDocuments) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryDocuments) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type recordingNotifier struct {
	passes chan notifications.Pass
	err    error
}

func newRecordingNotifier(err error) *recordingNotifier {
	return &recordingNotifier{passes: make(chan notifications.Pass, 4), err: err}
}

func (n *recordingNotifier) AuthorizationIssued(_ context.Context, pass notifications.Pass) error {
	n.passes <- pass
	return n.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.AccessEvent
}

func (p *recordingPublisher) PublishAccessEvents(events ...models.AccessEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	db         *gorm.DB
	clock      *testClock
	keys       *KeyStore
	events     *AccessEventService
	auths      *AuthorizationService
	validation *AccessValidationService
	documents  *memoryDocuments
	notifier   *recordingNotifier
	publisher  *recordingPublisher
	unit       models.Unit
	resident   Actor
	admin      Actor
	porter     Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	return newFixtureWithDB(t, db)
}

func newFixtureWithDB(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()

	f := &fixture{
		db:        db,
		clock:     newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		documents: newMemoryDocuments(),
		notifier:  newRecordingNotifier(nil),
		publisher: &recordingPublisher{},
		resident:  Actor{UserID: "resident-1", OrganizationID: testOrg, Role: RoleResident},
		admin:     Actor{UserID: "admin-1", OrganizationID: testOrg, Role: RoleAdmin},
		porter:    Actor{UserID: "porter-1", OrganizationID: testOrg, Role: RolePorter},
	}

	sealer, err := vault.NewCrypto([]byte("test-master-key-material-0123456"), vault.WithArgon2Parameters(fastArgon2))
	require.NoError(t, err)

	f.keys, err = NewKeyStore(db, sealer)
	require.NoError(t, err)

	f.events, err = NewAccessEventService(db, WithEventClock(f.clock.Now), WithEventPublisher(f.publisher))
	require.NoError(t, err)

	units, err := directory.NewUnitDirectory(db)
	require.NoError(t, err)
	memberships, err := directory.NewMembershipDirectory(db)
	require.NoError(t, err)

	f.auths, err = NewAuthorizationService(db, f.keys, units, memberships,
		WithAuthorizationClock(f.clock.Now),
		WithDocumentStore(f.documents),
		WithNotifier(f.notifier),
	)
	require.NoError(t, err)

	f.validation, err = NewAccessValidationService(db, f.keys, f.events, WithValidationClock(f.clock.Now))
	require.NoError(t, err)

	f.unit = models.Unit{OrganizationID: testOrg, Code: "T2-501", Tower: "2"}
	require.NoError(t, db.Create(&f.unit).Error)
	require.NoError(t, db.Create(&models.UnitMembership{UserID: f.resident.UserID, UnitID: f.unit.ID, IsPrimary: true}).Error)

	return f
}

// visitorInput is a pass for this afternoon, starting in one hour.
func (f *fixture) visitorInput() IssueInput {
	now := f.clock.Now()
	return IssueInput{
		PersonName:     "Ana Gomez",
		PersonDocument: "CC-1020304050",
		ServiceType:    models.ServiceTypeVisitor,
		ValidFrom:      now.Add(time.Hour),
		ValidTo:        now.Add(5 * time.Hour),
	}
}

func (f *fixture) issue(t *testing.T, input IssueInput) *models.Authorization {
	t.Helper()
	auth, err := f.auths.Issue(context.Background(), f.resident, input)
	require.NoError(t, err)
	return auth
}

func (f *fixture) validate(t *testing.T, token string) *ValidationResult {
	t.Helper()
	result, err := f.validation.Validate(context.Background(), ValidateInput{
		OrganizationID: testOrg,
		PorterUserID:   f.porter.UserID,
		DeviceID:       "gate-1",
		Token:          token,
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) countEvents(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.AccessEvent{}).Count(&count).Error)
	return count
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}

var errBoom = errors.New("boom")
