package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

func TestAppendBatchPreservesScanTimes(t *testing.T) {
	f := newFixture(t)
	base := f.clock.Now().Add(-6 * time.Hour)
	f.clock.Set(f.clock.Now().Add(time.Minute))

	incoming := []models.AccessEvent{
		{ScanResult: models.ScanResultValid, ScannedAt: base, PersonName: "Ana Gomez", OrganizationID: "spoofed"},
		{ScanResult: models.ScanResultExpired, ScannedAt: base.Add(2 * time.Hour), Action: models.AccessActionExit},
		{ScanResult: models.ScanResultInvalid, ScannedAt: base.Add(4 * time.Hour), DeviceID: "gate-2", PorterUserID: "someone-else"},
	}

	stored, err := f.events.AppendBatch(context.Background(), BatchInput{
		OrganizationID: testOrg,
		PorterUserID:   f.porter.UserID,
		DeviceID:       "gate-1",
		Events:         incoming,
	})
	require.NoError(t, err)
	require.Len(t, stored, 3)

	var rows []models.AccessEvent
	require.NoError(t, f.db.Order("scanned_at ASC").Find(&rows).Error)
	require.Len(t, rows, 3)

	syncedAt := f.clock.Now()
	for i, row := range rows {
		require.Equal(t, base.Add(time.Duration(i)*2*time.Hour), row.ScannedAt.UTC())
		require.NotNil(t, row.SyncedAt)
		require.Equal(t, syncedAt, row.SyncedAt.UTC())
		require.True(t, row.OfflineValidated)
		require.Equal(t, testOrg, row.OrganizationID)
		require.Equal(t, f.porter.UserID, row.PorterUserID)
		require.Len(t, row.ID, 26)
	}
	require.Equal(t, models.AccessActionEntry, rows[0].Action)
	require.Equal(t, "gate-1", rows[0].DeviceID)
	require.Equal(t, models.AccessActionExit, rows[1].Action)
	require.Equal(t, "gate-2", rows[2].DeviceID)
	require.Equal(t, 3, f.publisher.count())
}

func TestAppendBatchEmptyIsNoop(t *testing.T) {
	f := newFixture(t)

	stored, err := f.events.AppendBatch(context.Background(), BatchInput{OrganizationID: testOrg, PorterUserID: f.porter.UserID})
	require.NoError(t, err)
	require.Empty(t, stored)
	require.Zero(t, f.countEvents(t))
}

func TestAppendBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	_, err := f.events.AppendBatch(context.Background(), BatchInput{
		OrganizationID: testOrg,
		PorterUserID:   f.porter.UserID,
		Events: []models.AccessEvent{
			{ScanResult: models.ScanResultValid, ScannedAt: now},
			{ScanResult: "MAYBE", ScannedAt: now},
		},
	})
	requireKind(t, err, ErrKindInvalidEvent)

	_, err = f.events.AppendBatch(context.Background(), BatchInput{
		OrganizationID: testOrg,
		PorterUserID:   f.porter.UserID,
		Events:         []models.AccessEvent{{ScanResult: models.ScanResultValid}},
	})
	requireKind(t, err, ErrKindInvalidEvent)

	require.Zero(t, f.countEvents(t))
}

func TestAppendBatchRejectsScanTimesBeforeEpoch(t *testing.T) {
	f := newFixture(t)

	_, err := f.events.AppendBatch(context.Background(), BatchInput{
		OrganizationID: testOrg,
		PorterUserID:   f.porter.UserID,
		Events: []models.AccessEvent{
			{ScanResult: models.ScanResultValid, ScannedAt: f.clock.Now()},
			{ScanResult: models.ScanResultValid, ScannedAt: time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)},
		},
	})
	requireKind(t, err, ErrKindInvalidEvent)
	require.ErrorContains(t, err, "event 1")
	require.Zero(t, f.countEvents(t))
}

func TestAppendBatchDetachesForeignAuthorizations(t *testing.T) {
	f := newFixture(t)
	own := f.issue(t, f.visitorInput())

	foreign := models.Authorization{
		OrganizationID:  "org-2",
		UnitID:          f.unit.ID,
		PersonName:      "Luis Vega",
		PersonDocument:  "CC-99",
		ServiceType:     models.ServiceTypeVisitor,
		ValidFrom:       f.clock.Now(),
		ValidTo:         f.clock.Now().Add(time.Hour),
		Status:          models.AuthorizationStatusActive,
		CreatedByUserID: "resident-9",
		SignedQR:        "x.y",
	}
	require.NoError(t, f.db.Create(&foreign).Error)

	ownID, foreignID, unknownID := own.ID, foreign.ID, "does-not-exist"
	stored, err := f.events.AppendBatch(context.Background(), BatchInput{
		OrganizationID: testOrg,
		PorterUserID:   f.porter.UserID,
		DeviceID:       "gate-1",
		Events: []models.AccessEvent{
			{AuthorizationID: &ownID, ScanResult: models.ScanResultValid, ScannedAt: f.clock.Now()},
			{AuthorizationID: &foreignID, ScanResult: models.ScanResultValid, ScannedAt: f.clock.Now(), Notes: "offline"},
			{AuthorizationID: &unknownID, ScanResult: models.ScanResultInvalid, ScannedAt: f.clock.Now()},
		},
	})
	require.NoError(t, err)
	require.Len(t, stored, 3)

	var rows []models.AccessEvent
	require.NoError(t, f.db.Order("id ASC").Find(&rows).Error)
	require.Len(t, rows, 3)

	byNotes := map[string]models.AccessEvent{}
	for _, row := range rows {
		byNotes[row.Notes] = row
	}
	require.NotNil(t, byNotes[""].AuthorizationID)
	require.Equal(t, ownID, *byNotes[""].AuthorizationID)
	require.Nil(t, byNotes["offline; authorization not found"].AuthorizationID)
	require.Nil(t, byNotes["authorization not found"].AuthorizationID)
}

func TestAppendValidatesEvent(t *testing.T) {
	f := newFixture(t)

	err := f.events.Append(context.Background(), &models.AccessEvent{OrganizationID: testOrg, ScanResult: models.ScanResultValid})
	requireKind(t, err, ErrKindInvalidEvent)

	event := &models.AccessEvent{OrganizationID: testOrg, PorterUserID: f.porter.UserID, ScanResult: models.ScanResultValid}
	require.NoError(t, f.events.Append(context.Background(), event))
	require.Equal(t, f.clock.Now(), event.ScannedAt)
	require.Equal(t, models.AccessActionEntry, event.Action)
}

func TestLedgerRowsAreImmutable(t *testing.T) {
	f := newFixture(t)
	event := &models.AccessEvent{OrganizationID: testOrg, PorterUserID: f.porter.UserID, ScanResult: models.ScanResultValid}
	require.NoError(t, f.events.Append(context.Background(), event))

	event.Notes = "edited"
	require.ErrorIs(t, f.db.Save(event).Error, models.ErrAccessEventImmutable)
	require.ErrorIs(t, f.db.Delete(event).Error, models.ErrAccessEventImmutable)
	require.EqualValues(t, 1, f.countEvents(t))
}

func TestListFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	for i := 0; i < 5; i++ {
		result := models.ScanResultValid
		if i%2 == 1 {
			result = models.ScanResultInvalid
		}
		require.NoError(t, f.events.Append(ctx, &models.AccessEvent{
			OrganizationID: testOrg,
			PorterUserID:   f.porter.UserID,
			DeviceID:       "gate-1",
			ScanResult:     result,
			ScannedAt:      now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.events.Append(ctx, &models.AccessEvent{
		OrganizationID: "org-2",
		PorterUserID:   "porter-2",
		ScanResult:     models.ScanResultValid,
		ScannedAt:      now,
	}))

	events, total, err := f.events.List(ctx, testOrg, EventListOptions{PerPage: 2})
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, events, 2)
	require.Equal(t, now.Add(4*time.Minute), events[0].ScannedAt.UTC())

	events, total, err = f.events.List(ctx, testOrg, EventListOptions{ScanResult: models.ScanResultInvalid})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, events, 2)

	since := now.Add(2 * time.Minute)
	_, total, err = f.events.List(ctx, testOrg, EventListOptions{Since: &since, DeviceID: "gate-1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
}
