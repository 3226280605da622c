package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/database/testutil"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

func TestUnitDirectoryFindByID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	dir, err := NewUnitDirectory(db)
	require.NoError(t, err)

	unit := models.Unit{OrganizationID: "org-1", Code: "T2-501", Tower: "2"}
	require.NoError(t, db.Create(&unit).Error)

	found, err := dir.FindByID(context.Background(), unit.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "T2-501", found.Code)

	missing, err := dir.FindByID(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMembershipDirectoryFindPrimaryUnit(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	dir, err := NewMembershipDirectory(db)
	require.NoError(t, err)

	primary := models.Unit{OrganizationID: "org-1", Code: "A-101"}
	secondary := models.Unit{OrganizationID: "org-1", Code: "A-102"}
	require.NoError(t, db.Create(&primary).Error)
	require.NoError(t, db.Create(&secondary).Error)

	require.NoError(t, db.Create(&models.UnitMembership{UserID: "user-1", UnitID: secondary.ID}).Error)
	require.NoError(t, db.Create(&models.UnitMembership{UserID: "user-1", UnitID: primary.ID, IsPrimary: true}).Error)

	unitID, err := dir.FindPrimaryUnit(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, primary.ID, unitID)

	unitID, err = dir.FindPrimaryUnit(context.Background(), "user-2")
	require.NoError(t, err)
	require.Empty(t, unitID)
}
