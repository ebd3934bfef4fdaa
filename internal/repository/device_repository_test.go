package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecrm/basecrm-api/internal/models"
)

func TestFindByFingerprint(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	now := time.Now()
	name := "Windows PC - Chrome"
	rows := sqlmock.NewRows([]string{"id", "user_id", "device_fingerprint", "device_name", "trusted_at", "last_used_at"}).
		AddRow("d1", "u1", "fp-abc", name, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+deviceColumns+" FROM trusted_devices WHERE user_id = $1 AND device_fingerprint = $2 LIMIT 1")).
		WithArgs("u1", "fp-abc").
		WillReturnRows(rows)

	device, err := repo.FindByFingerprint(context.Background(), "u1", "fp-abc")
	require.NoError(t, err)
	require.NotNil(t, device.DeviceName)
	assert.Equal(t, name, *device.DeviceName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDevice(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectExec("INSERT INTO trusted_devices").WillReturnResult(sqlmock.NewResult(1, 1))

	name := "iPhone"
	device := &models.TrustedDevice{UserID: "u1", DeviceFingerprint: "fp-abc", DeviceName: &name}
	require.NoError(t, repo.Upsert(context.Background(), device))
	assert.NotEmpty(t, device.ID)
	assert.False(t, device.TrustedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDeviceNotOwned(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectExec("DELETE FROM trusted_devices").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), "u1", "d-other")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "device_fingerprint", "device_name", "trusted_at", "last_used_at"}).
		AddRow("d1", "u1", "fp-1", nil, now, now).
		AddRow("d2", "u1", "fp-2", "Mac - Safari", now, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT .+ FROM trusted_devices WHERE user_id").
		WithArgs("u1").
		WillReturnRows(rows)

	devices, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Nil(t, devices[0].DeviceName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
