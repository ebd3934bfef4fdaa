package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
)

type mockDeviceRepo struct {
	devices     map[string]*models.TrustedDevice
	upserted    []*models.TrustedDevice
	touched     []string
	deleteOK    bool
	deleteErr   error
	deletedUser string
}

func (m *mockDeviceRepo) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	device, ok := m.devices[userID+"/"+fingerprint]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return device, nil
}

func (m *mockDeviceRepo) Upsert(ctx context.Context, device *models.TrustedDevice) error {
	m.upserted = append(m.upserted, device)
	return nil
}

func (m *mockDeviceRepo) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	m.touched = append(m.touched, id)
	return nil
}

func (m *mockDeviceRepo) ListByUser(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	var out []models.TrustedDevice
	for _, d := range m.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockDeviceRepo) Delete(ctx context.Context, userID, deviceID string) (bool, error) {
	return m.deleteOK, m.deleteErr
}

func (m *mockDeviceRepo) DeleteByUser(ctx context.Context, userID string) error {
	m.deletedUser = userID
	return nil
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("Mozilla/5.0 (Windows NT 10.0) Chrome/120", "10.0.0.1")
	b := Fingerprint("Mozilla/5.0 (Windows NT 10.0) Chrome/120", "10.0.0.1")
	c := Fingerprint("Mozilla/5.0 (Windows NT 10.0) Chrome/120", "10.0.0.2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeviceName(t *testing.T) {
	assert.Equal(t, "Windows PC - Chrome", DeviceName("Mozilla/5.0 (Windows NT 10.0; Win64) Chrome/120.0"))
	assert.Equal(t, "Windows PC - Firefox", DeviceName("Mozilla/5.0 (Windows NT 10.0; Win64; rv:121.0) Firefox/121.0"))
	assert.Equal(t, "Mac", DeviceName("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605"))
	assert.Equal(t, "iPhone", DeviceName("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"))
	assert.Equal(t, "Android Device", DeviceName("Mozilla/5.0 (Linux; Android 14; Pixel 8)"))
	assert.Equal(t, "Linux PC", DeviceName("Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0"))
	assert.Equal(t, "Unknown Device", DeviceName("curl/8.4.0"))
}

func TestIsTrustedUnknownDevice(t *testing.T) {
	repo := &mockDeviceRepo{devices: map[string]*models.TrustedDevice{}}
	svc := NewDeviceService(repo, nil)

	trusted, err := svc.IsTrusted(context.Background(), "u1", "agent", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, trusted)
	assert.Empty(t, repo.touched)
}

func TestIsTrustedTouchesLastUsed(t *testing.T) {
	fp := Fingerprint("agent", "10.0.0.1")
	repo := &mockDeviceRepo{devices: map[string]*models.TrustedDevice{
		"u1/" + fp: {ID: "d1", UserID: "u1", DeviceFingerprint: fp},
	}}
	svc := NewDeviceService(repo, nil)

	trusted, err := svc.IsTrusted(context.Background(), "u1", "agent", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, trusted)
	assert.Equal(t, []string{"d1"}, repo.touched)
}

func TestTrustSetsNameAndFingerprint(t *testing.T) {
	repo := &mockDeviceRepo{devices: map[string]*models.TrustedDevice{}}
	svc := NewDeviceService(repo, nil)

	device, err := svc.Trust(context.Background(), "u1", "Mozilla/5.0 (iPhone)", "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, device.DeviceName)
	assert.Equal(t, "iPhone", *device.DeviceName)
	assert.Equal(t, Fingerprint("Mozilla/5.0 (iPhone)", "10.0.0.1"), device.DeviceFingerprint)
	assert.Len(t, repo.upserted, 1)
}

func TestUntrustNotFound(t *testing.T) {
	repo := &mockDeviceRepo{deleteOK: false}
	svc := NewDeviceService(repo, nil)

	err := svc.Untrust(context.Background(), "u1", "d-missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
