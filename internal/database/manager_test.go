package database

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tesseract-hub/contract-ledger-service/internal/tenant"
)

type mockTenantSource struct {
	mock.Mock
}

func (m *mockTenantSource) GetTenant(ctx context.Context, tenantID string) (*tenant.TenantInfo, error) {
	args := m.Called(ctx, tenantID)
	if info := args.Get(0); info != nil {
		return info.(*tenant.TenantInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenantSource) InvalidateCache(ctx context.Context, tenantID string) {
	m.Called(ctx, tenantID)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestMaskedDSN_HidesPassword(t *testing.T) {
	cfg := tenant.DatabaseConfig{
		Host:         "db",
		Port:         5432,
		User:         "ledger",
		Password:     "hunter2",
		DatabaseName: "t1",
	}

	assert.Equal(t, "host=db port=5432 user=ledger password=hunter2 dbname=t1 sslmode=require", BuildDSN(cfg))
	masked := MaskedDSN(cfg)
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "password=***")

	// Short configs must not panic
	assert.NotEmpty(t, MaskedDSN(tenant.DatabaseConfig{}))
}

func TestGetDB_TenantNotConfigured(t *testing.T) {
	source := new(mockTenantSource)
	source.On("GetTenant", mock.Anything, "t1").Return(nil, tenant.ErrTenantNotFound)

	m := NewManager(ManagerConfig{Tenants: source, Logger: quietLogger()})
	defer m.Close()

	_, err := m.GetDB(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrTenantNotConfigured)
	assert.Equal(t, int64(1), m.GetStats()["failed_connections"])
	source.AssertExpectations(t)
}

func TestGetDB_CircuitOpensAfterRepeatedConnectFailures(t *testing.T) {
	source := new(mockTenantSource)
	source.On("GetTenant", mock.Anything, "t1").Return(&tenant.TenantInfo{TenantID: "t1", IsActive: true}, nil)

	var mu sync.Mutex
	attempts := 0
	m := NewManager(ManagerConfig{
		Tenants: source,
		Logger:  quietLogger(),
		Connector: func(ctx context.Context, cfg tenant.DatabaseConfig) (*gorm.DB, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, errors.New("connection refused")
		},
	})
	defer m.Close()

	for i := 0; i < 5; i++ {
		_, err := m.GetDB(context.Background(), "t1")
		require.ErrorIs(t, err, ErrConnectionFailed)
	}

	_, err := m.GetDB(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, 0, m.ActivePools())
}

func TestInvalidate_EvictsRegistryCache(t *testing.T) {
	source := new(mockTenantSource)
	source.On("InvalidateCache", mock.Anything, "t1").Return()

	m := NewManager(ManagerConfig{Tenants: source, Logger: quietLogger()})
	defer m.Close()

	m.Invalidate(context.Background(), "t1")
	source.AssertCalled(t, "InvalidateCache", mock.Anything, "t1")
}
