package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
	"github.com/tesseract-hub/contract-ledger-service/internal/tenant"
)

var (
	ErrConnectionFailed    = errors.New("failed to establish database connection")
	ErrCircuitOpen         = errors.New("circuit breaker is open, database unavailable")
	ErrTenantNotConfigured = errors.New("tenant database not configured")
)

// TenantSource supplies tenant database configuration
type TenantSource interface {
	GetTenant(ctx context.Context, tenantID string) (*tenant.TenantInfo, error)
	InvalidateCache(ctx context.Context, tenantID string)
}

// Connector opens a database handle for a tenant configuration
type Connector func(ctx context.Context, cfg tenant.DatabaseConfig) (*gorm.DB, error)

// ConnectionPool is the pooled handle of one tenant's database
type ConnectionPool struct {
	DB          *gorm.DB
	TenantID    string
	CreatedAt   time.Time
	LastUsed    time.Time
	IsHealthy   bool
	HealthCheck time.Time
	MaskedDSN   string
}

// Manager owns the per-tenant database handles of the process. It is created
// at startup and closed at shutdown.
type Manager struct {
	mu              sync.RWMutex
	pools           map[string]*ConnectionPool
	circuitBreakers map[string]*gobreaker.CircuitBreaker

	tenants TenantSource
	connect Connector
	logger  *logrus.Logger

	maxPools            int
	poolCleanupInterval time.Duration
	healthCheckInterval time.Duration
	idleTimeout         time.Duration
	connectionTimeout   time.Duration
	autoMigrate         bool

	totalConnections    int64
	failedConnections   int64
	circuitBreakerTrips int64

	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerConfig holds configuration for the database manager
type ManagerConfig struct {
	Tenants             TenantSource
	Logger              *logrus.Logger
	Connector           Connector     // Default: postgres via gorm
	MaxPools            int           // Default: 100
	PoolCleanupInterval time.Duration // Default: 5 minutes
	HealthCheckInterval time.Duration // Default: 30 seconds
	IdleTimeout         time.Duration // Default: 10 minutes
	ConnectionTimeout   time.Duration // Default: 10 seconds
	AutoMigrate         bool
}

// NewManager creates a new tenant connection manager and starts its
// background cleanup and health checks
func NewManager(config ManagerConfig) *Manager {
	if config.MaxPools == 0 {
		config.MaxPools = 100
	}
	if config.PoolCleanupInterval == 0 {
		config.PoolCleanupInterval = 5 * time.Minute
	}
	if config.HealthCheckInterval == 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 10 * time.Minute
	}
	if config.ConnectionTimeout == 0 {
		config.ConnectionTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		pools:               make(map[string]*ConnectionPool),
		circuitBreakers:     make(map[string]*gobreaker.CircuitBreaker),
		tenants:             config.Tenants,
		connect:             config.Connector,
		logger:              config.Logger,
		maxPools:            config.MaxPools,
		poolCleanupInterval: config.PoolCleanupInterval,
		healthCheckInterval: config.HealthCheckInterval,
		idleTimeout:         config.IdleTimeout,
		connectionTimeout:   config.ConnectionTimeout,
		autoMigrate:         config.AutoMigrate,
		ctx:                 ctx,
		cancel:              cancel,
	}
	if m.connect == nil {
		m.connect = m.openPostgres
	}

	go m.startPoolCleanup()
	go m.startHealthChecks()

	return m
}

// GetDB returns the tenant's database handle, connecting on first use
func (m *Manager) GetDB(ctx context.Context, tenantID string) (*gorm.DB, error) {
	cb := m.getCircuitBreaker(tenantID)
	if cb.State() == gobreaker.StateOpen {
		return nil, ErrCircuitOpen
	}

	if pool := m.getPool(tenantID); pool != nil {
		if pool.IsHealthy {
			m.updateLastUsed(tenantID)
			return pool.DB, nil
		}
		m.removePool(tenantID)
	}

	return m.createConnection(ctx, tenantID, cb)
}

// Invalidate closes the tenant's pooled handle and evicts its cached
// configuration. The next GetDB reconnects with fresh credentials.
func (m *Manager) Invalidate(ctx context.Context, tenantID string) {
	m.removePool(tenantID)
	if m.tenants != nil {
		m.tenants.InvalidateCache(ctx, tenantID)
	}
	m.logger.WithField("tenant_id", tenantID).Info("Invalidated tenant database connection")
}

func (m *Manager) getPool(tenantID string) *ConnectionPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[tenantID]
}

func (m *Manager) createConnection(ctx context.Context, tenantID string, cb *gobreaker.CircuitBreaker) (*gorm.DB, error) {
	if m.tenants == nil {
		return nil, ErrTenantNotConfigured
	}

	info, err := m.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		m.countFailure()
		return nil, fmt.Errorf("%w: %v", ErrTenantNotConfigured, err)
	}

	maskedDSN := MaskedDSN(info.DatabaseConfig)

	result, err := cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, m.connectionTimeout)
		defer cancel()
		return m.connect(ctx, info.DatabaseConfig)
	})
	if err != nil {
		m.mu.Lock()
		m.failedConnections++
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			m.circuitBreakerTrips++
		}
		m.mu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"dsn":       maskedDSN,
		}).WithError(err).Error("Failed to connect to tenant database")
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	db := result.(*gorm.DB)

	if m.autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			m.logger.WithField("tenant_id", tenantID).WithError(err).Error("Failed to run migrations")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request may have connected while this one was dialing.
	if existing, ok := m.pools[tenantID]; ok && existing.IsHealthy {
		closeDB(db)
		existing.LastUsed = time.Now()
		return existing.DB, nil
	}

	if len(m.pools) >= m.maxPools {
		m.evictLRUPool()
	}

	now := time.Now()
	m.pools[tenantID] = &ConnectionPool{
		DB:          db,
		TenantID:    tenantID,
		CreatedAt:   now,
		LastUsed:    now,
		IsHealthy:   true,
		HealthCheck: now,
		MaskedDSN:   maskedDSN,
	}
	m.totalConnections++

	m.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"dsn":       maskedDSN,
	}).Info("Established new database connection for tenant")

	return db, nil
}

func (m *Manager) countFailure() {
	m.mu.Lock()
	m.failedConnections++
	m.mu.Unlock()
}

// BuildDSN constructs the PostgreSQL connection string
func BuildDSN(cfg tenant.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DatabaseName, sslMode(cfg),
	)
}

// MaskedDSN is BuildDSN with the password hidden, for logging
func MaskedDSN(cfg tenant.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=*** dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.DatabaseName, sslMode(cfg),
	)
}

func sslMode(cfg tenant.DatabaseConfig) string {
	if cfg.SSLMode == "" {
		return "require"
	}
	return cfg.SSLMode
}

// openPostgres opens and pings a gorm postgres handle within ctx's deadline
func (m *Manager) openPostgres(ctx context.Context, cfg tenant.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(BuildDSN(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 10
	}
	maxLifetime := cfg.MaxLifetime
	if maxLifetime == 0 {
		maxLifetime = 3600
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(maxLifetime) * time.Second)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (m *Manager) getCircuitBreaker(tenantID string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.circuitBreakers[tenantID]; exists {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("db-%s", tenantID),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Info("Circuit breaker state changed")
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	m.circuitBreakers[tenantID] = cb
	return cb
}

func (m *Manager) updateLastUsed(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, exists := m.pools[tenantID]; exists {
		pool.LastUsed = time.Now()
	}
}

func (m *Manager) removePool(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, exists := m.pools[tenantID]; exists {
		closeDB(pool.DB)
		delete(m.pools, tenantID)
	}
}

// evictLRUPool removes the least recently used pool. Caller holds m.mu.
func (m *Manager) evictLRUPool() {
	var oldestTenant string
	var oldestTime time.Time

	for tenantID, pool := range m.pools {
		if oldestTenant == "" || pool.LastUsed.Before(oldestTime) {
			oldestTenant = tenantID
			oldestTime = pool.LastUsed
		}
	}

	if oldestTenant != "" {
		closeDB(m.pools[oldestTenant].DB)
		delete(m.pools, oldestTenant)
		m.logger.WithField("tenant_id", oldestTenant).Debug("Evicted LRU connection pool")
	}
}

func (m *Manager) startPoolCleanup() {
	ticker := time.NewTicker(m.poolCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdlePools()
		}
	}
}

func (m *Manager) cleanupIdlePools() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for tenantID, pool := range m.pools {
		if now.Sub(pool.LastUsed) > m.idleTimeout {
			closeDB(pool.DB)
			delete(m.pools, tenantID)
			m.logger.WithField("tenant_id", tenantID).Debug("Closed idle connection pool")
		}
	}
}

func (m *Manager) startHealthChecks() {
	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runHealthChecks()
		}
	}
}

func (m *Manager) runHealthChecks() {
	m.mu.RLock()
	tenantIDs := make([]string, 0, len(m.pools))
	for tenantID := range m.pools {
		tenantIDs = append(tenantIDs, tenantID)
	}
	m.mu.RUnlock()

	for _, tenantID := range tenantIDs {
		m.checkPoolHealth(tenantID)
	}
}

func (m *Manager) checkPoolHealth(tenantID string) {
	pool := m.getPool(tenantID)
	if pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	healthy := true
	if sqlDB, err := pool.DB.DB(); err != nil {
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		healthy = false
		m.logger.WithField("tenant_id", tenantID).WithError(err).Warn("Database health check failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, exists := m.pools[tenantID]; exists {
		pool.IsHealthy = healthy
		pool.HealthCheck = time.Now()
	}
}

// ActivePools returns the number of open tenant pools
func (m *Manager) ActivePools() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// GetStats returns connection manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	poolDetails := make([]map[string]interface{}, 0, len(m.pools))
	for tenantID, pool := range m.pools {
		poolDetails = append(poolDetails, map[string]interface{}{
			"tenant_id":    tenantID,
			"is_healthy":   pool.IsHealthy,
			"created_at":   pool.CreatedAt,
			"last_used":    pool.LastUsed,
			"health_check": pool.HealthCheck,
		})
	}

	return map[string]interface{}{
		"active_connections":    len(m.pools),
		"total_connections":     m.totalConnections,
		"failed_connections":    m.failedConnections,
		"circuit_breaker_trips": m.circuitBreakerTrips,
		"max_pools":             m.maxPools,
		"pools":                 poolDetails,
	}
}

// Close stops background tasks and closes all pools
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	for tenantID, pool := range m.pools {
		if sqlDB, err := pool.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				m.logger.WithField("tenant_id", tenantID).WithError(err).Warn("Error closing pool")
			}
		}
	}

	m.pools = make(map[string]*ConnectionPool)
	return nil
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
