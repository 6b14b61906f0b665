package tenant

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrTenantNotFound      = errors.New("tenant not found in registry")
	ErrInvalidCredentials  = errors.New("invalid or corrupted credentials")
	ErrRegistryUnavailable = errors.New("tenant registry service unavailable")
	ErrInvalidTenantID     = errors.New("invalid tenant ID format")
	ErrTenantInactive      = errors.New("tenant is inactive")
)

const (
	serviceName        = "contract-ledger-service"
	redisKeyPrefix     = "contracts:tenant:"
	redisActiveListKey = "contracts:tenants:active"
)

// DatabaseConfig holds the connection configuration for a tenant's database
type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"` // AES-GCM encrypted by the registry
	DatabaseName string `json:"database_name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime_seconds"`
}

// TenantInfo contains the tenant configuration the ledger needs
type TenantInfo struct {
	TenantID       string         `json:"tenant_id"`
	Name           string         `json:"name"`
	DatabaseConfig DatabaseConfig `json:"database_config"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Registry resolves tenant configuration from the tenant registry service.
// Lookups go local memory -> Redis -> registry HTTP API.
type Registry struct {
	mu          sync.RWMutex
	cache       map[string]*TenantInfo
	cacheExpiry map[string]time.Time
	cacheTTL    time.Duration

	redisClient   *redis.Client
	registryURL   string
	encryptionKey []byte

	logger     *logrus.Logger
	httpClient *http.Client

	maxRetries     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	cacheHits      int64
	cacheMisses    int64
	registryErrors int64
	retryCount     int64
}

// RegistryConfig holds configuration for the tenant registry
type RegistryConfig struct {
	RegistryURL   string        // Base URL of the tenant registry service
	EncryptionKey string        // Base64 encoded AES-256 key for credential decryption
	CacheTTL      time.Duration // Default: 5 minutes
	RedisClient   *redis.Client // Optional shared cache
	Logger        *logrus.Logger
	HTTPClient    *http.Client

	MaxRetries     int           // Default: 3
	RetryBaseDelay time.Duration // Default: 100ms
	RetryMaxDelay  time.Duration // Default: 2s
}

// NewRegistry creates a new tenant registry client
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryBaseDelay == 0 {
		config.RetryBaseDelay = 100 * time.Millisecond
	}
	if config.RetryMaxDelay == 0 {
		config.RetryMaxDelay = 2 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	if config.RegistryURL == "" {
		return nil, fmt.Errorf("registry URL is required")
	}

	var encKey []byte
	if config.EncryptionKey != "" {
		var err error
		encKey, err = base64.StdEncoding.DecodeString(config.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		if len(encKey) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes (AES-256)")
		}
	}

	return &Registry{
		cache:          make(map[string]*TenantInfo),
		cacheExpiry:    make(map[string]time.Time),
		cacheTTL:       config.CacheTTL,
		redisClient:    config.RedisClient,
		registryURL:    config.RegistryURL,
		encryptionKey:  encKey,
		logger:         config.Logger,
		httpClient:     config.HTTPClient,
		maxRetries:     config.MaxRetries,
		retryBaseDelay: config.RetryBaseDelay,
		retryMaxDelay:  config.RetryMaxDelay,
	}, nil
}

// ValidateTenantID checks the tenant ID is a UUID
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant ID cannot be empty", ErrInvalidTenantID)
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("%w: expected UUID format", ErrInvalidTenantID)
	}
	return nil
}

// GetTenant retrieves tenant configuration with decrypted credentials
func (r *Registry) GetTenant(ctx context.Context, tenantID string) (*TenantInfo, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if info := r.getFromLocalCache(tenantID); info != nil {
		r.countHit()
		return info, nil
	}

	var info *TenantInfo
	if r.redisClient != nil {
		info = r.getFromRedisCache(ctx, tenantID)
	}

	if info != nil {
		r.countHit()
	} else {
		r.mu.Lock()
		r.cacheMisses++
		r.mu.Unlock()

		fetched, err := withRetry(ctx, r, tenantID, func(ctx context.Context) (*TenantInfo, error) {
			return r.fetchFromRegistry(ctx, tenantID)
		})
		if err != nil {
			r.mu.Lock()
			r.registryErrors++
			r.mu.Unlock()
			return nil, err
		}
		info = fetched

		// Redis holds the registry payload as received, credentials still encrypted
		if r.redisClient != nil {
			r.setRedisCache(ctx, tenantID, info)
		}
	}

	if !info.IsActive {
		r.InvalidateCache(ctx, tenantID)
		return nil, ErrTenantInactive
	}

	if err := r.decryptCredentials(info); err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for tenant %s: %w", tenantID, err)
	}

	r.setLocalCache(tenantID, info)
	return info, nil
}

// ListActiveTenants returns the IDs of all active tenants. When the registry
// is unreachable the last list cached in Redis is used; with no cached list
// the registry error is returned.
func (r *Registry) ListActiveTenants(ctx context.Context) ([]string, error) {
	ids, err := withRetry(ctx, r, "*", r.fetchActiveList)
	if err == nil {
		if r.redisClient != nil {
			if data, mErr := json.Marshal(ids); mErr == nil {
				if sErr := r.redisClient.Set(ctx, redisActiveListKey, data, r.cacheTTL).Err(); sErr != nil {
					r.logger.WithError(sErr).Warn("Failed to cache active tenant list in Redis")
				}
			}
		}
		return ids, nil
	}

	r.mu.Lock()
	r.registryErrors++
	r.mu.Unlock()

	if r.redisClient != nil {
		if data, rErr := r.redisClient.Get(ctx, redisActiveListKey).Bytes(); rErr == nil {
			var cached []string
			if json.Unmarshal(data, &cached) == nil {
				r.logger.WithError(err).WithField("tenants", len(cached)).Warn("Tenant registry unavailable, using cached active tenant list")
				return cached, nil
			}
		}
	}

	return nil, err
}

// withRetry runs fetch with exponential backoff. ErrTenantNotFound is not retried.
func withRetry[T any](ctx context.Context, r *Registry, tenantID string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := r.retryBaseDelay

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fetch(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrTenantNotFound) {
			return zero, err
		}

		if attempt < r.maxRetries {
			r.logger.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"attempt":   attempt + 1,
				"max":       r.maxRetries + 1,
				"delay":     delay.String(),
			}).WithError(err).Warn("Retrying registry fetch")

			r.mu.Lock()
			r.retryCount++
			r.mu.Unlock()

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
			if delay > r.retryMaxDelay {
				delay = r.retryMaxDelay
			}
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *Registry) countHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

func (r *Registry) getFromLocalCache(tenantID string) *TenantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expiry, exists := r.cacheExpiry[tenantID]
	if !exists || time.Now().After(expiry) {
		return nil
	}
	return r.cache[tenantID]
}

func (r *Registry) setLocalCache(tenantID string, info *TenantInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[tenantID] = info
	r.cacheExpiry[tenantID] = time.Now().Add(r.cacheTTL)
}

func (r *Registry) getFromRedisCache(ctx context.Context, tenantID string) *TenantInfo {
	data, err := r.redisClient.Get(ctx, redisKeyPrefix+tenantID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.WithError(err).Debug("Redis tenant lookup failed")
		}
		return nil
	}

	var info TenantInfo
	if err := json.Unmarshal(data, &info); err != nil {
		r.logger.WithError(err).Warn("Failed to unmarshal tenant info from Redis")
		return nil
	}
	return &info
}

func (r *Registry) setRedisCache(ctx context.Context, tenantID string, info *TenantInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to marshal tenant info for Redis")
		return
	}
	if err := r.redisClient.Set(ctx, redisKeyPrefix+tenantID, data, r.cacheTTL).Err(); err != nil {
		r.logger.WithError(err).Warn("Failed to cache tenant info in Redis")
	}
}

func (r *Registry) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-Service", serviceName)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return resp, nil
}

func (r *Registry) fetchFromRegistry(ctx context.Context, tenantID string) (*TenantInfo, error) {
	resp, err := r.get(ctx, fmt.Sprintf("%s/api/v1/tenants/%s/contract-config", r.registryURL, tenantID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTenantNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registry returned status %d", ErrRegistryUnavailable, resp.StatusCode)
	}

	var info TenantInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tenant config: %w", err)
	}
	if info.TenantID == "" {
		info.TenantID = tenantID
	}
	return &info, nil
}

func (r *Registry) fetchActiveList(ctx context.Context) ([]string, error) {
	resp, err := r.get(ctx, fmt.Sprintf("%s/api/v1/tenants/active", r.registryURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registry returned status %d", ErrRegistryUnavailable, resp.StatusCode)
	}

	var response struct {
		TenantIDs []string `json:"tenant_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode tenant list: %w", err)
	}
	return response.TenantIDs, nil
}

// decryptCredentials decrypts the database password in place.
// The ciphertext is base64(nonce || sealed).
func (r *Registry) decryptCredentials(info *TenantInfo) error {
	if r.encryptionKey == nil || info.DatabaseConfig.Password == "" {
		return nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(info.DatabaseConfig.Password)
	if err != nil {
		return ErrInvalidCredentials
	}

	block, err := aes.NewCipher(r.encryptionKey)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return ErrInvalidCredentials
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrInvalidCredentials
	}

	info.DatabaseConfig.Password = string(plaintext)
	return nil
}

// InvalidateCache removes a tenant from all caches
func (r *Registry) InvalidateCache(ctx context.Context, tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	delete(r.cacheExpiry, tenantID)
	r.mu.Unlock()

	if r.redisClient != nil {
		if err := r.redisClient.Del(ctx, redisKeyPrefix+tenantID).Err(); err != nil {
			r.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to evict tenant from Redis")
		}
	}
}

// GetStats returns cache statistics
func (r *Registry) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totalRequests := r.cacheHits + r.cacheMisses
	hitRate := float64(0)
	if totalRequests > 0 {
		hitRate = float64(r.cacheHits) / float64(totalRequests)
	}

	return map[string]interface{}{
		"cache_size":      len(r.cache),
		"cache_hits":      r.cacheHits,
		"cache_misses":    r.cacheMisses,
		"registry_errors": r.registryErrors,
		"retry_count":     r.retryCount,
		"hit_rate":        hitRate,
		"redis_enabled":   r.redisClient != nil,
	}
}
