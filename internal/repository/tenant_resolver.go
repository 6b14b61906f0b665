package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// DBProvider hands out tenant database handles
type DBProvider interface {
	GetDB(ctx context.Context, tenantID string) (*gorm.DB, error)
}

// TenantStoreResolver resolves a tenant to a GormStore over its own database
type TenantStoreResolver struct {
	dbs DBProvider
}

// NewTenantStoreResolver creates a resolver backed by the connection manager
func NewTenantStoreResolver(dbs DBProvider) *TenantStoreResolver {
	return &TenantStoreResolver{dbs: dbs}
}

// StoreFor returns the tenant's store
func (r *TenantStoreResolver) StoreFor(ctx context.Context, tenantID string) (Store, error) {
	db, err := r.dbs.GetDB(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tenant %s: %w", tenantID, err)
	}
	return NewGormStore(db), nil
}
