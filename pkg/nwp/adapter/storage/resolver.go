package storage

import (
	"context"
	"fmt"

	coreConfig "github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
)

// connectionResolver resolves storage connections by looking up the backend
// type of the named configuration entry and delegating to the matching
// provider.
type connectionResolver struct {
	providers map[string]StorageProvider
	cfg       *coreConfig.Config
}

// NewStorageConnectionResolver creates a resolver over the registered
// providers.
func NewStorageConnectionResolver(providers map[string]StorageProvider, cfg *coreConfig.Config) StorageConnectionResolver {
	return &connectionResolver{
		providers: providers,
		cfg:       cfg,
	}
}

// ResolveStorageConnection resolves a StorageConnection instance by the given name.
func (r *connectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	storageCfg, err := DecodeConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}

	provider, ok := r.providers[storageCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", storageCfg.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, storageCfg.Type, err)
	}
	return conn, nil
}
