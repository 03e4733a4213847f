// Package storage defines the common interfaces for storage adapters.
// These interfaces abstract object storage operations, allowing the export
// components to push converted output to different backends (e.g., GCS,
// local file system) through a unified API.
package storage

import (
	"context"
	"io"

	"go.uber.org/fx"
)

// StorageExecutor defines generic storage operations.
// It is embedded into StorageConnection to provide concrete storage functionalities.
type StorageExecutor interface {
	// Upload uploads data to the specified bucket and object name.
	// 'data' is the stream of data to upload. 'contentType' is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download downloads data from the specified bucket and object name.
	// It returns a ReadCloser which must be closed by the caller after use.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects lists objects within the specified bucket and prefix.
	// The 'fn' callback function is called for each object name found, allowing for
	// efficient processing of large numbers of objects without loading all into memory.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object from the bucket.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection represents a generic storage connection.
type StorageConnection interface {
	StorageExecutor

	// Close releases the resources held by the connection.
	Close() error
	// Type returns the backend type of the connection (e.g., "local", "gcs").
	Type() string
	// Name returns the configured name of this connection.
	Name() string
}

// StorageProvider manages the acquisition and lifecycle of storage connections
// of one backend type.
type StorageProvider interface {
	// GetConnection retrieves a StorageConnection with the specified name.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the backend type handled by this provider.
	Type() string
	// ForceReconnect forces the closure and re-establishment of an existing connection with the specified name.
	ForceReconnect(name string) (StorageConnection, error)
}

// StorageConnectionResolver resolves storage connection instances from the
// named entries of the adapter configuration.
type StorageConnectionResolver interface {
	// ResolveStorageConnection resolves a StorageConnection instance by name.
	// The returned connection is valid and re-established if necessary.
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// ProvidersParams collects every registered storage provider from the Fx graph.
type ProvidersParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
}

// NewStorageProviders assembles the registered providers into a map keyed by
// backend type, for use by connection resolvers.
func NewStorageProviders(p ProvidersParams) map[string]StorageProvider {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return providers
}

// Module provides the provider map and the connection resolver to Fx.
var Module = fx.Options(
	fx.Provide(NewStorageProviders),
	fx.Provide(NewStorageConnectionResolver),
)
