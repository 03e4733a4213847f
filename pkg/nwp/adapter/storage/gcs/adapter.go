// Package gcs provides a Google Cloud Storage implementation of the storage
// adapter interfaces.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage"
	storageConfig "github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage/config"
	coreConfig "github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this GCS storage provider.
	ProviderType = "gcs"
)

// gcsAdapter implements the storage.StorageConnection interface backed by a
// Google Cloud Storage client.
type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

// Verify that gcsAdapter implements the storage.StorageConnection interface.
var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a new gcsAdapter instance. When a credentials file is
// configured it is used explicitly; otherwise the client falls back to
// application default credentials.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{
		client: client,
		cfg:    cfg,
		name:   name,
	}, nil
}

// Close releases the underlying GCS client.
func (a *gcsAdapter) Close() error {
	logger.Debugf("GCS storage adapter '%s' closed.", a.name)
	return a.client.Close()
}

// Type returns the type of the adapter, which is "gcs".
func (a *gcsAdapter) Type() string {
	return ProviderType
}

// Name returns the name of this connection.
func (a *gcsAdapter) Name() string {
	return a.name
}

// bucketName resolves the bucket for an operation, falling back to the
// configured default.
func (a *gcsAdapter) bucketName(bucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	if a.cfg.BucketName != "" {
		return a.cfg.BucketName, nil
	}
	return "", fmt.Errorf("no bucket specified and no default bucket configured for gcs adapter '%s'", a.name)
}

// Upload streams data into the specified object.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	bkt, err := a.bucketName(bucket)
	if err != nil {
		return err
	}

	w := a.client.Bucket(bkt).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object 'gs://%s/%s': %w", bkt, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object 'gs://%s/%s': %w", bkt, objectName, err)
	}
	logger.Debugf("Uploaded data to 'gs://%s/%s' (gcs adapter '%s').", bkt, objectName, a.name)
	return nil
}

// Download opens a reader over the specified object. The returned
// io.ReadCloser must be closed by the caller.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	bkt, err := a.bucketName(bucket)
	if err != nil {
		return nil, err
	}

	r, err := a.client.Bucket(bkt).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object 'gs://%s/%s': %w", bkt, objectName, err)
	}
	logger.Debugf("Downloaded data from 'gs://%s/%s' (gcs adapter '%s').", bkt, objectName, a.name)
	return r, nil
}

// ListObjects iterates the objects under the given prefix and calls `fn` for
// each object name.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bkt, err := a.bucketName(bucket)
	if err != nil {
		return err
	}

	prefix = strings.TrimPrefix(prefix, "/")
	it := a.client.Bucket(bkt).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list objects in 'gs://%s' with prefix '%s': %w", bkt, prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
	logger.Debugf("Listed objects in 'gs://%s' with prefix '%s' (gcs adapter '%s').", bkt, prefix, a.name)
	return nil
}

// DeleteObject deletes the specified object. A missing object is logged and
// ignored.
func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	bkt, err := a.bucketName(bucket)
	if err != nil {
		return err
	}

	if err := a.client.Bucket(bkt).Object(objectName).Delete(ctx); err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			logger.Warnf("Attempted to delete non-existent object 'gs://%s/%s' (gcs adapter '%s').", bkt, objectName, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete object 'gs://%s/%s': %w", bkt, objectName, err)
	}
	logger.Debugf("Deleted object 'gs://%s/%s' (gcs adapter '%s').", bkt, objectName, a.name)
	return nil
}

// GCSProvider implements the storage.StorageProvider interface for managing GCS connections.
type GCSProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.RWMutex
}

// NewGCSProvider creates a new GCSProvider instance.
func NewGCSProvider(cfg *coreConfig.Config) storageAdapter.StorageProvider {
	return &GCSProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

// GetConnection retrieves a StorageConnection by the given name.
// It creates a new connection if one does not already exist for the given name.
func (p *GCSProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring lock
	conn, ok = p.connections[name]
	if ok {
		return conn, nil
	}

	storageCfg, err := storageAdapter.DecodeConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
	}

	newConn, err := NewGCSAdapter(context.Background(), storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs adapter for '%s': %w", name, err)
	}

	p.connections[name] = newConn
	logger.Debugf("Created new gcs storage connection '%s'.", name)
	return newConn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close gcs storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing gcs storage connections: %v", errs)
	}
	logger.Debugf("All gcs storage connections closed.")
	return nil
}

// Type returns the type of resource handled by this provider, which is "gcs".
func (p *GCSProvider) Type() string {
	return ProviderType
}

// ForceReconnect forces the closure and re-establishment of an existing connection with the specified name.
func (p *GCSProvider) ForceReconnect(name string) (storageAdapter.StorageConnection, error) {
	p.mu.Lock()
	if conn, ok := p.connections[name]; ok {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to gracefully close gcs storage connection '%s' during force reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	p.mu.Unlock()

	logger.Debugf("Forcing reconnect for gcs storage connection '%s'.", name)
	return p.GetConnection(name)
}
