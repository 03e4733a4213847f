package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage (e.g., "gcs", "local").
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	ProjectID       string `yaml:"project_id"`       // Cloud project owning the bucket (GCS).
	CredentialsFile string `yaml:"credentials_file"` // Path to credentials file (e.g., service account key for GCS).
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
}

// DatasourcesConfig holds a map of named storage configurations.
type DatasourcesConfig map[string]StorageConfig
