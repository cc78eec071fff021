package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/cube2222/udfbridge/largebinary"
)

// StorageEnvPrefix prefixes the environment variables the object store is configured with,
// e.g. STORAGE_S3_ENDPOINT or STORAGE_S3_AUTH_USERNAME.
const StorageEnvPrefix = "STORAGE_S3"

type StorageConfig struct {
	Minio   largebinary.MinioConfig
	Bucket  string
	TempDir string
	// Local keeps payloads in process memory instead of the object store.
	Local bool
}

// StorageConfig resolves the object store settings. The environment takes precedence over
// the pipeline file's storage section, which takes precedence over the defaults.
func (config *Config) StorageConfig() (StorageConfig, error) {
	defaults := largebinary.DefaultMinioConfig()

	v := viper.New()
	v.SetEnvPrefix(StorageEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, setting := range []struct {
		key   string
		value string
	}{
		{"endpoint", defaults.Endpoint},
		{"region", defaults.Region},
		{"auth.username", defaults.AccessKey},
		{"auth.password", defaults.SecretKey},
	} {
		value, err := GetString(config.Storage, "s3."+setting.key, WithDefault(setting.value))
		if err != nil {
			return StorageConfig{}, errors.Wrapf(err, "invalid storage setting s3.%s", setting.key)
		}
		v.SetDefault(setting.key, value)
	}

	partSizeMB, err := GetInt(config.Storage, "s3.partSizeMB", WithDefault(int(defaults.PartSize>>20)))
	if err != nil {
		return StorageConfig{}, errors.Wrap(err, "invalid storage setting s3.partSizeMB")
	}
	if partSizeMB <= 0 {
		return StorageConfig{}, errors.Errorf("storage part size must be positive, got %d", partSizeMB)
	}
	bucket, err := GetString(config.Storage, "bucket", WithDefault(largebinary.DefaultBucket))
	if err != nil {
		return StorageConfig{}, errors.Wrap(err, "invalid storage setting bucket")
	}
	tempDir, err := GetString(config.Storage, "tempDir", WithDefault(""))
	if err != nil {
		return StorageConfig{}, errors.Wrap(err, "invalid storage setting tempDir")
	}
	if tempDir != "" {
		if tempDir, err = config.resolve(tempDir); err != nil {
			return StorageConfig{}, err
		}
	}
	local, err := GetBool(config.Storage, "local", WithDefault(false))
	if err != nil {
		return StorageConfig{}, errors.Wrap(err, "invalid storage setting local")
	}

	return StorageConfig{
		Minio: largebinary.MinioConfig{
			Endpoint:  v.GetString("endpoint"),
			Region:    v.GetString("region"),
			AccessKey: v.GetString("auth.username"),
			SecretKey: v.GetString("auth.password"),
			PartSize:  uint64(partSizeMB) << 20,
		},
		Bucket:  bucket,
		TempDir: tempDir,
		Local:   local,
	}, nil
}

// OpenStore creates the large binary store the operators share.
func (cfg StorageConfig) OpenStore() (*largebinary.ObjectStore, error) {
	opts := largebinary.Options{
		Bucket:  cfg.Bucket,
		TempDir: cfg.TempDir,
	}
	if cfg.Local {
		return largebinary.NewObjectStore(largebinary.NewMemoryBackend(), opts), nil
	}
	backend, err := largebinary.NewMinioBackend(cfg.Minio)
	if err != nil {
		return nil, err
	}
	return largebinary.NewObjectStore(backend, opts), nil
}
