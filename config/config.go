package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  serverConfig  `yaml:"server"`
	Batch   batchConfig   `yaml:"batch"`
	Query   queryConfig   `yaml:"query"`
	Spatial spatialConfig `yaml:"spatial"`
	Secrets secretsConfig `yaml:"-"`
}
type serverConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	Timeout int    `yaml:"timeout"`
}
type batchConfig struct {
	Size          int `yaml:"size"`
	MaxFileSizeMB int `yaml:"max_file_size_mb"` // max size of a single dataset file
}
type queryConfig struct {
	// should results be cached? if so how long
	EnableCache     bool `yaml:"enable_cache"`
	CacheTTLSeconds int  `yaml:"cache_ttl_seconds"`
}
type spatialConfig struct {
	// quadratic nested loop join instead of the r-tree join
	UseBaselineAlgorithm bool `yaml:"use_baseline_algorithm"`
	// upper bound on the memory a single join invocation may allocate
	MemoryLimitBytes uint64 `yaml:"memory_limit_bytes"`
}

// secretsConfig holds the object store credentials for remote dataset
// sources. Never part of the yaml file, always read from the environment.
type secretsConfig struct {
	AccessKey   string
	SecretKey   string
	EndpointURL string
	BucketName  string
	UseSSL      bool
}

var configInstance *Config = &Config{
	Server: serverConfig{
		Port:    8080,
		Host:    "localhost",
		Timeout: 30,
	},
	Batch: batchConfig{
		Size:          1024 * 8, // rows per batch
		MaxFileSizeMB: 500,
	},
	Query: queryConfig{
		EnableCache:     true,
		CacheTTLSeconds: 600, // 10 minutes
	},
	Spatial: spatialConfig{
		UseBaselineAlgorithm: false,
		MemoryLimitBytes:     100000000, // 100MB per join invocation
	},
}

func GetConfig() *Config {
	return configInstance
}

// LoadSecrets reads the object store credentials from the environment,
// loading a .env file first if one is present. TLS is on unless
// OBJECT_STORE_USE_SSL is explicitly set to false.
func LoadSecrets() {
	_ = godotenv.Load()
	configInstance.Secrets = secretsConfig{
		AccessKey:   os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		SecretKey:   os.Getenv("OBJECT_STORE_SECRET_KEY"),
		EndpointURL: os.Getenv("OBJECT_STORE_ENDPOINT"),
		BucketName:  os.Getenv("OBJECT_STORE_BUCKET"),
		UseSSL:      os.Getenv("OBJECT_STORE_USE_SSL") != "false",
	}
}

// overwrite global instance with loaded config
func Decode(filePath string) error {
	suffix := strings.Split(filePath, ".")[len(strings.Split(filePath, "."))-1]
	if suffix != "yaml" && suffix != "yml" {
		return errors.New("file must be a .yaml or .yml file")
	}
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer r.Close()
	config := make(map[string]interface{})
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	mergeConfig(configInstance, config)
	return nil
}
func mergeConfig(dst *Config, src map[string]interface{}) {
	// =============================
	// SERVER
	// =============================
	if server, ok := src["server"].(map[string]interface{}); ok {
		if v, ok := server["port"].(int); ok {
			dst.Server.Port = v
		}
		if v, ok := server["host"].(string); ok {
			dst.Server.Host = v
		}
		if v, ok := server["timeout"].(int); ok {
			dst.Server.Timeout = v
		}
	}

	// =============================
	// BATCH
	// =============================
	if batch, ok := src["batch"].(map[string]interface{}); ok {
		if v, ok := batch["size"].(int); ok {
			dst.Batch.Size = v
		}
		if v, ok := batch["max_file_size_mb"].(int); ok {
			dst.Batch.MaxFileSizeMB = v
		}
	}

	// =============================
	// QUERY
	// =============================
	if query, ok := src["query"].(map[string]interface{}); ok {
		if v, ok := query["enable_cache"].(bool); ok {
			dst.Query.EnableCache = v
		}
		if v, ok := query["cache_ttl_seconds"].(int); ok {
			dst.Query.CacheTTLSeconds = v
		}
	}

	// =============================
	// SPATIAL
	// =============================
	if spatial, ok := src["spatial"].(map[string]interface{}); ok {
		if v, ok := spatial["use_baseline_algorithm"].(bool); ok {
			dst.Spatial.UseBaselineAlgorithm = v
		}
		if v, ok := spatial["memory_limit_bytes"].(int); ok {
			dst.Spatial.MemoryLimitBytes = uint64(v)
		}
	}
}
