package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := GetConfig()
	if cfg.Spatial.MemoryLimitBytes == 0 {
		t.Fatal("default spatial memory limit is zero")
	}
	if cfg.Spatial.UseBaselineAlgorithm {
		t.Fatal("the baseline algorithm must not be the default")
	}
	if !cfg.Query.EnableCache || cfg.Query.CacheTTLSeconds == 0 {
		t.Fatal("caching defaults are off")
	}
	if cfg.Batch.Size == 0 {
		t.Fatal("default batch size is zero")
	}
}

func TestLoadSecrets(t *testing.T) {
	defer func() { configInstance.Secrets = secretsConfig{} }()

	t.Setenv("OBJECT_STORE_ACCESS_KEY", "ak")
	t.Setenv("OBJECT_STORE_SECRET_KEY", "sk")
	t.Setenv("OBJECT_STORE_ENDPOINT", "store.example.com:9000")
	t.Setenv("OBJECT_STORE_BUCKET", "datasets")
	t.Setenv("OBJECT_STORE_USE_SSL", "")

	LoadSecrets()
	s := GetConfig().Secrets
	if s.AccessKey != "ak" || s.SecretKey != "sk" {
		t.Fatalf("credentials not loaded: %+v", s)
	}
	if s.EndpointURL != "store.example.com:9000" || s.BucketName != "datasets" {
		t.Fatalf("endpoint not loaded: %+v", s)
	}
	// TLS stays on unless explicitly switched off
	if !s.UseSSL {
		t.Fatal("UseSSL defaulted to off")
	}
	t.Setenv("OBJECT_STORE_USE_SSL", "false")
	LoadSecrets()
	if GetConfig().Secrets.UseSSL {
		t.Fatal("OBJECT_STORE_USE_SSL=false was ignored")
	}
}

func TestDecodeRejectsNonYaml(t *testing.T) {
	if err := Decode("config.json"); err == nil {
		t.Fatal("non-yaml file was accepted")
	}
	if err := Decode("missing.yaml"); err == nil {
		t.Fatal("missing file was accepted")
	}
}

func TestDecodeMergesIntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := "spatial:\n" +
		"  use_baseline_algorithm: true\n" +
		"  memory_limit_bytes: 4096\n" +
		"query:\n" +
		"  enable_cache: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	before := *GetConfig()
	defer func() { *configInstance = before }()

	if err := Decode(path); err != nil {
		t.Fatal(err)
	}
	cfg := GetConfig()
	if !cfg.Spatial.UseBaselineAlgorithm {
		t.Fatal("use_baseline_algorithm was not merged")
	}
	if cfg.Spatial.MemoryLimitBytes != 4096 {
		t.Fatalf("memory_limit_bytes = %d", cfg.Spatial.MemoryLimitBytes)
	}
	if cfg.Query.EnableCache {
		t.Fatal("enable_cache was not merged")
	}
	// untouched sections keep their defaults
	if cfg.Server.Port != before.Server.Port {
		t.Fatal("decoding touched an unrelated section")
	}
}
