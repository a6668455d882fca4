package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "output_dir": "out", "public_base_url": "https://pdf.example.com/"},
		"registry": {"backend": "sqlite"},
		"databases": {"sqlite3": {"dsn": "data/registry.db"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("PUBLIC_ASSET_TTL_SECONDS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("server address = %q", cfg.BasicConfig.ServerAddress)
	}
	if want := filepath.Join(dir, "out"); cfg.BasicConfig.OutputDir != want {
		t.Fatalf("output dir = %q, want %q", cfg.BasicConfig.OutputDir, want)
	}
	if want := filepath.Join(dir, "data/registry.db"); cfg.Databases["sqlite3"].DSN != want {
		t.Fatalf("sqlite dsn = %q, want %q", cfg.Databases["sqlite3"].DSN, want)
	}
	if cfg.Registry.Backend != "sqlite3" {
		t.Fatalf("backend = %q", cfg.Registry.Backend)
	}
	if cfg.BasicConfig.PublicBaseURL != "https://pdf.example.com" {
		t.Fatalf("public base url not trimmed: %q", cfg.BasicConfig.PublicBaseURL)
	}
	if cfg.BasicConfig.AssetTTLSeconds != DefaultAssetTTLSeconds {
		t.Fatalf("ttl default = %d", cfg.BasicConfig.AssetTTLSeconds)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "basic_config:\n  asset_ttl_seconds: 120\nrender:\n  default_dpi: 150\nregistry:\n  backend: file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PUBLIC_ASSET_TTL_SECONDS", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.AssetTTLSeconds != 120 || cfg.Render.DefaultDPI != 150 || cfg.Registry.Backend != "file" {
		t.Fatalf("unexpected yaml config: %+v", cfg)
	}
}

func TestLoadMissingDefaultUsesEnv(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	t.Setenv("PUBLIC_BASE_URL", "http://localhost:5000/")
	t.Setenv("PUBLIC_ASSET_TTL_SECONDS", "30")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.PublicBaseURL != "http://localhost:5000" {
		t.Fatalf("public base url = %q", cfg.BasicConfig.PublicBaseURL)
	}
	if cfg.BasicConfig.AssetTTLSeconds != 30 {
		t.Fatalf("ttl = %d", cfg.BasicConfig.AssetTTLSeconds)
	}
	if cfg.Render.DefaultDPI != DefaultRenderDPI || cfg.Converter.Binary != "pdftohtml" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadTTL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PUBLIC_ASSET_TTL_SECONDS", "soon")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-numeric ttl")
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for explicit missing config")
	}
}

func TestValidateRequiresDatabase(t *testing.T) {
	cfg := Default()
	cfg.Registry.Backend = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected mysql backend without databases.mysql to fail")
	}
}

func TestValidateDefaultDPIWithinMax(t *testing.T) {
	cfg := Default()
	if cfg.Render.MaxDPI != DefaultMaxRenderDPI {
		t.Fatalf("max dpi default = %d", cfg.Render.MaxDPI)
	}
	cfg.Render.DefaultDPI = cfg.Render.MaxDPI + 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected default_dpi above max_dpi to fail")
	}
}

func TestRemotePDFEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"remote_pdf": {"max_size_mb": 5}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MAX_REMOTE_PDF_SIZE_MB", "")
	t.Setenv("REMOTE_PDF_TIMEOUT_SECONDS", "10")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemotePDF.MaxSizeMB != 5 || cfg.RemotePDF.TimeoutSeconds != 10 {
		t.Fatalf("unexpected remote pdf config: %+v", cfg.RemotePDF)
	}

	t.Setenv("MAX_REMOTE_PDF_SIZE_MB", "-1")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for negative MAX_REMOTE_PDF_SIZE_MB")
	}
}
