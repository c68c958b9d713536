package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/tasklink/internal/tasks"
	pkgconfig "github.com/starford/tasklink/pkg/config"
)

func TestAuthConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      AuthConfig
		wantErr  string
		wantMode string
		enabled  bool
	}{
		{name: "disabled", cfg: AuthConfig{Mode: "disabled"}, wantMode: AuthModeDisabled},
		{name: "empty defaults to disabled", cfg: AuthConfig{}, wantMode: AuthModeDisabled},
		{name: "token", cfg: AuthConfig{Mode: "token", Token: "mysecret"}, wantMode: AuthModeToken, enabled: true},
		{name: "token without value", cfg: AuthConfig{Mode: "token"}, wantErr: "token is empty"},
		{name: "unknown mode", cfg: AuthConfig{Mode: "magic", Token: "x"}, wantErr: "Mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(): %v", err)
			}
			if tt.cfg.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", tt.cfg.Mode, tt.wantMode)
			}
			if tt.cfg.AuthEnabled() != tt.enabled {
				t.Errorf("AuthEnabled() = %v, want %v", tt.cfg.AuthEnabled(), tt.enabled)
			}
		})
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.App.LogFile.Enabled() {
		t.Error("log file should be off by default")
	}
	w := cfg.Watch.Watcher()
	if w.QuerySuffix != ".query.yaml" || w.Debounce != 2*time.Second || w.RescanInterval != 5*time.Minute {
		t.Errorf("watcher config = %+v", w)
	}
}

func TestFullConfig_SectionErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"auth", func(c *Config) { c.Auth.Mode, c.Auth.Token = "token", "" }, "token is empty"},
		{"port", func(c *Config) { c.App.HTTP.Port = 70000 }, "Port"},
		{"blank origin", func(c *Config) { c.App.HTTP.AllowedOrigins = []string{""} }, "AllowedOrigins"},
		{"log backups", func(c *Config) { c.App.LogFile.MaxBackups = -1 }, "log_file"},
		{"tasks folder", func(c *Config) { c.Tasks.Folder = "" }, "tasks"},
		{"tasks method", func(c *Config) { c.Tasks.Identification.Method = "label" }, "identification"},
		{"debounce", func(c *Config) { c.Watch.Debounce = 0 }, "watch"},
		{"suffix", func(c *Config) { c.Watch.QuerySuffix = "" }, "watch"},
		{"rescan", func(c *Config) { c.Watch.RescanInterval = time.Millisecond }, "watch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_YAMLOverDefaults(t *testing.T) {
	t.Setenv("TASKLINK_TEST_TOKEN", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `app:
  log_level: debug
  http:
    port: 9090
    allowed_origins: ["localhost:*"]
auth:
  mode: token
  token: ${TASKLINK_TEST_TOKEN}
vault:
  path: ${TASKLINK_TEST_VAULT:-/srv/vault}
tasks:
  folder: Inbox/Tasks
  identification:
    method: property
    property_name: isTask
    property_value: "true"
watch:
  debounce: 750ms
  startup_delay: 0s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Errorf("token = %q", cfg.Auth.Token)
	}
	if cfg.Vault.Path != "/srv/vault" {
		t.Errorf("vault = %q", cfg.Vault.Path)
	}
	if cfg.Tasks.Identification.Method != tasks.MethodProperty || cfg.Tasks.Folder != "Inbox/Tasks" {
		t.Errorf("tasks = %+v", cfg.Tasks)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Tasks.Fields.Status != "status" || cfg.Watch.QuerySuffix != ".query.yaml" {
		t.Errorf("defaults lost: fields=%+v watch=%+v", cfg.Tasks.Fields, cfg.Watch)
	}
	if cfg.Watch.Debounce != 750*time.Millisecond || cfg.Watch.StartupDelay != 0 {
		t.Errorf("watch = %+v", cfg.Watch)
	}
}
