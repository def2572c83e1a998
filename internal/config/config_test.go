package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.BusinessName = "Acme Clinic"
	cfg.Pipeline.GroupWaitSeconds = 2
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.General.BusinessName != "Acme Clinic" {
		t.Errorf("expected business name, got %q", loaded.General.BusinessName)
	}
	if loaded.Pipeline.GroupWaitSeconds != 2 {
		t.Errorf("expected groupWaitSeconds=2, got %d", loaded.Pipeline.GroupWaitSeconds)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("RELAYBOT_TEST_VAR", "secret-123")
	defer os.Unsetenv("RELAYBOT_TEST_VAR")

	got := ExpandEnvVars(`{"apiKey":"${RELAYBOT_TEST_VAR}"}`)
	if got != `{"apiKey":"secret-123"}` {
		t.Errorf("unexpected expansion: %s", got)
	}

	got = ExpandEnvVars(`${RELAYBOT_UNSET_VAR:-fallback}`)
	if got != "fallback" {
		t.Errorf("expected fallback default, got %s", got)
	}

	got = ExpandEnvVars(`${RELAYBOT_UNSET_VAR}`)
	if got != "${RELAYBOT_UNSET_VAR}" {
		t.Errorf("unset var without default should stay literal, got %s", got)
	}
}

func TestLoad_EnvSecretsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.WhatsApp.AccessToken = "from-file"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	os.Setenv("WHATSAPP_ACCESS_TOKEN", "from-env")
	defer os.Unsetenv("WHATSAPP_ACCESS_TOKEN")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.WhatsApp.AccessToken != "from-env" {
		t.Errorf("env var should win, got %q", loaded.WhatsApp.AccessToken)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 99999 }},
		{"bad webhook path", func(c *Config) { c.Server.WebhookPath = "webhook" }},
		{"zero dedup ttl", func(c *Config) { c.Pipeline.DedupTTLSeconds = 0 }},
		{"max wait below wait", func(c *Config) {
			c.Pipeline.GroupWaitSeconds = 5
			c.Pipeline.GroupMaxWaitSeconds = 3
		}},
		{"too many attempts", func(c *Config) { c.Delivery.MaxAttempts = 50 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
