package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amon-master.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8081,
		"directoryUrl": "ldap://ufds.example.com",
		"directoryBindDn": "cn=root",
		"directoryPassword": "secret",
		"redisHost": "kv.example.com",
		"redisDb": 1,
		"adminUuid": "11111111-1111-4111-8111-111111111111",
		"caches": {"UserGet": {"size": 500, "ttl": 60}},
		"notificationPlugins": [
			{"name": "email", "kind": "email", "config": {"smtpHost": "mail", "from": "amon@example.com"}}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8081 || cfg.RedisHost != "kv.example.com" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cc := cfg.Cache("UserGet"); cc.Size != 500 || cc.TTL() != time.Minute {
		t.Fatalf("UserGet cache = %+v", cc)
	}
	// Unnamed caches fall back to defaults.
	if cc := cfg.Cache("ProbeList"); cc.Size != 1000 || cc.TTL() != 5*time.Minute {
		t.Fatalf("default cache = %+v", cc)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"directoryUrl": "ldap://ufds.example.com"}`)
	t.Setenv("AMON_PORT", "9090")
	t.Setenv("AMON_CACHES_DISABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("port = %d, want env override 9090", cfg.Port)
	}
	if !cfg.CachesDisabled {
		t.Fatal("caches disabled sentinel not applied")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []string{
		`{}`,
		`{"directoryUrl": "ldap://x", "port": -1}`,
		`{"directoryUrl": "ldap://x", "adminUuid": "nope"}`,
		`{"directoryUrl": "ldap://x", "notificationPlugins": [{"name": "p", "kind": "pigeon"}]}`,
		`{"directoryUrl": "ldap://x", "notificationPlugins": [{"kind": "email"}]}`,
	}
	for _, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("config %s accepted", content)
		}
	}
}
