package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("cache TTL default = %v", cfg.CacheTTL)
	}
	if cfg.AuditBatchSize != 100 {
		t.Errorf("batch size default = %d", cfg.AuditBatchSize)
	}
	if cfg.MaxPayloadBytes != 1<<20 {
		t.Errorf("payload budget default = %d", cfg.MaxPayloadBytes)
	}
	if !cfg.RateLimitFailOpen {
		t.Error("graceful degradation must default on")
	}
	if cfg.DefaultAction != "deny" {
		t.Errorf("default action = %s", cfg.DefaultAction)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("AUDIT_BATCH_SIZE", "250")
	cfg := Load()
	if cfg.CacheTTL != 90*time.Second {
		t.Errorf("CACHE_TTL override ignored: %v", cfg.CacheTTL)
	}
	if cfg.AuditBatchSize != 250 {
		t.Errorf("AUDIT_BATCH_SIZE override ignored: %d", cfg.AuditBatchSize)
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := `
tiers:
  free:
    per_second: 5
    per_minute: 50
    per_hour: 500
  unlimited:
    per_second: -1
    per_minute: -1
    per_hour: -1
tenant_tiers:
  tenant-a: free
escalation_rules:
  - id: esc-limit
    type: action_type
    action_type: limit
    escalate_to: ops
    timeout: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Tiers["free"].PerMinute != 50 {
		t.Errorf("free per-minute = %d", p.Tiers["free"].PerMinute)
	}
	if p.TenantTiers["tenant-a"] != "free" {
		t.Error("tenant tier binding missing")
	}
	if len(p.EscalationRules) != 1 || p.EscalationRules[0].Timeout.Std() != 5*time.Minute {
		t.Errorf("escalation rule not parsed: %+v", p.EscalationRules)
	}
}

func TestLoadProfileRejectsZeroLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("tiers:\n  broken:\n    per_second: 0\n    per_minute: 10\n    per_hour: 10\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Error("zero limit must be rejected")
	}
}
