package engineconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "testdata/does-not-exist.yaml")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "policy_store", cfg.Store.Dir)
	assert.Equal(t, 10, cfg.Remote.TimeoutSeconds)
	assert.Equal(t, "sqlite3", cfg.Audit.Driver)
	assert.Equal(t, "critical", cfg.Messaging.AlertSeverityThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "testdata/does-not-exist.yaml")
	t.Setenv("POLICY_REMOTE_BASE_URL", "https://policy.example.internal")
	t.Setenv("POLICY_STORE_DIR", "/var/lib/policy-engine")
	t.Setenv("STALENESS_CACHE_ENABLED", "true")
	t.Setenv("AUDIT_DRIVER", "postgres")
	t.Setenv("ALERT_SEVERITY_THRESHOLD", "warning")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://policy.example.internal", cfg.Remote.BaseURL)
	assert.Equal(t, "/var/lib/policy-engine", cfg.Store.Dir)
	assert.True(t, cfg.Staleness.Enabled)
	assert.Equal(t, "postgres", cfg.Audit.Driver)
	assert.Equal(t, "warning", cfg.Messaging.AlertSeverityThreshold)
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{"true": true, "YES": true, "0": false, "off": false, "": false}
	for in, want := range cases {
		assert.Equal(t, want, ParseBool(in), in)
	}
}

func TestRemoteTimeoutAndStalenessTTLDurations(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, int64(10), cfg.RemoteTimeout().Nanoseconds()/1e9)
	assert.Equal(t, int64(300), cfg.StalenessTTL().Nanoseconds()/1e9)
}
