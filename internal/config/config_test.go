package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "node_id: engine-1\n"))
	require.NoError(t, err)

	assert.Equal(t, "engine-1", cfg.NodeID)
	assert.Equal(t, ":8080", cfg.HttpListenAddr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 2*time.Hour, cfg.OfferTTL)
	assert.Equal(t, time.Hour, cfg.ReminderAfter)
	assert.Equal(t, 14, cfg.LookbackDays)
	assert.Equal(t, "@every 30s", cfg.SweepSchedule)
	assert.Equal(t, 3, cfg.DeliveryAttempts)
	assert.Equal(t, 2*time.Second, cfg.DeliveryBackoff)
}

func TestLoadFile_Directory(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
timezone: Europe/London
candidates:
  - id: smith
    name: Dr Smith
    experience_level: 3
  - id: jones
    name: Dr Jones
    active: false
    active_days: [Sat, sunday]
workload_samples:
  - candidate_id: smith
    date: "2026-03-02"
    hours: 9
`))
	require.NoError(t, err)

	candidates, err := cfg.StaticCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.True(t, candidates[0].Active)
	assert.Len(t, candidates[0].ActiveDays, 5)
	assert.False(t, candidates[1].Active)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, candidates[1].ActiveDays)

	samples, err := cfg.StaticWorkloadSamples()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "Europe/London", samples[0].Date.Location().String())
	assert.Equal(t, 9.0, samples[0].Hours)
}

func TestLoadFile_Invalid(t *testing.T) {
	// Integration runs export these; empty values count as unset.
	for _, key := range []string{"POSTGRES_DSN", "ETCD_ENDPOINTS", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}
	tests := map[string]string{
		"UnknownStore":      "store_backend: sqlite\n",
		"PostgresNoDSN":     "store_backend: postgres\n",
		"EtcdNoEndpoints":   "store_backend: etcd\n",
		"BadSchedule":       "sweep_schedule: every now and then\n",
		"BadTimezone":       "timezone: Mars/Olympus\n",
		"ZeroTTL":           "offer_ttl: 0s\n",
		"BadWeekday":        "candidates: [{id: a, name: A, active_days: [someday]}]\n",
		"BadSampleDate":     "workload_samples: [{candidate_id: a, date: 03/02/2026, hours: 1}]\n",
		"RedisOutboxNoAddr": "outbox_backend: redis\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"mon": time.Monday, "Tuesday": time.Tuesday, " SAT ": time.Saturday,
	} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseWeekday("funday")
	assert.Error(t, err)
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://engine:secret@db:5432/offers")
	t.Setenv("WEBHOOK_URL", "http://hooks.local/notify")
	t.Setenv("ETCD_ENDPOINTS", "etcd-1:2379,etcd-2:2379")
	t.Setenv("NODE_ID", "engine-7")
	t.Setenv("OFFER_TTL", "45m")

	cfg, err := LoadFile(writeConfig(t, "store_backend: postgres\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://engine:secret@db:5432/offers", cfg.PostgresDSN)
	assert.Equal(t, "http://hooks.local/notify", cfg.WebhookURL)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, "engine-7", cfg.NodeID)
	assert.Equal(t, 45*time.Minute, cfg.OfferTTL)
}

func TestStaticCandidates_ExplicitEmptyActiveDays(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
candidates:
  - id: smith
    name: Dr Smith
    active_days: []
  - id: jones
    name: Dr Jones
`))
	require.NoError(t, err)

	candidates, err := cfg.StaticCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Empty(t, candidates[0].ActiveDays)
	assert.Len(t, candidates[1].ActiveDays, 5)
}
